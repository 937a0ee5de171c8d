package layers

import (
	"testing"

	"mnas_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduled(t *testing.T, stop float64, numSteps int, step *uint64) *DropBlockScheduled {
	t.Helper()
	unit, err := NewDropBlock2D(stop, 7)
	require.NoError(t, err)
	sched, err := NewDropBlockScheduled(unit, 0, stop, numSteps, step)
	require.NoError(t, err)
	return sched
}

func TestDropBlockScheduled_LinearRamp(t *testing.T) {
	var step uint64
	sched := newScheduled(t, 0.4, 100, &step)

	assert.Equal(t, 0.0, sched.ProbAt(0))
	assert.InDelta(t, 0.2, sched.ProbAt(50), 1e-12)
	assert.Equal(t, 0.4, sched.ProbAt(100))
	assert.Equal(t, 0.4, sched.ProbAt(100000), "clamped beyond the schedule")
}

func TestDropBlockScheduled_Monotonic(t *testing.T) {
	var step uint64
	sched := newScheduled(t, 0.25, 137, &step)

	prev := sched.ProbAt(0)
	for s := uint64(1); s <= 300; s++ {
		p := sched.ProbAt(s)
		assert.GreaterOrEqual(t, p, prev, "probability must not decrease with step")
		prev = p
	}
	assert.Equal(t, 0.25, prev)
}

func TestDropBlockScheduled_ZeroSteps(t *testing.T) {
	var step uint64
	sched := newScheduled(t, 0.3, 0, &step)
	assert.Equal(t, 0.3, sched.ProbAt(0))
}

func TestDropBlockScheduled_SharedCounter(t *testing.T) {
	var step uint64
	a := newScheduled(t, 0.4, 100, &step)
	b := newScheduled(t, 0.4, 100, &step)

	step = 25
	assert.Equal(t, a.DropProb(), b.DropProb())
	assert.InDelta(t, 0.1, a.DropProb(), 1e-12)
}

func TestDropBlockScheduled_InferenceIdentity(t *testing.T) {
	step := uint64(1 << 20) // deep into the schedule
	sched := newScheduled(t, 0.9, 10, &step)
	sched.SetTraining(false)

	input := tensor.New(4, 8, 8)
	for i := range input.Data {
		input.Data[i] = float64(i)
	}
	out, err := sched.Forward(input)
	require.NoError(t, err)
	assert.Same(t, input, out, "inference mode must be the identity")
}

func TestDropBlockScheduled_TrainingZeroProbIdentity(t *testing.T) {
	var step uint64
	sched := newScheduled(t, 0, 100, &step)
	sched.SetTraining(true)
	step = 50

	input := tensor.New(1, 8, 8)
	out, err := sched.Forward(input)
	require.NoError(t, err)
	assert.Same(t, input, out)
}

func TestDropBlock2D_MasksAndRescales(t *testing.T) {
	unit, err := NewDropBlock2D(0.5, 1)
	require.NoError(t, err)
	unit.Reseed(1)
	unit.SetTraining(true)

	input := tensor.New(1, 8, 8)
	for i := range input.Data {
		input.Data[i] = 1
	}

	out, err := unit.Forward(input)
	require.NoError(t, err)

	zeros := 0
	sum := 0.0
	for _, v := range out.Data {
		if v == 0 {
			zeros++
		}
		sum += v
	}
	assert.Greater(t, zeros, 0, "expected some units dropped at p=0.5")
	assert.Less(t, zeros, 64, "expected some units kept at p=0.5")
	assert.InDelta(t, 64, sum, 1e-9, "rescaling preserves the activation sum")
}

func TestDropBlock2D_InvalidConstruction(t *testing.T) {
	_, err := NewDropBlock2D(1.0, 7)
	assert.Error(t, err)

	_, err = NewDropBlock2D(0.1, 0)
	assert.Error(t, err)

	unit, err := NewDropBlock2D(0.1, 7)
	require.NoError(t, err)
	_, err = NewDropBlockScheduled(unit, 0, 0.1, 100, nil)
	assert.Error(t, err, "binding requires a step counter")
}

func TestDropout_InferenceIdentity(t *testing.T) {
	d, err := NewDropout(0.5)
	require.NoError(t, err)

	input := tensor.NewWithData([]float64{1, 2, 3})
	out, err := d.Forward(input)
	require.NoError(t, err)
	assert.Same(t, input, out)
}

func TestDropout_TrainingMasks(t *testing.T) {
	d, err := NewDropout(0.5)
	require.NoError(t, err)
	d.Reseed(7)
	d.SetTraining(true)

	input := tensor.New(1000)
	for i := range input.Data {
		input.Data[i] = 1
	}
	out, err := d.Forward(input)
	require.NoError(t, err)

	zeros := 0
	for _, v := range out.Data {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v, "survivors rescaled by 1/(1-p)")
		}
	}
	assert.Greater(t, zeros, 300)
	assert.Less(t, zeros, 700)
}

func TestDropout_InvalidRate(t *testing.T) {
	_, err := NewDropout(1.0)
	assert.Error(t, err)
	_, err = NewDropout(-0.1)
	assert.Error(t, err)
}
