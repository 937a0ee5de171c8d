package layers

import (
	"testing"

	"mnas_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_Vector(t *testing.T) {
	l := NewLinear(3, 2)
	copy(l.W.Data, []float64{
		1, 0, 0,
		0, 1, 1,
	})
	l.B.Data[1] = 10

	out, err := l.Forward(tensor.NewWithData([]float64{2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, out.Shape)
	assert.Equal(t, []float64{2, 17}, out.Data)
}

func TestLinear_Batch(t *testing.T) {
	l := NewLinear(2, 2)
	copy(l.W.Data, []float64{
		1, 1,
		1, -1,
	})

	input := tensor.New(2, 2)
	copy(input.Data, []float64{1, 2, 3, 4})

	out, err := l.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
	assert.Equal(t, []float64{3, -1, 7, -1}, out.Data)
}

func TestLinear_WrongFeatureCount(t *testing.T) {
	l := NewLinear(4, 2)

	_, err := l.Forward(tensor.New(3))
	assert.Error(t, err)

	_, err = l.Forward(tensor.New(2, 2, 2))
	assert.Error(t, err)
}
