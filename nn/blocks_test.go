package nn

import (
	"math/rand"
	"testing"

	"mnas_lib/nn/layers"
	"mnas_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relu6 = layers.ActConfig{Kind: layers.ReLU6}

func TestConv3x3Builder(t *testing.T) {
	blk, err := NewConv3x3(3, 8, 2, relu6)
	require.NoError(t, err)
	assert.Len(t, blk.Layers, 3)
	assert.Equal(t, []int{8, 16, 16}, blk.OutShape([]int{3, 32, 32}))
}

func TestSepConv3x3Builder(t *testing.T) {
	blk, err := NewSepConv3x3(8, 16, relu6)
	require.NoError(t, err)
	require.Len(t, blk.Layers, 5)
	assert.Equal(t, []int{16, 32, 32}, blk.OutShape([]int{8, 32, 32}))

	// linear bottleneck: the chain ends on normalization, not activation
	_, ok := blk.Layers[4].(*layers.BatchNorm2D)
	assert.True(t, ok)
}

func TestInvertedResidual_ShortcutRule(t *testing.T) {
	cases := []struct {
		in, out, stride int
		want            bool
	}{
		{16, 16, 1, true},
		{16, 24, 1, false},
		{16, 16, 2, false},
		{16, 24, 2, false},
	}
	var step uint64
	for _, c := range cases {
		cfg := BlockConfig{InChannels: c.in, OutChannels: c.out, Stride: c.stride, Expansion: 3, Kernel: 3}
		blk, err := NewInvertedResidual(cfg, 1000, relu6, &step)
		require.NoError(t, err)
		assert.Equalf(t, c.want, blk.UseShortcut(), "in=%d out=%d stride=%d", c.in, c.out, c.stride)
		assert.Equal(t, c.want, blk.SkipDrop != nil, "skip tap exists iff the shortcut does")
	}
}

func TestInvertedResidual_BadConfig(t *testing.T) {
	var step uint64

	cfg := BlockConfig{InChannels: 16, OutChannels: 16, Stride: 3, Expansion: 3, Kernel: 3}
	_, err := NewInvertedResidual(cfg, 1000, relu6, &step)
	assert.Error(t, err, "stride outside {1,2}")

	cfg = BlockConfig{InChannels: 16, OutChannels: 16, Stride: 1, Expansion: 0, Kernel: 3}
	_, err = NewInvertedResidual(cfg, 1000, relu6, &step)
	assert.Error(t, err, "expansion below 1")

	cfg = BlockConfig{InChannels: 16, OutChannels: 16, Stride: 1, Expansion: 3, Kernel: 4}
	_, err = NewInvertedResidual(cfg, 1000, relu6, &step)
	assert.Error(t, err, "even kernel")
}

func TestInvertedResidual_ForwardShape(t *testing.T) {
	var step uint64
	cfg := BlockConfig{InChannels: 16, OutChannels: 24, Stride: 2, Expansion: 6, Kernel: 5}
	blk, err := NewInvertedResidual(cfg, 1000, relu6, &step)
	require.NoError(t, err)

	out, err := blk.Forward(tensor.New(16, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, []int{24, 4, 4}, out.Shape)
	assert.Equal(t, []int{24, 4, 4}, blk.OutShape([]int{16, 8, 8}))
}

func TestInvertedResidual_ShortcutAddsInput(t *testing.T) {
	// with zero weights the conv chain outputs zeros, so a shortcut block
	// reduces to the identity while a non-shortcut block outputs zeros
	var step uint64
	cfg := BlockConfig{InChannels: 4, OutChannels: 4, Stride: 1, Expansion: 1, Kernel: 3}
	withSkip, err := NewInvertedResidual(cfg, 1000, relu6, &step)
	require.NoError(t, err)

	cfg.OutChannels = 5
	noSkip, err := NewInvertedResidual(cfg, 1000, relu6, &step)
	require.NoError(t, err)

	input := tensor.New(4, 6, 6)
	for i := range input.Data {
		input.Data[i] = float64(i%7) - 3
	}

	out, err := withSkip.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, input.Data, out.Data)

	out, err = noSkip.Forward(input)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestInvertedResidual_InferenceTapsAreIdentity(t *testing.T) {
	// two identically weighted blocks, one with a fully ramped scheduled
	// drop and one with none: inference outputs must match exactly
	var stepA, stepB uint64
	cfg := BlockConfig{InChannels: 8, OutChannels: 8, Stride: 1, Expansion: 3, Kernel: 3, DropProb: 0.9}
	blkA, err := NewInvertedResidual(cfg, 10, relu6, &stepA)
	require.NoError(t, err)

	cfg.DropProb = 0
	blkB, err := NewInvertedResidual(cfg, 10, relu6, &stepB)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i, mod := range blkA.Conv.Layers {
		conv, ok := mod.(*layers.Conv2D)
		if !ok {
			continue
		}
		for j := range conv.W.Data {
			conv.W.Data[j] = rng.NormFloat64() * 0.1
		}
		copy(blkB.Conv.Layers[i].(*layers.Conv2D).W.Data, conv.W.Data)
	}

	stepA = 1 << 30 // schedule fully ramped

	input := tensor.New(8, 6, 6)
	for i := range input.Data {
		input.Data[i] = rng.NormFloat64()
	}

	outA, err := blkA.Forward(input)
	require.NoError(t, err)
	outB, err := blkB.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, outB.Data, outA.Data)
}
