package nn

import (
	"fmt"

	"mnas_lib/nn/layers"
	"mnas_lib/tensor"
)

// dropBlockSize is the spatial extent of every structured-regularization
// mask in the network.
const dropBlockSize = 7

// NewConv3x3 builds conv(3x3, stride s, pad 1, no bias) -> norm -> activation.
func NewConv3x3(inp, oup, stride int, act layers.ActConfig) (*Sequential, error) {
	conv, err := layers.NewConv2D(inp, oup, 3, stride, 1, 1, false)
	if err != nil {
		return nil, err
	}
	a, err := layers.NewActivation(act)
	if err != nil {
		return nil, err
	}
	return NewSequential(conv, layers.NewBatchNorm2D(oup), a), nil
}

// NewConv1x1 builds conv(1x1, stride 1, pad 0, no bias) -> norm -> activation.
func NewConv1x1(inp, oup int, act layers.ActConfig) (*Sequential, error) {
	conv, err := layers.NewConv2D(inp, oup, 1, 1, 0, 1, false)
	if err != nil {
		return nil, err
	}
	a, err := layers.NewActivation(act)
	if err != nil {
		return nil, err
	}
	return NewSequential(conv, layers.NewBatchNorm2D(oup), a), nil
}

// NewSepConv3x3 builds a depthwise-separable convolution: depthwise 3x3 ->
// norm -> activation -> pointwise 1x1 -> norm. The pointwise projection is
// linear, there is no trailing activation.
func NewSepConv3x3(inp, oup int, act layers.ActConfig) (*Sequential, error) {
	dw, err := layers.NewConv2D(inp, inp, 3, 1, 1, inp, false)
	if err != nil {
		return nil, err
	}
	a, err := layers.NewActivation(act)
	if err != nil {
		return nil, err
	}
	pw, err := layers.NewConv2D(inp, oup, 1, 1, 0, 1, false)
	if err != nil {
		return nil, err
	}
	return NewSequential(dw, layers.NewBatchNorm2D(inp), a, pw, layers.NewBatchNorm2D(oup)), nil
}

// InvertedResidual is the repeatable expand -> depthwise -> project unit.
// Every stage carries a scheduled DropBlock tap. When the identity shortcut
// is active a fourth tap masks the summed output; the mask is never applied
// to one branch alone.
type InvertedResidual struct {
	Conv     *Sequential                // expand -> depthwise -> project
	SkipDrop *layers.DropBlockScheduled // tap on input+Conv(input), nil without shortcut

	cfg         BlockConfig
	useShortcut bool
}

func newScheduledDrop(p float64, numSteps int, step *uint64) (*layers.DropBlockScheduled, error) {
	unit, err := layers.NewDropBlock2D(p, dropBlockSize)
	if err != nil {
		return nil, err
	}
	return layers.NewDropBlockScheduled(unit, 0, p, numSteps, step)
}

// NewInvertedResidual builds one block from its derived configuration.
// step is the network's shared training-step counter; every tap in the block
// reads it.
func NewInvertedResidual(cfg BlockConfig, numSteps int, act layers.ActConfig, step *uint64) (*InvertedResidual, error) {
	if cfg.Stride != 1 && cfg.Stride != 2 {
		return nil, fmt.Errorf("InvertedResidual: stride must be 1 or 2, got %d", cfg.Stride)
	}
	if cfg.Expansion < 1 {
		return nil, fmt.Errorf("InvertedResidual: expansion must be >= 1, got %d", cfg.Expansion)
	}
	if cfg.Kernel <= 0 || cfg.Kernel%2 == 0 {
		return nil, fmt.Errorf("InvertedResidual: kernel must be odd, got %d", cfg.Kernel)
	}
	hidden := cfg.InChannels * cfg.Expansion

	// pw expansion
	expand, err := layers.NewConv2D(cfg.InChannels, hidden, 1, 1, 0, 1, false)
	if err != nil {
		return nil, err
	}
	tapA, err := newScheduledDrop(cfg.DropProb, numSteps, step)
	if err != nil {
		return nil, err
	}
	actA, err := layers.NewActivation(act)
	if err != nil {
		return nil, err
	}
	// dw
	dw, err := layers.NewConv2D(hidden, hidden, cfg.Kernel, cfg.Stride, cfg.Kernel/2, hidden, false)
	if err != nil {
		return nil, err
	}
	tapB, err := newScheduledDrop(cfg.DropProb, numSteps, step)
	if err != nil {
		return nil, err
	}
	actB, err := layers.NewActivation(act)
	if err != nil {
		return nil, err
	}
	// pw-linear projection
	project, err := layers.NewConv2D(hidden, cfg.OutChannels, 1, 1, 0, 1, false)
	if err != nil {
		return nil, err
	}
	tapC, err := newScheduledDrop(cfg.DropProb, numSteps, step)
	if err != nil {
		return nil, err
	}

	blk := &InvertedResidual{
		Conv: NewSequential(
			expand, layers.NewBatchNorm2D(hidden), tapA, actA,
			dw, layers.NewBatchNorm2D(hidden), tapB, actB,
			project, layers.NewBatchNorm2D(cfg.OutChannels), tapC,
		),
		cfg:         cfg,
		useShortcut: cfg.Stride == 1 && cfg.InChannels == cfg.OutChannels,
	}
	blk.cfg.UseShortcut = blk.useShortcut
	if blk.useShortcut {
		blk.SkipDrop, err = newScheduledDrop(cfg.DropProb, numSteps, step)
		if err != nil {
			return nil, err
		}
	}
	return blk, nil
}

// Config returns the block's derived configuration.
func (r *InvertedResidual) Config() BlockConfig { return r.cfg }

// UseShortcut reports whether the block adds its input to its output.
func (r *InvertedResidual) UseShortcut() bool { return r.useShortcut }

// OutShape returns the block's output shape.
func (r *InvertedResidual) OutShape(inShape []int) []int {
	return r.Conv.OutShape(inShape)
}

func (r *InvertedResidual) SetTraining(training bool) {
	r.Conv.SetTraining(training)
	if r.SkipDrop != nil {
		r.SkipDrop.SetTraining(training)
	}
}

// Forward applies the block. With the shortcut the tap masks the sum
// input + Conv(input); without it the chain output passes through as is.
func (r *InvertedResidual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := r.Conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if !r.useShortcut {
		return y, nil
	}
	sum, err := tensor.Add(x, y)
	if err != nil {
		return nil, err
	}
	return r.SkipDrop.Forward(sum)
}
