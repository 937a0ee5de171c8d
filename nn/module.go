package nn

import (
	"mnas_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	// Forward applies the module to a feature map.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// OutShape returns the output shape for the given input shape, or nil
	// if the input shape is unsupported.
	OutShape(inShape []int) []int
	// SetTraining switches between training and inference behaviour.
	// Modules without mode-dependent behaviour ignore it.
	SetTraining(training bool)
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

func NewSequential(mods ...Module) *Sequential {
	return &Sequential{Layers: mods}
}

// Append adds modules to the end of the chain.
func (s *Sequential) Append(mods ...Module) {
	s.Layers = append(s.Layers, mods...)
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := x
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OutShape propagates the shape through every layer.
func (s *Sequential) OutShape(inShape []int) []int {
	shape := append([]int(nil), inShape...)
	for _, layer := range s.Layers {
		shape = layer.OutShape(shape)
		if shape == nil {
			return nil
		}
	}
	return shape
}

// SetTraining propagates the mode flag to every layer.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		layer.SetTraining(training)
	}
}
