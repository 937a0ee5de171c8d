package layers

import (
	"fmt"

	"mnas_lib/tensor"
)

// ActKind names a supported pointwise nonlinearity.
type ActKind string

const (
	ReLU      ActKind = "relu"
	ReLU6     ActKind = "relu6"
	LeakyReLU ActKind = "leaky_relu"
)

// ActConfig selects an activation kind plus its parameters.
// Slope is only read for LeakyReLU.
type ActConfig struct {
	Kind  ActKind
	Slope float64
}

// Activation applies a pointwise nonlinearity. The kind is resolved to a
// concrete function at construction time, not looked up per call.
type Activation struct {
	cfg ActConfig
	fn  func(float64) float64
}

// NewActivation creates a new activation layer.
func NewActivation(cfg ActConfig) (*Activation, error) {
	var fn func(float64) float64
	switch cfg.Kind {
	case ReLU:
		fn = func(v float64) float64 {
			if v < 0 {
				return 0
			}
			return v
		}
	case ReLU6:
		fn = func(v float64) float64 {
			if v < 0 {
				return 0
			}
			if v > 6 {
				return 6
			}
			return v
		}
	case LeakyReLU:
		slope := cfg.Slope
		fn = func(v float64) float64 {
			if v < 0 {
				return slope * v
			}
			return v
		}
	default:
		return nil, fmt.Errorf("unsupported activation: %q", cfg.Kind)
	}
	return &Activation{cfg: cfg, fn: fn}, nil
}

// Kind returns the configured activation kind.
func (a *Activation) Kind() ActKind { return a.cfg.Kind }

// OutShape is the identity.
func (a *Activation) OutShape(inShape []int) []int {
	return append([]int(nil), inShape...)
}

func (a *Activation) SetTraining(bool) {}

// Forward applies the nonlinearity element-wise, any rank.
func (a *Activation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(input.Shape...)
	for i, v := range input.Data {
		out.Data[i] = a.fn(v)
	}
	return out, nil
}
