package layers

import (
	"fmt"
	"math"

	"mnas_lib/tensor"
)

// BatchNorm2D normalizes each channel over the batch and spatial dimensions.
// In training mode it uses batch statistics and updates the running averages;
// in inference mode it uses the running averages only.
type BatchNorm2D struct {
	channels int
	eps      float64
	momentum float64

	Gamma, Beta *tensor.Tensor // scale and shift: [channels]
	RunningMean *tensor.Tensor // [channels]
	RunningVar  *tensor.Tensor // [channels]

	training bool
}

// NewBatchNorm2D creates a BatchNorm2D with identity affine parameters
// (Gamma=1, Beta=0) and unit running variance.
func NewBatchNorm2D(channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		eps:         1e-5,
		momentum:    0.1,
		Gamma:       tensor.New(channels),
		Beta:        tensor.New(channels),
		RunningMean: tensor.New(channels),
		RunningVar:  tensor.New(channels),
	}
	for i := 0; i < channels; i++ {
		bn.Gamma.Data[i] = 1
		bn.RunningVar.Data[i] = 1
	}
	return bn
}

// OutShape is the identity: normalization preserves the input shape.
func (bn *BatchNorm2D) OutShape(inShape []int) []int {
	return append([]int(nil), inShape...)
}

func (bn *BatchNorm2D) SetTraining(training bool) { bn.training = training }

// Forward normalizes a [C,H,W] or [B,C,H,W] input per channel.
func (bn *BatchNorm2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, chans, height, width, _, err := featureDims(input.Shape)
	if err != nil {
		return nil, err
	}
	if chans != bn.channels {
		return nil, fmt.Errorf("BatchNorm2D: expected %d channels, got %d", bn.channels, chans)
	}

	out := tensor.New(input.Shape...)
	plane := height * width
	n := float64(batch * plane)

	for c := 0; c < chans; c++ {
		var mean, variance float64
		if bn.training {
			sum := 0.0
			for b := 0; b < batch; b++ {
				base := (b*chans + c) * plane
				for i := 0; i < plane; i++ {
					sum += input.Data[base+i]
				}
			}
			mean = sum / n
			sq := 0.0
			for b := 0; b < batch; b++ {
				base := (b*chans + c) * plane
				for i := 0; i < plane; i++ {
					d := input.Data[base+i] - mean
					sq += d * d
				}
			}
			variance = sq / n
			bn.RunningMean.Data[c] = (1-bn.momentum)*bn.RunningMean.Data[c] + bn.momentum*mean
			bn.RunningVar.Data[c] = (1-bn.momentum)*bn.RunningVar.Data[c] + bn.momentum*variance
		} else {
			mean = bn.RunningMean.Data[c]
			variance = bn.RunningVar.Data[c]
		}

		scale := bn.Gamma.Data[c] / math.Sqrt(variance+bn.eps)
		shift := bn.Beta.Data[c] - mean*scale
		for b := 0; b < batch; b++ {
			base := (b*chans + c) * plane
			for i := 0; i < plane; i++ {
				out.Data[base+i] = input.Data[base+i]*scale + shift
			}
		}
	}
	return out, nil
}
