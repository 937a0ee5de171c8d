package layers

import (
	"fmt"

	"mnas_lib/tensor"
)

// AdaptiveAvgPool2D averages each channel into a fixed outH x outW grid,
// independent of the input spatial size. Output size 1 gives global average
// pooling.
type AdaptiveAvgPool2D struct {
	outH, outW int
}

// NewAdaptiveAvgPool2D creates an adaptive pool with a square output grid.
func NewAdaptiveAvgPool2D(out int) (*AdaptiveAvgPool2D, error) {
	if out <= 0 {
		return nil, fmt.Errorf("AdaptiveAvgPool2D: output size must be positive, got %d", out)
	}
	return &AdaptiveAvgPool2D{outH: out, outW: out}, nil
}

// OutShape returns the pooled shape for the given input shape.
func (a *AdaptiveAvgPool2D) OutShape(inShape []int) []int {
	b, c, _, _, batched, err := featureDims(inShape)
	if err != nil {
		return nil
	}
	if batched {
		return []int{b, c, a.outH, a.outW}
	}
	return []int{c, a.outH, a.outW}
}

func (a *AdaptiveAvgPool2D) SetTraining(bool) {}

// Forward pools a [C,H,W] or [B,C,H,W] input. Each output cell averages the
// input bin [floor(o*H/outH), ceil((o+1)*H/outH)), so uneven sizes are
// covered without remainder.
func (a *AdaptiveAvgPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, chans, height, width, batched, err := featureDims(input.Shape)
	if err != nil {
		return nil, err
	}
	if height < a.outH || width < a.outW {
		return nil, fmt.Errorf("AdaptiveAvgPool2D: input %dx%d smaller than output %dx%d",
			height, width, a.outH, a.outW)
	}

	var out *tensor.Tensor
	if batched {
		out = tensor.New(batch, chans, a.outH, a.outW)
	} else {
		out = tensor.New(chans, a.outH, a.outW)
	}

	for b := 0; b < batch; b++ {
		for c := 0; c < chans; c++ {
			base := (b*chans + c) * height * width
			for oh := 0; oh < a.outH; oh++ {
				hs := oh * height / a.outH
				he := ((oh+1)*height + a.outH - 1) / a.outH
				for ow := 0; ow < a.outW; ow++ {
					ws := ow * width / a.outW
					we := ((ow+1)*width + a.outW - 1) / a.outW
					sum := 0.0
					for ih := hs; ih < he; ih++ {
						for iw := ws; iw < we; iw++ {
							sum += input.Data[base+ih*width+iw]
						}
					}
					outIdx := ((b*chans+c)*a.outH+oh)*a.outW + ow
					out.Data[outIdx] = sum / float64((he-hs)*(we-ws))
				}
			}
		}
	}
	return out, nil
}
