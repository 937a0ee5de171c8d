package layers

import (
	"fmt"

	"mnas_lib/tensor"
)

// Conv2D is a 2D convolutional layer with stride, zero padding and grouped
// kernels. groups == inChan gives a depthwise convolution.
type Conv2D struct {
	inChan, outChan int // number of input/output channels
	kh, kw          int // kernel height and width
	stride, pad     int
	groups          int

	W *tensor.Tensor // weights: [outChan, inChan/groups, kh, kw]
	B *tensor.Tensor // bias: [outChan], nil when constructed without bias
}

// NewConv2D creates a new Conv2D layer. Parameters are allocated zero-valued;
// populating them is the caller's concern.
func NewConv2D(inChan, outChan, kernel, stride, pad, groups int, bias bool) (*Conv2D, error) {
	if inChan <= 0 || outChan <= 0 {
		return nil, fmt.Errorf("Conv2D: channels must be positive, got %d -> %d", inChan, outChan)
	}
	if kernel <= 0 || stride <= 0 || pad < 0 {
		return nil, fmt.Errorf("Conv2D: invalid kernel=%d stride=%d pad=%d", kernel, stride, pad)
	}
	if groups <= 0 || inChan%groups != 0 || outChan%groups != 0 {
		return nil, fmt.Errorf("Conv2D: groups=%d must divide inChan=%d and outChan=%d", groups, inChan, outChan)
	}
	c := &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		kh:      kernel,
		kw:      kernel,
		stride:  stride,
		pad:     pad,
		groups:  groups,
		W:       tensor.New(outChan, inChan/groups, kernel, kernel),
	}
	if bias {
		c.B = tensor.New(outChan)
	}
	return c, nil
}

// OutShape returns the output shape for the given input shape, or nil if the
// shape is not a feature map.
func (c *Conv2D) OutShape(inShape []int) []int {
	b, _, h, w, batched, err := featureDims(inShape)
	if err != nil {
		return nil
	}
	outH := (h+2*c.pad-c.kh)/c.stride + 1
	outW := (w+2*c.pad-c.kw)/c.stride + 1
	if batched {
		return []int{b, c.outChan, outH, outW}
	}
	return []int{c.outChan, outH, outW}
}

// SetTraining is a no-op: convolution behaves identically in both modes.
func (c *Conv2D) SetTraining(bool) {}

// Forward convolves a [C,H,W] or [B,C,H,W] input.
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, inChan, height, width, batched, err := featureDims(input.Shape)
	if err != nil {
		return nil, err
	}
	if inChan != c.inChan {
		return nil, fmt.Errorf("Conv2D: expected %d input channels, got %d", c.inChan, inChan)
	}

	outHeight := (height+2*c.pad-c.kh)/c.stride + 1
	outWidth := (width+2*c.pad-c.kw)/c.stride + 1
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("Conv2D: input %dx%d too small for kernel %dx%d stride %d",
			height, width, c.kh, c.kw, c.stride)
	}

	var output *tensor.Tensor
	if batched {
		output = tensor.New(batch, c.outChan, outHeight, outWidth)
	} else {
		output = tensor.New(c.outChan, outHeight, outWidth)
	}

	icpg := c.inChan / c.groups  // input channels per group
	ocpg := c.outChan / c.groups // output channels per group

	for b := 0; b < batch; b++ {
		for oc := 0; oc < c.outChan; oc++ {
			g := oc / ocpg
			for y := 0; y < outHeight; y++ {
				for x := 0; x < outWidth; x++ {
					sum := 0.0
					if c.B != nil {
						sum = c.B.Data[oc]
					}
					for ic := 0; ic < icpg; ic++ {
						for dy := 0; dy < c.kh; dy++ {
							iy := y*c.stride + dy - c.pad
							if iy < 0 || iy >= height {
								continue
							}
							for dx := 0; dx < c.kw; dx++ {
								ix := x*c.stride + dx - c.pad
								if ix < 0 || ix >= width {
									continue
								}
								wIdx := ((oc*icpg+ic)*c.kh+dy)*c.kw + dx
								inIdx := ((b*c.inChan+g*icpg+ic)*height+iy)*width + ix
								sum += input.Data[inIdx] * c.W.Data[wIdx]
							}
						}
					}
					outIdx := ((b*c.outChan+oc)*outHeight+y)*outWidth + x
					output.Data[outIdx] = sum
				}
			}
		}
	}
	return output, nil
}
