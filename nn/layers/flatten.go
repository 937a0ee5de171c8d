package layers

import (
	"mnas_lib/tensor"
)

// Flatten reshapes a feature map to a vector, keeping a leading batch
// dimension when one is present: [B,C,H,W] -> [B,C*H*W], [C,H,W] -> [C*H*W].
type Flatten struct{}

func NewFlatten() *Flatten { return &Flatten{} }

// OutShape returns the flattened shape.
func (f *Flatten) OutShape(inShape []int) []int {
	if len(inShape) == 4 {
		return []int{inShape[0], inShape[1] * inShape[2] * inShape[3]}
	}
	n := 1
	for _, d := range inShape {
		n *= d
	}
	return []int{n}
}

func (f *Flatten) SetTraining(bool) {}

// Forward copies the data into the flattened shape.
func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := tensor.New(f.OutShape(x.Shape)...)
	copy(y.Data, x.Data)
	return y, nil
}
