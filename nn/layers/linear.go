package layers

import (
	"fmt"

	"mnas_lib/tensor"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer computing y = x Wᵀ + b.
type Linear struct {
	inDim, outDim int

	W *tensor.Tensor // weights: [outDim, inDim]
	B *tensor.Tensor // bias: [outDim]
}

// NewLinear(inDim→outDim) sets up zero-valued W and B.
func NewLinear(inDim, outDim int) *Linear {
	return &Linear{
		inDim:  inDim,
		outDim: outDim,
		W:      tensor.New(outDim, inDim),
		B:      tensor.New(outDim),
	}
}

// OutShape maps [inDim] -> [outDim] and [B,inDim] -> [B,outDim].
func (l *Linear) OutShape(inShape []int) []int {
	if len(inShape) == 2 {
		return []int{inShape[0], l.outDim}
	}
	return []int{l.outDim}
}

func (l *Linear) SetTraining(bool) {}

// Forward accepts a [inDim] vector or [B,inDim] batch.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	var batch int
	switch len(input.Shape) {
	case 1:
		batch = 1
	case 2:
		batch = input.Shape[0]
	default:
		return nil, &TypeError{"input must be a 1D or 2D tensor"}
	}
	if input.Numel() != batch*l.inDim {
		return nil, fmt.Errorf("Linear: expected %d input features, got shape %v", l.inDim, input.Shape)
	}

	wm := mat.NewDense(l.outDim, l.inDim, l.W.Data)
	xm := mat.NewDense(batch, l.inDim, input.Data)
	var y mat.Dense
	y.Mul(xm, wm.T())

	out := tensor.New(l.OutShape(input.Shape)...)
	for b := 0; b < batch; b++ {
		for j := 0; j < l.outDim; j++ {
			out.Data[b*l.outDim+j] = y.At(b, j) + l.B.Data[j]
		}
	}
	return out, nil
}
