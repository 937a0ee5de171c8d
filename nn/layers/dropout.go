package layers

import (
	"fmt"
	"time"

	"mnas_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dropout zeroes individual features with probability p during training and
// rescales the survivors by 1/(1-p). Identity in inference mode. The rate is
// fixed at construction; it is not tied to any schedule.
type Dropout struct {
	p        float64
	src      rand.Source
	training bool
}

// NewDropout creates a dropout layer with rate p in [0,1).
func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("Dropout: rate must be in [0,1), got %v", p)
	}
	return &Dropout{
		p:   p,
		src: rand.NewSource(uint64(time.Now().UnixNano())),
	}, nil
}

// Reseed replaces the mask RNG, for reproducible runs.
func (d *Dropout) Reseed(seed uint64) { d.src = rand.NewSource(seed) }

// OutShape is the identity.
func (d *Dropout) OutShape(inShape []int) []int {
	return append([]int(nil), inShape...)
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

// Forward applies the mask element-wise, any rank.
func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return x, nil
	}
	keep := distuv.Bernoulli{P: 1 - d.p, Src: d.src}
	scale := 1 / (1 - d.p)
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = v * keep.Rand() * scale
	}
	return out, nil
}
