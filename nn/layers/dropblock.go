package layers

import (
	"fmt"
	"time"

	"mnas_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// DropBlock2D zeroes contiguous blockSize x blockSize spatial regions of each
// channel, giving a spatially-correlated mask instead of independent unit
// drops. Survivors are rescaled so the expected activation sum is preserved.
//
// DropProb is public because DropBlockScheduled updates it before each call.
type DropBlock2D struct {
	DropProb  float64
	blockSize int
	src       rand.Source
	training  bool
}

// NewDropBlock2D creates a mask unit with the given target drop probability
// and spatial block size.
func NewDropBlock2D(dropProb float64, blockSize int) (*DropBlock2D, error) {
	if dropProb < 0 || dropProb >= 1 {
		return nil, fmt.Errorf("DropBlock2D: drop probability must be in [0,1), got %v", dropProb)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("DropBlock2D: block size must be positive, got %d", blockSize)
	}
	return &DropBlock2D{
		DropProb:  dropProb,
		blockSize: blockSize,
		src:       rand.NewSource(uint64(time.Now().UnixNano())),
	}, nil
}

// Reseed replaces the mask RNG, for reproducible runs.
func (d *DropBlock2D) Reseed(seed uint64) { d.src = rand.NewSource(seed) }

// OutShape is the identity.
func (d *DropBlock2D) OutShape(inShape []int) []int {
	return append([]int(nil), inShape...)
}

func (d *DropBlock2D) SetTraining(training bool) { d.training = training }

// Forward masks a [C,H,W] or [B,C,H,W] input. Identity in inference mode or
// at zero probability.
func (d *DropBlock2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.DropProb == 0 {
		return x, nil
	}
	batch, chans, height, width, _, err := featureDims(x.Shape)
	if err != nil {
		return nil, err
	}

	// The block must fit inside the feature map.
	bs := d.blockSize
	if bs > height {
		bs = height
	}
	if bs > width {
		bs = width
	}

	// Seed rate for block centers, chosen so the expected fraction of
	// dropped units matches DropProb.
	area := float64(height * width)
	valid := float64((height - bs + 1) * (width - bs + 1))
	gamma := d.DropProb * area / (float64(bs*bs) * valid)
	if gamma > 1 {
		gamma = 1
	}
	bern := distuv.Bernoulli{P: gamma, Src: d.src}

	plane := height * width
	out := tensor.New(x.Shape...)
	mask := make([]float64, plane)

	for b := 0; b < batch; b++ {
		for c := 0; c < chans; c++ {
			for i := range mask {
				mask[i] = 1
			}
			for cy := 0; cy <= height-bs; cy++ {
				for cx := 0; cx <= width-bs; cx++ {
					if bern.Rand() == 0 {
						continue
					}
					for dy := 0; dy < bs; dy++ {
						for dx := 0; dx < bs; dx++ {
							mask[(cy+dy)*width+cx+dx] = 0
						}
					}
				}
			}
			kept := 0.0
			for _, m := range mask {
				kept += m
			}
			base := (b*chans + c) * plane
			if kept == 0 {
				continue // whole plane dropped, leave zeros
			}
			scale := float64(plane) / kept
			for i, m := range mask {
				out.Data[base+i] = x.Data[base+i] * m * scale
			}
		}
	}
	return out, nil
}

// DropBlockScheduled ramps a DropBlock2D unit's drop probability linearly
// from Start to Stop over NumSteps training steps, then holds it at Stop.
// The step counter is owned by the network and shared, by pointer, across
// every binding so all taps in one pass observe the same value.
type DropBlockScheduled struct {
	Unit     *DropBlock2D
	Start    float64
	Stop     float64
	NumSteps int

	step     *uint64
	training bool
}

// NewDropBlockScheduled binds a mask unit to the shared step counter.
func NewDropBlockScheduled(unit *DropBlock2D, start, stop float64, numSteps int, step *uint64) (*DropBlockScheduled, error) {
	if unit == nil {
		return nil, fmt.Errorf("DropBlockScheduled: nil mask unit")
	}
	if step == nil {
		return nil, fmt.Errorf("DropBlockScheduled: nil step counter")
	}
	if numSteps < 0 {
		return nil, fmt.Errorf("DropBlockScheduled: steps must be non-negative, got %d", numSteps)
	}
	return &DropBlockScheduled{
		Unit:     unit,
		Start:    start,
		Stop:     stop,
		NumSteps: numSteps,
		step:     step,
	}, nil
}

// ProbAt returns the interpolated drop probability for a given step count:
// Start at step 0, Stop from NumSteps onward, linear in between.
func (d *DropBlockScheduled) ProbAt(step uint64) float64 {
	if d.NumSteps <= 0 {
		return d.Stop
	}
	t := float64(step) / float64(d.NumSteps)
	if t >= 1 {
		return d.Stop
	}
	return d.Start + (d.Stop-d.Start)*t
}

// DropProb returns the probability at the current shared step.
func (d *DropBlockScheduled) DropProb() float64 { return d.ProbAt(*d.step) }

// OutShape is the identity.
func (d *DropBlockScheduled) OutShape(inShape []int) []int {
	return append([]int(nil), inShape...)
}

func (d *DropBlockScheduled) SetTraining(training bool) {
	d.training = training
	d.Unit.SetTraining(training)
}

// Forward applies the unit at the scheduled probability. Identity in
// inference mode regardless of the counter value.
func (d *DropBlockScheduled) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training {
		return x, nil
	}
	p := d.DropProb()
	if p <= 0 {
		return x, nil
	}
	d.Unit.DropProb = p
	return d.Unit.Forward(x)
}
