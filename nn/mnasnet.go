package nn

import (
	"fmt"
	"math"

	"mnas_lib/nn/layers"
	"mnas_lib/tensor"
)

// StageSpec describes one stage of the network body: expansion ratio t,
// output channels c, repeat count n, first-repetition stride s, depthwise
// kernel size k and target drop probability.
type StageSpec struct {
	Expansion   int
	OutChannels int
	Repeat      int
	Stride      int
	Kernel      int
	DropProb    float64
}

// DefaultStages returns the reference stage table. The drop probability is
// applied to the deeper stages only.
func DefaultStages(dropProb float64) []StageSpec {
	return []StageSpec{
		// t, c, n, s, k, dp
		{3, 24, 3, 2, 3, 0},         // -> 56x56
		{3, 40, 3, 2, 5, 0},         // -> 28x28
		{6, 80, 3, 2, 5, 0},         // -> 14x14
		{6, 96, 2, 1, 3, dropProb},  // -> 14x14
		{6, 192, 4, 2, 5, dropProb}, // -> 7x7
		{6, 320, 1, 1, 3, dropProb}, // -> 7x7
	}
}

// BlockConfig is the derived per-block configuration after stage expansion.
// UseShortcut holds exactly when stride is 1 and the channel count is
// unchanged; it is the sole determinant of the identity shortcut.
type BlockConfig struct {
	InChannels  int
	OutChannels int
	Stride      int
	Expansion   int
	Kernel      int
	DropProb    float64
	UseShortcut bool
}

// scaleChannels applies the width multiplier with round-half rounding.
// Scaled counts are deliberately not aligned to any channel multiple.
func scaleChannels(c int, widthMult float64) int {
	return int(math.Round(float64(c) * widthMult))
}

// ExpandStages expands a stage table into the ordered block configurations,
// propagating the running channel count. The configured stride applies only
// to the first repetition of each stage; later repetitions use stride 1 and
// inherit the previous repetition's output width.
func ExpandStages(stages []StageSpec, widthMult float64, inChannels int) ([]BlockConfig, error) {
	var blocks []BlockConfig
	running := inChannels
	for i, st := range stages {
		if st.Repeat < 1 {
			return nil, fmt.Errorf("stage %d: repeat must be >= 1, got %d", i, st.Repeat)
		}
		if st.Stride != 1 && st.Stride != 2 {
			return nil, fmt.Errorf("stage %d: stride must be 1 or 2, got %d", i, st.Stride)
		}
		if st.Kernel <= 0 || st.Kernel%2 == 0 {
			return nil, fmt.Errorf("stage %d: kernel must be odd, got %d", i, st.Kernel)
		}
		if st.Expansion < 1 {
			return nil, fmt.Errorf("stage %d: expansion must be >= 1, got %d", i, st.Expansion)
		}
		if st.DropProb < 0 || st.DropProb >= 1 {
			return nil, fmt.Errorf("stage %d: drop probability must be in [0,1), got %v", i, st.DropProb)
		}
		scaled := scaleChannels(st.OutChannels, widthMult)
		for r := 0; r < st.Repeat; r++ {
			stride := 1
			if r == 0 {
				stride = st.Stride
			}
			blocks = append(blocks, BlockConfig{
				InChannels:  running,
				OutChannels: scaled,
				Stride:      stride,
				Expansion:   st.Expansion,
				Kernel:      st.Kernel,
				DropProb:    st.DropProb,
				UseShortcut: stride == 1 && running == scaled,
			})
			running = scaled
		}
	}
	return blocks, nil
}

// Config holds the construction parameters of the classifier.
type Config struct {
	NumClasses int
	InputSize  int // must be divisible by 32
	WidthMult  float64
	DropProb   float64 // stop value for the scheduled taps in the default table
	NumSteps   int     // schedule length in training steps
	Activation layers.ActConfig

	// ClassifierDropout is the head's fixed dropout rate. It is not wired
	// into the schedule, matching the reference network.
	ClassifierDropout float64

	Stages []StageSpec // nil selects DefaultStages(DropProb)
}

// DefaultConfig mirrors the reference defaults: 1000 classes, 224 input,
// width 1.0, no drop, 300k schedule steps, ReLU6.
func DefaultConfig() Config {
	return Config{
		NumClasses: 1000,
		InputSize:  224,
		WidthMult:  1.0,
		DropProb:   0.0,
		NumSteps:   300000,
		Activation: layers.ActConfig{Kind: layers.ReLU6},
	}
}

// MnasNet is a mobile image classifier built from inverted residual blocks
// with a scheduled DropBlock tap at every stage. The network exclusively
// owns the global training-step counter read by all taps.
type MnasNet struct {
	Features   *Sequential // framing convs + body + final conv + pool
	Classifier *Sequential // flatten -> dropout -> linear

	Blocks      []BlockConfig // derived body configuration, in order
	LastChannel int           // feature width entering the classifier

	step     uint64
	training bool
}

// NewMnasNet generates the full network from the stage table.
func NewMnasNet(cfg Config) (*MnasNet, error) {
	// downsampling factor across the framing conv and stride-2 stages is 32
	if cfg.InputSize <= 0 || cfg.InputSize%32 != 0 {
		return nil, fmt.Errorf("MnasNet: input size must be a positive multiple of 32, got %d", cfg.InputSize)
	}
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("MnasNet: number of classes must be positive, got %d", cfg.NumClasses)
	}
	act := cfg.Activation
	if act.Kind == "" {
		act.Kind = layers.ReLU6
	}
	stages := cfg.Stages
	if stages == nil {
		stages = DefaultStages(cfg.DropProb)
	}

	m := &MnasNet{}
	initial := scaleChannels(32, cfg.WidthMult)
	m.LastChannel = 1280
	if cfg.WidthMult > 1 {
		m.LastChannel = scaleChannels(1280, cfg.WidthMult)
	}

	head, err := NewConv3x3(3, initial, 2, act)
	if err != nil {
		return nil, err
	}
	// The separable framing conv narrows to 16 channels unscaled, a
	// deliberate departure from uniform width scaling.
	sep, err := NewSepConv3x3(initial, 16, act)
	if err != nil {
		return nil, err
	}
	features := NewSequential(head, sep)

	blocks, err := ExpandStages(stages, cfg.WidthMult, 16)
	if err != nil {
		return nil, err
	}
	m.Blocks = blocks
	running := 16
	for _, bc := range blocks {
		blk, err := NewInvertedResidual(bc, cfg.NumSteps, act, &m.step)
		if err != nil {
			return nil, err
		}
		features.Append(blk)
		running = bc.OutChannels
	}

	tail, err := NewConv1x1(running, m.LastChannel, act)
	if err != nil {
		return nil, err
	}
	pool, err := layers.NewAdaptiveAvgPool2D(1)
	if err != nil {
		return nil, err
	}
	features.Append(tail, pool)
	m.Features = features

	drop, err := layers.NewDropout(cfg.ClassifierDropout)
	if err != nil {
		return nil, err
	}
	m.Classifier = NewSequential(layers.NewFlatten(), drop, layers.NewLinear(m.LastChannel, cfg.NumClasses))
	return m, nil
}

// Forward classifies one image or a batch, returning the class logits.
// In training mode the shared step counter is incremented exactly once, at
// the top of the pass, before any tap reads it.
func (m *MnasNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if m.training {
		m.step++
	}
	f, err := m.Features.Forward(x)
	if err != nil {
		return nil, err
	}
	return m.Classifier.Forward(f)
}

// SetTraining switches the whole network, including every tap, between
// training and inference behaviour.
func (m *MnasNet) SetTraining(training bool) {
	m.training = training
	m.Features.SetTraining(training)
	m.Classifier.SetTraining(training)
}

// Step returns the current value of the global step counter.
func (m *MnasNet) Step() uint64 { return m.step }

// OutShape returns the logits shape for the given input shape.
func (m *MnasNet) OutShape(inShape []int) []int {
	shape := m.Features.OutShape(inShape)
	if shape == nil {
		return nil
	}
	return m.Classifier.OutShape(shape)
}

// FeatureShape returns the feature-map shape entering the global pool, i.e.
// after the final 1x1 convolution.
func (m *MnasNet) FeatureShape(inShape []int) []int {
	shape := append([]int(nil), inShape...)
	for _, l := range m.Features.Layers[:len(m.Features.Layers)-1] {
		shape = l.OutShape(shape)
		if shape == nil {
			return nil
		}
	}
	return shape
}
