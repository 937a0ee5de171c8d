package utils

import (
	"fmt"
	"strconv"
	"strings"

	"mnas_lib/nn"
	"mnas_lib/nn/layers"
)

// Config holds model construction parameters in their textual form, as they
// arrive from flags or config files.
type Config struct {
	NumClasses int
	InputSize  int
	WidthMult  float64
	DropProb   float64
	NumSteps   int
	Activation string
	StageTable string // rows "t,c,n,s,k,dp" separated by whitespace or ';'
}

// ParseStageTable parses a stage table string into stage specs. Each row has
// six comma-separated fields "t,c,n,s,k,dp". An empty string yields nil,
// which selects the default table.
func ParseStageTable(s string) ([]nn.StageSpec, error) {
	rows := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(rows) == 0 {
		return nil, nil
	}
	stages := make([]nn.StageSpec, len(rows))
	for i, row := range rows {
		fields := strings.Split(row, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("stage %d: expected 6 fields \"t,c,n,s,k,dp\", got %q", i, row)
		}
		vals := make([]int, 5)
		for j := 0; j < 5; j++ {
			n, err := strconv.Atoi(strings.TrimSpace(fields[j]))
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
			vals[j] = n
		}
		dp, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		stages[i] = nn.StageSpec{
			Expansion:   vals[0],
			OutChannels: vals[1],
			Repeat:      vals[2],
			Stride:      vals[3],
			Kernel:      vals[4],
			DropProb:    dp,
		}
	}
	return stages, nil
}

// ParseActivation maps an activation name to its configuration. slope is
// only read for leaky_relu.
func ParseActivation(name string, slope float64) (layers.ActConfig, error) {
	switch strings.ToLower(name) {
	case "", "relu6":
		return layers.ActConfig{Kind: layers.ReLU6}, nil
	case "relu":
		return layers.ActConfig{Kind: layers.ReLU}, nil
	case "leaky_relu":
		return layers.ActConfig{Kind: layers.LeakyReLU, Slope: slope}, nil
	default:
		return layers.ActConfig{}, fmt.Errorf("unknown activation %q", name)
	}
}

// ValidateConfig validates construction parameters before the model is built.
func ValidateConfig(c *Config) error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("number of classes must be positive")
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("input size must be a positive multiple of 32")
	}
	if c.WidthMult <= 0 {
		return fmt.Errorf("width multiplier must be positive")
	}
	if c.DropProb < 0 || c.DropProb >= 1 {
		return fmt.Errorf("drop probability must be in [0,1)")
	}
	if c.NumSteps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	return nil
}

// ModelConfig resolves the textual config into model construction parameters.
func (c *Config) ModelConfig() (nn.Config, error) {
	if err := ValidateConfig(c); err != nil {
		return nn.Config{}, err
	}
	stages, err := ParseStageTable(c.StageTable)
	if err != nil {
		return nn.Config{}, err
	}
	act, err := ParseActivation(c.Activation, 0.01)
	if err != nil {
		return nn.Config{}, err
	}
	return nn.Config{
		NumClasses: c.NumClasses,
		InputSize:  c.InputSize,
		WidthMult:  c.WidthMult,
		DropProb:   c.DropProb,
		NumSteps:   c.NumSteps,
		Activation: act,
		Stages:     stages,
	}, nil
}
