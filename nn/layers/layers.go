package layers

// TypeError reports a Forward input with an unsupported kind or rank.
type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }

// ErrRank is returned when a feature-map layer receives a tensor that is
// neither [C,H,W] nor [B,C,H,W].
var ErrRank = &TypeError{"input must be a 3D [C,H,W] or 4D [B,C,H,W] tensor"}

// featureDims splits a feature-map shape into batch, channel and spatial
// parts. 3D inputs are treated as batch size 1; batched reports which form
// was seen so layers can preserve the input rank.
func featureDims(shape []int) (b, c, h, w int, batched bool, err error) {
	switch len(shape) {
	case 3:
		return 1, shape[0], shape[1], shape[2], false, nil
	case 4:
		return shape[0], shape[1], shape[2], shape[3], true, nil
	default:
		return 0, 0, 0, 0, false, ErrRank
	}
}
