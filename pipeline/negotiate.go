package pipeline

import (
	"slices"

	"github.com/Skryldev/imagestream/core"
)

// defaultColorSpaces is what an encoder accepts when it declares nothing.
var defaultColorSpaces = []core.ColorSpace{core.ColorSpaceRGB}

// Negotiate picks the color space an encoder will receive for an input in
// color space in.  An exact match needs no stages.  Otherwise the supported
// list is stably sorted so that entries whose alpha presence matches the
// input come first, and the head of that list wins; among entries of the same
// rank the encoder's declared order is kept.
func Negotiate(in core.ColorSpace, supported []core.ColorSpace) core.Plan {
	if len(supported) == 0 {
		supported = defaultColorSpaces
	}
	if slices.Contains(supported, in) {
		return core.Plan{Shape: core.Direct, Input: in, Output: in}
	}

	alpha := in.HasAlpha()
	rank := func(cs core.ColorSpace) int {
		if cs.HasAlpha() == alpha {
			return 0
		}
		return 1
	}
	sorted := slices.Clone(supported)
	slices.SortStableFunc(sorted, func(a, b core.ColorSpace) int {
		return rank(a) - rank(b)
	})

	out := sorted[0]
	if out == core.ColorSpaceIndexed {
		return core.Plan{Shape: core.ConvertThenQuantize, Input: in, Output: out}
	}
	return core.Plan{Shape: core.ConvertOnly, Input: in, Output: out}
}

// supportedColorSpaces returns what enc declares, or nil for the default.
func supportedColorSpaces(enc core.Encoder) []core.ColorSpace {
	if l, ok := enc.(core.ColorSpaceLister); ok {
		return l.SupportedColorSpaces()
	}
	return nil
}
