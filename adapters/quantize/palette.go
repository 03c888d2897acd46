package quantize

import (
	"image/color"
	"slices"
)

type swatch struct {
	c     [3]uint8
	count int
}

// BuildPalette returns at most limit colors for the rgb pixels.  When the
// image has no more than limit distinct colors they are used as is, in order
// of first appearance; otherwise the colors are reduced by median cut.
func BuildPalette(rgb []byte, limit int) color.Palette {
	if limit <= 0 {
		limit = DefaultColors
	}
	index := make(map[[3]uint8]int)
	var swatches []swatch
	for i := 0; i+2 < len(rgb); i += 3 {
		c := [3]uint8{rgb[i], rgb[i+1], rgb[i+2]}
		if j, ok := index[c]; ok {
			swatches[j].count++
			continue
		}
		index[c] = len(swatches)
		swatches = append(swatches, swatch{c: c, count: 1})
	}

	if len(swatches) == 0 {
		return color.Palette{color.RGBA{A: 0xff}}
	}
	if len(swatches) <= limit {
		p := make(color.Palette, len(swatches))
		for i, s := range swatches {
			p[i] = color.RGBA{R: s.c[0], G: s.c[1], B: s.c[2], A: 0xff}
		}
		return p
	}

	boxes := medianCut(swatches, limit)
	p := make(color.Palette, len(boxes))
	for i, b := range boxes {
		p[i] = b.mean()
	}
	return p
}

type box []swatch

// widest returns the channel with the largest value range and that range.
func (b box) widest() (channel int, width int) {
	for ch := 0; ch < 3; ch++ {
		lo, hi := uint8(255), uint8(0)
		for _, s := range b {
			lo = min(lo, s.c[ch])
			hi = max(hi, s.c[ch])
		}
		if w := int(hi) - int(lo); w > width {
			channel, width = ch, w
		}
	}
	return channel, width
}

func (b box) mean() color.RGBA {
	var sum [3]int
	total := 0
	for _, s := range b {
		for ch := 0; ch < 3; ch++ {
			sum[ch] += int(s.c[ch]) * s.count
		}
		total += s.count
	}
	return color.RGBA{
		R: uint8((sum[0] + total/2) / total),
		G: uint8((sum[1] + total/2) / total),
		B: uint8((sum[2] + total/2) / total),
		A: 0xff,
	}
}

func medianCut(swatches []swatch, n int) []box {
	boxes := []box{box(swatches)}
	for len(boxes) < n {
		// Split the box with the widest channel range.
		target, channel, best := -1, 0, 0
		for i, b := range boxes {
			if len(b) < 2 {
				continue
			}
			if ch, w := b.widest(); w > best {
				target, channel, best = i, ch, w
			}
		}
		if target < 0 {
			break
		}

		b := boxes[target]
		slices.SortStableFunc(b, func(x, y swatch) int {
			return int(x.c[channel]) - int(y.c[channel])
		})
		total := 0
		for _, s := range b {
			total += s.count
		}
		cut, seen := 1, 0
		for i, s := range b {
			seen += s.count
			if seen*2 >= total {
				cut = i + 1
				break
			}
		}
		cut = min(max(cut, 1), len(b)-1)

		boxes[target] = b[:cut]
		boxes = append(boxes, b[cut:])
	}
	return boxes
}
