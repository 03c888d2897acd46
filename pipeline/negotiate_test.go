package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Skryldev/imagestream/core"
)

func cs(tags ...string) []core.ColorSpace {
	out := make([]core.ColorSpace, len(tags))
	for i, t := range tags {
		out[i] = core.ColorSpace(t)
	}
	return out
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name      string
		in        core.ColorSpace
		supported []core.ColorSpace
		want      core.Plan
	}{
		{
			name:      "exact match",
			in:        "gray",
			supported: cs("rgb", "gray"),
			want:      core.Plan{Shape: core.Direct, Input: "gray", Output: "gray"},
		},
		{
			name:      "default list accepts rgb",
			in:        "rgb",
			supported: nil,
			want:      core.Plan{Shape: core.Direct, Input: "rgb", Output: "rgb"},
		},
		{
			name:      "default list converts rgba",
			in:        "rgba",
			supported: nil,
			want:      core.Plan{Shape: core.ConvertOnly, Input: "rgba", Output: "rgb"},
		},
		{
			name:      "alpha match wins over position",
			in:        "rgba",
			supported: cs("gray", "graya", "cmyk"),
			want:      core.Plan{Shape: core.ConvertOnly, Input: "rgba", Output: "graya"},
		},
		{
			name:      "alpha match at the head",
			in:        "rgba",
			supported: cs("graya", "gray", "cmyk"),
			want:      core.Plan{Shape: core.ConvertOnly, Input: "rgba", Output: "graya"},
		},
		{
			name:      "no alpha input prefers opaque",
			in:        "cmyk",
			supported: cs("rgba", "graya", "gray", "rgb"),
			want:      core.Plan{Shape: core.ConvertOnly, Input: "cmyk", Output: "gray"},
		},
		{
			name:      "declared order breaks ties within the alpha group",
			in:        "graya",
			supported: cs("rgb", "rgba", "gray"),
			want:      core.Plan{Shape: core.ConvertOnly, Input: "graya", Output: "rgba"},
		},
		{
			name:      "no alpha candidate falls back to the first entry",
			in:        "rgba",
			supported: cs("gray", "rgb"),
			want:      core.Plan{Shape: core.ConvertOnly, Input: "rgba", Output: "gray"},
		},
		{
			name:      "indexed output quantizes",
			in:        "rgb",
			supported: cs("indexed"),
			want:      core.Plan{Shape: core.ConvertThenQuantize, Input: "rgb", Output: "indexed"},
		},
		{
			name:      "indexed input passes when accepted",
			in:        "indexed",
			supported: cs("rgb", "indexed"),
			want:      core.Plan{Shape: core.Direct, Input: "indexed", Output: "indexed"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Negotiate(tc.in, tc.supported))
		})
	}
}

func TestNegotiateDoesNotReorderCallerList(t *testing.T) {
	supported := cs("gray", "graya", "cmyk")
	Negotiate("rgba", supported)
	assert.Equal(t, cs("gray", "graya", "cmyk"), supported)
}

func TestShapeStages(t *testing.T) {
	assert.Equal(t, 0, core.Direct.Stages())
	assert.Equal(t, 1, core.ConvertOnly.Stages())
	assert.Equal(t, 2, core.ConvertThenQuantize.Stages())
}
