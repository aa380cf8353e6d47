package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

// VariantSelector picks one variant of a master playlist.
type VariantSelector struct {
	// ordered by bandwidth, highest first; equal bandwidths keep playlist order
	variants []*models.Variant
}

// NewVariantSelector sorts a copy of variants by bandwidth.
func NewVariantSelector(variants []*models.Variant) *VariantSelector {
	vs := &VariantSelector{variants: append([]*models.Variant(nil), variants...)}
	sort.SliceStable(vs.variants, func(i, j int) bool {
		return vs.variants[i].Bandwidth > vs.variants[j].Bandwidth
	})
	return vs
}

// Select selects a variant based on selector string:
// "best" (default), "worst", or a resolution such as "720p", "1080p", "4k".
func (vs *VariantSelector) Select(selector string) *models.Variant {
	if len(vs.variants) == 0 {
		return nil
	}

	selector = strings.ToLower(strings.TrimSpace(selector))
	switch selector {
	case "", "best", "bv", "highest":
		return vs.variants[0]
	case "worst", "lowest":
		return vs.lowest()
	}

	if isResolutionSelector(selector) {
		if v := vs.findByResolution(selector); v != nil {
			return v
		}
	}

	// Fallback
	return vs.variants[0]
}

func (vs *VariantSelector) lowest() *models.Variant {
	last := vs.variants[len(vs.variants)-1]
	// first listed among the lowest
	for _, v := range vs.variants {
		if v.Bandwidth == last.Bandwidth {
			return v
		}
	}
	return last
}

func isResolutionSelector(s string) bool {
	s = strings.ToLower(s)
	return strings.HasSuffix(s, "p") || s == "4k" || s == "2k" ||
		s == "hd" || s == "fhd" || s == "sd"
}

func (vs *VariantSelector) findByResolution(res string) *models.Variant {
	targetHeight := 0

	switch res {
	case "4k", "2160p":
		targetHeight = 2160
	case "1440p", "2k":
		targetHeight = 1440
	case "1080p", "fhd":
		targetHeight = 1080
	case "720p", "hd":
		targetHeight = 720
	case "480p", "sd":
		targetHeight = 480
	default:
		fmt.Sscanf(res, "%dp", &targetHeight)
	}
	if targetHeight <= 0 {
		return nil
	}

	// Closest height; the bandwidth order breaks ties.
	var best *models.Variant
	bestDiff := int(^uint(0) >> 1) // Max int

	for _, v := range vs.variants {
		h := height(v.Resolution)
		if h == 0 {
			continue
		}
		if diff := abs(h - targetHeight); diff < bestDiff {
			bestDiff = diff
			best = v
		}
	}
	return best
}

// height extracts H from a WxH resolution string.
func height(resolution string) int {
	_, h, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return n
}

// SelectVariant is the main entry point for variant selection.
func SelectVariant(variants []*models.Variant, selector string) (*models.Variant, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants available")
	}

	v := NewVariantSelector(variants).Select(selector)
	if v == nil {
		return nil, fmt.Errorf("no variant matched selector: %s", selector)
	}
	return v, nil
}

// Selector adapts SelectVariant to the resolver's callback.
func Selector(selector string) func([]*models.Variant) (*models.Variant, error) {
	return func(variants []*models.Variant) (*models.Variant, error) {
		return SelectVariant(variants, selector)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
