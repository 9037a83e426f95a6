// Package layout computes row geometry for the virtualized complaint list.
// Heights come from an analytic estimator, never from measuring rendered
// output, so scroll offsets are reproducible.
package layout

import "fmt"

// Estimator maps a row's display state to a pixel height.
type Estimator struct {
	// Breakpoint is the first viewport width treated as wide.
	Breakpoint int `toml:"breakpoint"`

	CollapsedNarrow int `toml:"collapsed_narrow"`
	CollapsedWide   int `toml:"collapsed_wide"`
	Body            int `toml:"body"`
	GalleryNarrow   int `toml:"gallery_narrow"`
	GalleryWide     int `toml:"gallery_wide"`
	Spacing         int `toml:"spacing"`
}

// DefaultEstimator returns the stock card geometry.
func DefaultEstimator() Estimator {
	return Estimator{
		Breakpoint:      768,
		CollapsedNarrow: 260,
		CollapsedWide:   220,
		Body:            180,
		GalleryNarrow:   240,
		GalleryWide:     160,
		Spacing:         16,
	}
}

// Validate rejects geometry that would break monotonicity.
func (e Estimator) Validate() error {
	if e.Breakpoint <= 0 {
		return fmt.Errorf("breakpoint must be positive, got %d", e.Breakpoint)
	}
	if e.CollapsedNarrow <= 0 || e.CollapsedWide <= 0 {
		return fmt.Errorf("collapsed heights must be positive")
	}
	if e.Body <= 0 {
		return fmt.Errorf("body height must be positive, got %d", e.Body)
	}
	if e.GalleryNarrow < 0 || e.GalleryWide < 0 || e.Spacing < 0 {
		return fmt.Errorf("gallery and spacing must not be negative")
	}
	return nil
}

// Wide reports whether width falls in the wide breakpoint class.
func (e Estimator) Wide(width int) bool {
	return width >= e.Breakpoint
}

// Estimate returns the height of a row. Collapsed rows are the base card;
// expanded rows add the body, the gallery when there are attachments, and
// the inter-row spacing.
func (e Estimator) Estimate(expanded bool, width int, hasAttachments bool) int {
	wide := e.Wide(width)
	h := e.CollapsedNarrow
	if wide {
		h = e.CollapsedWide
	}
	if !expanded {
		return h
	}
	h += e.Body
	if hasAttachments {
		if wide {
			h += e.GalleryWide
		} else {
			h += e.GalleryNarrow
		}
	}
	return h + e.Spacing
}
