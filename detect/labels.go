package detect

import (
	"context"
	"sort"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/raster"
)

// Label is a region that looks like a field label ("Firma:", "Name:").
type Label struct {
	geom.Rect
	// Text is the recognized text, empty when the locator does not read text.
	Text       string
	Confidence float64
}

// LabelLocator finds label-like regions on a page.
type LabelLocator interface {
	Locate(ctx context.Context, r *raster.Raster) ([]Label, error)
}

// DensityLocator flags grid cells whose ink looks like a short line of text.
// It is an approximate pixel-density heuristic, not text recognition: any
// dense cell qualifies, whatever it says, so it produces false positives.
type DensityLocator struct {
	CellWidth  int
	CellHeight int
	Step       int

	// A cell qualifies when its dark ratio is within [MinDarkRatio,
	// MaxDarkRatio] and it has at least MinTransitions per sampled row.
	MinDarkRatio   float64
	MaxDarkRatio   float64
	MinTransitions float64
	DarkThreshold  uint8

	// SearchFraction limits the scan to the bottom part of the page.
	SearchFraction float64
	MaxLabels      int
}

// NewDensityLocator returns a locator with the default cell geometry.
func NewDensityLocator() *DensityLocator {
	return &DensityLocator{
		CellWidth:      120,
		CellHeight:     24,
		Step:           2,
		MinDarkRatio:   0.04,
		MaxDarkRatio:   0.35,
		MinTransitions: 4,
		DarkThreshold:  raster.DefaultDarkThreshold,
		SearchFraction: 0.5,
		MaxLabels:      8,
	}
}

// Locate implements LabelLocator.
func (l *DensityLocator) Locate(ctx context.Context, r *raster.Raster) ([]Label, error) {
	w, h := r.Width(), r.Height()
	top := int(float64(h) * (1 - l.SearchFraction))

	var labels []Label
	for y := top; y+l.CellHeight <= h; y += l.CellHeight {
		if err := ctx.Err(); err != nil {
			return labels, err
		}
		for x := 0; x+l.CellWidth <= w; x += l.CellWidth {
			stats := r.TextDensity(x, y, l.CellWidth, l.CellHeight, l.Step, l.DarkThreshold)
			if stats.DarkRatio < l.MinDarkRatio || stats.DarkRatio > l.MaxDarkRatio {
				continue
			}
			if stats.Transitions < l.MinTransitions {
				continue
			}
			labels = append(labels, Label{
				Rect:       geom.NewRect(float64(x), float64(y), float64(l.CellWidth), float64(l.CellHeight)),
				Confidence: 0.5,
			})
		}
	}

	// Labels near the bottom first; signatures conventionally sit there.
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Y > labels[j].Y })
	if l.MaxLabels > 0 && len(labels) > l.MaxLabels {
		labels = labels[:l.MaxLabels]
	}
	return labels, nil
}
