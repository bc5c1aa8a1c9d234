package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/raster"
)

// Common errors
var (
	ErrStrategyFailed = errors.New("detection strategy failed")
	ErrNoMatch        = errors.New("no match")
)

// Absolute fallback rectangle, used without a raster or when nothing else
// survives the occupied-region filter.
const (
	fallbackX = 50
	fallbackY = 50
)

type strategyFunc func(ctx context.Context, r *raster.Raster) ([]Candidate, error)

type strategy struct {
	name string
	run  strategyFunc
}

// Detector runs the detection pipeline.
type Detector struct {
	Options *Options

	// Labels feeds the keyword-adjacency strategy. Nil uses a DensityLocator.
	Labels LabelLocator

	// Logger receives strategy failures. Nil uses logging.Logger().
	Logger *slog.Logger
}

// NewDetector creates a detector. A nil opts uses DefaultOptions.
func NewDetector(opts *Options) *Detector {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Detector{Options: opts}
}

func (d *Detector) logger() *slog.Logger {
	return logging.OrDefault(d.Logger)
}

func (d *Detector) labels() LabelLocator {
	if d.Labels != nil {
		return d.Labels
	}
	return NewDensityLocator()
}

// Detect returns candidate rectangles for a signature on r, ordered by
// strategy priority, then confidence, then closeness to the page bottom.
// Candidates intersecting any of the occupied rectangles are dropped.
//
// Detect never fails: a strategy that errors or panics is logged and
// skipped. A nil raster yields only the absolute fallback.
func (d *Detector) Detect(ctx context.Context, r *raster.Raster, occupied []geom.Rect) []Candidate {
	if r == nil {
		d.logger().Warn("no raster available for detection, using absolute fallback")
		return d.filter(d.absoluteFallback(), occupied)
	}
	if t := d.Options.WhiteThreshold; t > 0 && t != r.WhiteThreshold {
		view := *r
		view.WhiteThreshold = t
		r = &view
	}

	var found []Candidate
	for _, s := range d.pipeline() {
		if err := ctx.Err(); err != nil {
			d.logger().Debug("detection cancelled", slog.String("strategy", s.name), slog.Any("error", err))
			break
		}

		cands, err := d.runStrategy(ctx, s, r)
		if err != nil {
			if !errors.Is(err, ErrNoMatch) {
				d.logger().Warn("detection strategy failed",
					slog.String("strategy", s.name), slog.Any("error", err))
			}
			continue
		}

		cands = d.filter(d.clamp(cands, r), occupied)
		if len(cands) == 0 {
			d.logger().Debug("detection strategy found nothing usable", slog.String("strategy", s.name))
			continue
		}
		found = append(found, cands...)
		if bestConfidence(found) >= d.Options.StopConfidence {
			break
		}
	}

	if len(found) == 0 {
		found = d.filter(d.clamp(d.structuralFallback(r), r), occupied)
	}
	if len(found) == 0 {
		found = d.filter(d.clamp(d.absoluteFallback(), r), occupied)
	}

	sortCandidates(found)
	return found
}

func (d *Detector) pipeline() []strategy {
	return []strategy{
		{FieldHorizontalLine.String(), d.detectLines},
		{FieldEmptySpace.String(), d.detectEmptyZones},
		{FieldKeywordBased.String(), d.detectNearLabels},
		{FieldBoxDetected.String(), d.detectBoxes},
	}
}

// runStrategy converts a panic inside a heuristic into an error.
func (d *Detector) runStrategy(ctx context.Context, s strategy, r *raster.Raster) (cands []Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			cands = nil
			err = fmt.Errorf("%w: %s: %v", ErrStrategyFailed, s.name, p)
		}
	}()
	cands, err = s.run(ctx, r)
	if err == nil && len(cands) == 0 {
		err = ErrNoMatch
	}
	return cands, err
}

func (d *Detector) clamp(cands []Candidate, r *raster.Raster) []Candidate {
	if r == nil {
		return cands
	}
	w, h := float64(r.Width()), float64(r.Height())
	m := float64(d.Options.Margin)
	for i := range cands {
		cands[i].Rect = cands[i].Rect.Clamp(w, h, m).Round()
	}
	return cands
}

func (d *Detector) filter(cands []Candidate, occupied []geom.Rect) []Candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.Rect.IsEmpty() || c.Rect.IntersectsAny(occupied) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func bestConfidence(cands []Candidate) float64 {
	best := 0.0
	for _, c := range cands {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Bottom() > b.Bottom()
	})
}

// structuralFallback picks default positions from the page aspect ratio:
// landscape pages sign on the right, narrow portrait pages on the left,
// everything else right of center. The alternatives follow at lower
// confidence in case the first one is occupied.
func (d *Detector) structuralFallback(r *raster.Raster) []Candidate {
	w, h := float64(r.Width()), float64(r.Height())
	sw, sh := float64(d.Options.SignatureWidth), float64(d.Options.SignatureHeight)
	aspect := w / h

	right := Candidate{
		Rect:   geom.NewRect(w*0.70, h*0.75, sw, sh),
		Reason: "landscape layout, right side",
	}
	left := Candidate{
		Rect:   geom.NewRect(w*0.08, h*0.80, sw, sh),
		Reason: "narrow portrait layout, left side",
	}
	center := Candidate{
		Rect:   geom.NewRect(w*0.60-sw/2, h*0.70, sw, sh),
		Reason: "portrait layout, right of center",
	}

	var order []Candidate
	switch {
	case aspect > 1.2:
		order = []Candidate{right, center, left}
	case aspect < 0.65:
		order = []Candidate{left, center, right}
	default:
		order = []Candidate{center, right, left}
	}
	for i := range order {
		order[i].FieldType = FieldStructuralZone
		order[i].Tier = tierStructural
		order[i].Confidence = 0.6 - 0.05*float64(i)
	}
	return order
}

func (d *Detector) absoluteFallback() []Candidate {
	return []Candidate{{
		Rect: geom.NewRect(fallbackX, fallbackY,
			float64(d.Options.SignatureWidth), float64(d.Options.SignatureHeight)),
		Confidence: 0.1,
		FieldType:  FieldFallback,
		Reason:     "default position",
		Tier:       tierAbsolute,
	}}
}
