package detect

import (
	"context"
	"fmt"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/raster"
)

// lineHeadroom is the blank space kept between a candidate and its line.
const lineHeadroom = 10

// detectLines scans the bottom of the page for ruled signature lines and
// places a candidate in the first empty band above each one.
func (d *Detector) detectLines(ctx context.Context, r *raster.Raster) ([]Candidate, error) {
	o := d.Options
	w, h := r.Width(), r.Height()
	top := int(float64(h) * (1 - o.LineSearchFraction))

	var out []Candidate
	for y := h - 1; y >= top; y-- {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		run := r.ScanHorizontalRun(y, 0, w, o.DarkThreshold)
		if run.Length < o.LineMinLength || run.Length > o.LineMaxLength {
			continue
		}
		coverage := r.ColumnCoverage(run.Start, run.End(), y-o.LineBand, y+o.LineBand+1, o.SampleStep, o.DarkThreshold)
		if coverage < o.LineSolidRatio {
			continue
		}

		lineTop := d.lineTop(r, run, y)
		if c, ok := d.placeAboveLine(r, run, lineTop); ok {
			out = append(out, c)
			if len(out) >= o.MaxLineCandidates {
				break
			}
		}
		// Continue above the line's thickness.
		y = lineTop
	}
	return out, nil
}

// lineTop walks upward from row y while the row still carries the same run.
func (d *Detector) lineTop(r *raster.Raster, run raster.Run, y int) int {
	top := y
	for yy := y - 1; yy >= 0 && y-yy <= 8; yy-- {
		above := r.ScanHorizontalRun(yy, run.Start, run.End(), d.Options.DarkThreshold)
		if float64(above.Length) < 0.9*float64(run.Length) {
			break
		}
		top = yy
	}
	return top
}

func (d *Detector) placeAboveLine(r *raster.Raster, run raster.Run, lineTop int) (Candidate, bool) {
	o := d.Options
	sw, sh := o.SignatureWidth, o.SignatureHeight
	x := run.Start + run.Length/2 - sw/2
	bandH := sh + lineHeadroom

	for gap := lineHeadroom; gap <= o.EmptyBandSearch; gap += 5 {
		bandBottom := lineTop - gap
		bandTop := bandBottom - bandH
		if bandTop < 0 {
			break
		}
		if r.RegionEmptyRatio(x, bandTop, sw, bandH, o.SampleStep) < o.EmptyBandRatio {
			continue
		}

		conf := 0.90
		if run.Length >= 120 && run.Length <= 300 {
			conf = 0.95
		}
		return Candidate{
			Rect:       geom.NewRect(float64(x), float64(bandBottom-sh), float64(sw), float64(sh)),
			Confidence: conf,
			FieldType:  FieldHorizontalLine,
			Reason: fmt.Sprintf("line of %dpx at x=%d y=%d, empty band %d-%d",
				run.Length, run.Start, lineTop, bandTop, bandBottom),
			Tier: tierLine,
		}, true
	}
	return Candidate{}, false
}

// zone is a candidate window center expressed as page fractions.
type zone struct {
	name   string
	cx, cy float64
}

var emptyZones = []zone{
	{"bottom-right", 0.75, 0.85},
	{"bottom-left", 0.25, 0.85},
	{"center-bottom", 0.50, 0.88},
	{"right margin", 0.85, 0.50},
	{"left margin", 0.15, 0.50},
}

// window is a signature-sized window and the confidence it earns.
type window struct {
	w, h int
	conf float64
}

var zoneWindows = []window{
	{180, 60, 0.85},
	{150, 50, 0.78},
	{90, 36, 0.70},
}

var zoneOffsets = []float64{0, -0.04, 0.04}

// detectEmptyZones checks fixed page zones for blank signature-sized windows.
func (d *Detector) detectEmptyZones(ctx context.Context, r *raster.Raster) ([]Candidate, error) {
	o := d.Options
	w, h := float64(r.Width()), float64(r.Height())

	var out []Candidate
	for _, z := range emptyZones {
		if err := ctx.Err(); err != nil {
			return out, err
		}
	windows:
		for _, win := range zoneWindows {
			for _, off := range zoneOffsets {
				rect := geom.NewRect(
					z.cx*w-float64(win.w)/2,
					(z.cy+off)*h-float64(win.h)/2,
					float64(win.w), float64(win.h),
				).Clamp(w, h, float64(o.Margin)).Round()

				ratio := r.RegionEmptyRatio(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), o.SampleStep)
				if ratio <= o.ZoneEmptyRatio {
					continue
				}
				out = append(out, Candidate{
					Rect:       rect,
					Confidence: win.conf,
					FieldType:  FieldEmptySpace,
					Reason:     fmt.Sprintf("%s zone %.0f%% empty", z.name, ratio*100),
					Tier:       tierEmpty,
				})
				break windows
			}
		}
	}
	return out, nil
}

// detectNearLabels checks blank space to the right of and below label-like
// regions.
func (d *Detector) detectNearLabels(ctx context.Context, r *raster.Raster) ([]Candidate, error) {
	o := d.Options
	labels, err := d.labels().Locate(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to locate labels: %w", err)
	}

	sw, sh := float64(o.SignatureWidth), float64(o.SignatureHeight)
	var out []Candidate
	for _, l := range labels {
		rightConf, belowConf := 0.85, 0.80
		reason := "dense label-like cell"
		if l.Text != "" {
			kw, ok := MatchKeyword(l.Text, o.Keywords)
			if !ok {
				continue
			}
			rightConf, belowConf = 0.88, 0.86
			reason = fmt.Sprintf("label %q matches %q", l.Text, kw)
		}

		spots := []struct {
			rect geom.Rect
			conf float64
			side string
		}{
			{geom.NewRect(l.Right()+10, l.Y+l.Height/2-sh/2, sw, sh), rightConf, "right of"},
			{geom.NewRect(l.X, l.Bottom()+5, sw, sh), belowConf, "below"},
		}
		for _, p := range spots {
			ratio := r.RegionEmptyRatio(int(p.rect.X), int(p.rect.Y), int(p.rect.Width), int(p.rect.Height), o.SampleStep)
			if ratio < o.EmptyBandRatio {
				continue
			}
			out = append(out, Candidate{
				Rect:       p.rect,
				Confidence: p.conf,
				FieldType:  FieldKeywordBased,
				Reason:     fmt.Sprintf("%s %s at %v", p.side, reason, l.Rect),
				Tier:       tierKeyword,
			})
			break
		}
	}
	return out, nil
}

// detectBoxes looks in the lower half of the page for rectangles drawn as a
// top edge with two sides and a blank interior, such as signature cells of a
// table.
func (d *Detector) detectBoxes(ctx context.Context, r *raster.Raster) ([]Candidate, error) {
	o := d.Options
	w, h := r.Width(), r.Height()
	minW := int(float64(o.SignatureWidth) * 0.6)
	minH := int(float64(o.SignatureHeight) * 0.6)

	var out []Candidate
	for y := h / 2; y < h-o.Margin; y += 2 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		edge := r.ScanHorizontalRun(y, 0, w, o.DarkThreshold)
		if edge.Length < minW || float64(edge.Length) > float64(w)*0.95 {
			continue
		}

		left := r.ScanVerticalRun(edge.Start, y, h, o.DarkThreshold)
		right := r.ScanVerticalRun(edge.End()-1, y, h, o.DarkThreshold)
		if left.Start > y+2 || right.Start > y+2 {
			continue
		}
		boxH := min(left.Length, right.Length)
		if boxH < minH {
			continue
		}

		inner := geom.NewRect(float64(edge.Start+4), float64(y+4), float64(edge.Length-8), float64(boxH-8))
		ratio := r.RegionEmptyRatio(int(inner.X), int(inner.Y), int(inner.Width), int(inner.Height), o.SampleStep)
		if ratio < o.BoxEmptyRatio {
			continue
		}

		cw := min(float64(o.SignatureWidth), inner.Width-10)
		ch := min(float64(o.SignatureHeight), inner.Height-10)
		cx, cy := inner.Center()
		out = append(out, Candidate{
			Rect:       geom.NewRect(cx-cw/2, cy-ch/2, cw, ch),
			Confidence: 0.82,
			FieldType:  FieldBoxDetected,
			Reason:     fmt.Sprintf("box %dx%d at x=%d y=%d", edge.Length, boxH, edge.Start, y),
			Tier:       tierBox,
		})
		y += boxH
	}
	return out, nil
}
