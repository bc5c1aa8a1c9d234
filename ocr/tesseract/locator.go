//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sort"

	"github.com/otiai10/gosseract/v2"

	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/raster"
)

// Locator implements detect.LabelLocator by reading the words on a page
// and keeping those that match a signature keyword.
type Locator struct {
	// Languages passed to tesseract, e.g. "eng", "spa". Empty uses the
	// engine default.
	Languages []string

	// Keywords that mark a signature label. Nil uses detect.DefaultKeywords.
	Keywords []string

	// MinConfidence drops words recognized below this confidence (0-1).
	MinConfidence float64

	// SearchFraction limits labels to the bottom part of the page.
	SearchFraction float64

	clientFactory func() *gosseract.Client
}

// NewLocator constructs a Tesseract-backed label locator.
func NewLocator(languages ...string) *Locator {
	return &Locator{
		Languages:      languages,
		MinConfidence:  0.4,
		SearchFraction: 0.6,
		clientFactory:  gosseract.NewClient,
	}
}

// word is one recognized word in page pixels.
type word struct {
	text string
	rect geom.Rect
	conf float64
}

// Locate implements detect.LabelLocator.
func (l *Locator) Locate(ctx context.Context, r *raster.Raster) ([]detect.Label, error) {
	if r == nil {
		return nil, raster.ErrNilImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Gray()); err != nil {
		return nil, fmt.Errorf("failed to encode page for OCR: %w", err)
	}

	c := l.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(l.Languages) > 0 {
		if err := c.SetLanguage(l.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := make([]word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, word{
			text: b.Word,
			rect: geom.NewRect(float64(b.Box.Min.X), float64(b.Box.Min.Y), float64(b.Box.Dx()), float64(b.Box.Dy())),
			conf: b.Confidence / 100.0,
		})
	}
	top := float64(r.Height()) * (1 - l.SearchFraction)
	return l.labels(words, top), nil
}

// labels turns recognized words into keyword labels. Adjacent words on the
// same line are also tried as a pair so "sign here" matches.
func (l *Locator) labels(words []word, top float64) []detect.Label {
	keywords := l.Keywords
	if keywords == nil {
		keywords = detect.DefaultKeywords
	}

	kept := words[:0:0]
	for _, w := range words {
		if w.conf < l.MinConfidence || w.rect.Bottom() < top {
			continue
		}
		kept = append(kept, w)
	}

	var out []detect.Label
	for i, w := range kept {
		if _, ok := detect.MatchKeyword(w.text, keywords); ok {
			out = append(out, detect.Label{Rect: w.rect, Text: w.text, Confidence: w.conf})
			continue
		}
		if i+1 < len(kept) && sameLine(w.rect, kept[i+1].rect) {
			next := kept[i+1]
			text := w.text + " " + next.text
			if _, ok := detect.MatchKeyword(text, keywords); ok {
				out = append(out, detect.Label{
					Rect:       union(w.rect, next.rect),
					Text:       text,
					Confidence: min(w.conf, next.conf),
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Y > out[j].Y })
	return out
}

// sameLine reports whether b follows a on the same text line.
func sameLine(a, b geom.Rect) bool {
	if b.X < a.X {
		return false
	}
	overlap := min(a.Bottom(), b.Bottom()) - max(a.Y, b.Y)
	return overlap > 0.5*min(a.Height, b.Height)
}

func union(a, b geom.Rect) geom.Rect {
	x0, y0 := min(a.X, b.X), min(a.Y, b.Y)
	x1, y1 := max(a.Right(), b.Right()), max(a.Bottom(), b.Bottom())
	return geom.NewRect(x0, y0, x1-x0, y1-y0)
}
