// Package detect suggests where a signature should go on a rendered page.
//
// Detection is a pipeline of pixel heuristics run in priority order: ruled
// signature lines, empty page zones, space next to label-like text, boxed
// regions, and finally layout-based and fixed fallbacks. The pipeline stops
// as soon as a confident candidate is found. None of it is text recognition;
// see LabelLocator for the one place a real OCR engine can be plugged in.
package detect

import (
	"fmt"

	"github.com/georgepadayatti/docsign/geom"
)

// FieldType identifies the strategy that produced a candidate.
type FieldType int

const (
	FieldHorizontalLine FieldType = iota
	FieldEmptySpace
	FieldKeywordBased
	FieldStructuralZone
	FieldBoxDetected
	FieldFallback
)

// String returns the wire name of the field type.
func (t FieldType) String() string {
	switch t {
	case FieldHorizontalLine:
		return "horizontal_line"
	case FieldEmptySpace:
		return "empty_space"
	case FieldKeywordBased:
		return "keyword_based"
	case FieldStructuralZone:
		return "structural_zone"
	case FieldBoxDetected:
		return "box_detected"
	case FieldFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// ParseFieldType parses a wire name produced by String.
func ParseFieldType(s string) (FieldType, error) {
	for t := FieldHorizontalLine; t <= FieldFallback; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return FieldFallback, fmt.Errorf("invalid field type: %s", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Priority tiers; lower runs first and sorts first.
const (
	tierLine = iota + 1
	tierEmpty
	tierKeyword
	tierBox
	tierStructural
	tierAbsolute
)

// Candidate is a suggested signature rectangle on the reference raster.
type Candidate struct {
	geom.Rect
	Confidence float64   `json:"confidence"`
	FieldType  FieldType `json:"field_type"`
	Reason     string    `json:"reason"`
	Tier       int       `json:"tier"`
}

// String returns a short diagnostic form.
func (c Candidate) String() string {
	return fmt.Sprintf("%s %v conf=%.2f (%s)", c.FieldType, c.Rect, c.Confidence, c.Reason)
}
