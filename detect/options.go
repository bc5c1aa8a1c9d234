package detect

import (
	"fmt"

	"github.com/georgepadayatti/docsign/raster"
)

// Options tunes the detection heuristics. All lengths are raster pixels.
type Options struct {
	// SignatureWidth and SignatureHeight size the candidates.
	SignatureWidth  int `yaml:"signature-width" json:"signature_width"`
	SignatureHeight int `yaml:"signature-height" json:"signature_height"`

	// Margin keeps candidates away from the raster edges.
	Margin int `yaml:"margin" json:"margin"`

	// SampleStep is the sampling stride for region ratios (2-5 is typical).
	SampleStep int `yaml:"sample-step" json:"sample_step"`

	DarkThreshold  uint8 `yaml:"dark-threshold" json:"dark_threshold"`
	WhiteThreshold uint8 `yaml:"white-threshold" json:"white_threshold"`

	// Horizontal line strategy.
	LineMinLength      int     `yaml:"line-min-length" json:"line_min_length"`
	LineMaxLength      int     `yaml:"line-max-length" json:"line_max_length"`
	LineSearchFraction float64 `yaml:"line-search-fraction" json:"line_search_fraction"`
	LineSolidRatio     float64 `yaml:"line-solid-ratio" json:"line_solid_ratio"`
	LineBand           int     `yaml:"line-band" json:"line_band"`
	EmptyBandSearch    int     `yaml:"empty-band-search" json:"empty_band_search"`
	EmptyBandRatio     float64 `yaml:"empty-band-ratio" json:"empty_band_ratio"`
	MaxLineCandidates  int     `yaml:"max-line-candidates" json:"max_line_candidates"`

	// ZoneEmptyRatio is the emptiness a fixed page zone needs.
	ZoneEmptyRatio float64 `yaml:"zone-empty-ratio" json:"zone_empty_ratio"`

	// BoxEmptyRatio is the emptiness required inside a detected box.
	BoxEmptyRatio float64 `yaml:"box-empty-ratio" json:"box_empty_ratio"`

	// StopConfidence ends the pipeline once a candidate reaches it.
	StopConfidence float64 `yaml:"stop-confidence" json:"stop_confidence"`

	// Keywords are matched against recognized label text.
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// DefaultOptions returns the default detection options.
func DefaultOptions() *Options {
	return &Options{
		SignatureWidth:     150,
		SignatureHeight:    50,
		Margin:             10,
		SampleStep:         3,
		DarkThreshold:      raster.DefaultDarkThreshold,
		WhiteThreshold:     raster.DefaultWhiteThreshold,
		LineMinLength:      80,
		LineMaxLength:      400,
		LineSearchFraction: 0.30,
		LineSolidRatio:     0.70,
		LineBand:           2,
		EmptyBandSearch:    70,
		EmptyBandRatio:     0.90,
		MaxLineCandidates:  3,
		ZoneEmptyRatio:     0.90,
		BoxEmptyRatio:      0.85,
		StopConfidence:     0.85,
		Keywords:           append([]string(nil), DefaultKeywords...),
	}
}

// Validate checks the options for values the heuristics cannot work with.
func (o *Options) Validate() error {
	switch {
	case o.SignatureWidth <= 0 || o.SignatureHeight <= 0:
		return fmt.Errorf("signature size must be positive, got %dx%d", o.SignatureWidth, o.SignatureHeight)
	case o.Margin < 0:
		return fmt.Errorf("margin must not be negative, got %d", o.Margin)
	case o.SampleStep < 1:
		return fmt.Errorf("sample step must be at least 1, got %d", o.SampleStep)
	case o.LineMinLength <= 0 || o.LineMaxLength < o.LineMinLength:
		return fmt.Errorf("invalid line length range [%d,%d]", o.LineMinLength, o.LineMaxLength)
	case o.LineSearchFraction <= 0 || o.LineSearchFraction > 1:
		return fmt.Errorf("line search fraction must be in (0,1], got %g", o.LineSearchFraction)
	case o.DarkThreshold >= o.WhiteThreshold:
		return fmt.Errorf("dark threshold %d must be below white threshold %d", o.DarkThreshold, o.WhiteThreshold)
	}
	for name, v := range map[string]float64{
		"line-solid-ratio": o.LineSolidRatio,
		"empty-band-ratio": o.EmptyBandRatio,
		"zone-empty-ratio": o.ZoneEmptyRatio,
		"box-empty-ratio":  o.BoxEmptyRatio,
		"stop-confidence":  o.StopConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %g", name, v)
		}
	}
	return nil
}
