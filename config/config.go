// Package config loads docsign settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/docsign/compose"
	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/document"
	"github.com/georgepadayatti/docsign/gesture"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/placement"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrInvalidConfigType  = errors.New("configuration must be a dictionary")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// DisplayConfig controls the interactive page view.
type DisplayConfig struct {
	// Scale is the initial zoom in raster pixels per point.
	Scale float64 `yaml:"scale" json:"scale"`

	MinScale float64 `yaml:"min-scale" json:"min_scale"`
	MaxScale float64 `yaml:"max-scale" json:"max_scale"`
}

// PlacementConfig controls signature placement.
type PlacementConfig struct {
	// Margin keeps signatures this many raster pixels inside the page.
	Margin float64 `yaml:"margin" json:"margin"`
}

// GestureConfig controls drag and resize handling.
type GestureConfig struct {
	MinWidth       float64 `yaml:"min-width" json:"min_width"`
	MinHeight      float64 `yaml:"min-height" json:"min_height"`
	TouchTolerance float64 `yaml:"touch-tolerance" json:"touch_tolerance"`
}

// ExportConfig controls flattening.
type ExportConfig struct {
	Scale float64 `yaml:"scale" json:"scale"`

	// Format is auto, png, jpeg or pdf.
	Format      string `yaml:"format" json:"format"`
	JPEGQuality int    `yaml:"jpeg-quality" json:"jpeg_quality"`
	PDFJPEG     bool   `yaml:"pdf-jpeg" json:"pdf_jpeg"`

	// RasterizePDF replaces PDF pages with rendered images instead of
	// drawing the signatures over them. It needs a PDF rasterizer.
	RasterizePDF bool `yaml:"rasterize-pdf" json:"rasterize_pdf"`
}

// PDF rasterizer names.
const (
	RasterizerAuto        = "auto"
	RasterizerGhostscript = "ghostscript"
	RasterizerNone        = "none"
)

// PDFConfig selects how PDF pages are rendered for display and detection.
type PDFConfig struct {
	// Rasterizer is auto, ghostscript or none. Auto uses Ghostscript when
	// it is installed.
	Rasterizer string `yaml:"rasterizer" json:"rasterizer"`

	// Ghostscript is the gs executable; empty searches PATH.
	Ghostscript string `yaml:"ghostscript" json:"ghostscript,omitempty"`
}

// OCRConfig enables text recognition for label detection.
type OCRConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Languages     []string `yaml:"languages" json:"languages,omitempty"`
	MinConfidence float64  `yaml:"min-confidence" json:"min_confidence"`
}

// StorageConfig locates persisted blobs and catalogs.
type StorageConfig struct {
	BlobRoot     string `yaml:"blob-root" json:"blob_root"`
	MetadataRoot string `yaml:"metadata-root" json:"metadata_root"`

	// BaseURL is the public URL blobs are served under, if any.
	BaseURL string `yaml:"base-url" json:"base_url,omitempty"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// NewLogger builds the configured logger. The returned close function
// releases a log file and is never nil.
func (c *LoggingConfig) NewLogger() (*slog.Logger, func() error, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
	}

	var w io.Writer
	closeFn := func() error { return nil }
	switch c.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closeFn = f, f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	default:
		closeFn()
		return nil, nil, NewConfigError("logging.format", fmt.Sprintf("unknown format %q (valid: text, json)", c.Format))
	}
}

// Config is the complete application configuration.
type Config struct {
	Detection detect.Options  `yaml:"detection" json:"detection"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Placement PlacementConfig `yaml:"placement" json:"placement"`
	Gesture   GestureConfig   `yaml:"gesture" json:"gesture"`
	Export    ExportConfig    `yaml:"export" json:"export"`
	PDF       PDFConfig       `yaml:"pdf" json:"pdf"`
	OCR       OCRConfig       `yaml:"ocr" json:"ocr"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Detection: *detect.DefaultOptions(),
		Display:   DisplayConfig{Scale: 1.5, MinScale: 0.5, MaxScale: 4},
		Placement: PlacementConfig{Margin: placement.DefaultMargin},
		Gesture: GestureConfig{
			MinWidth:       gesture.DefaultMinWidth,
			MinHeight:      gesture.DefaultMinHeight,
			TouchTolerance: gesture.DefaultTouchTolerance,
		},
		Export: ExportConfig{
			Scale:       compose.DefaultScale,
			Format:      compose.FormatAuto.String(),
			JPEGQuality: compose.DefaultJPEGQuality,
		},
		PDF: PDFConfig{Rasterizer: RasterizerAuto},
		OCR: OCRConfig{Languages: []string{"eng", "spa"}, MinConfidence: 0.4},
		Storage: StorageConfig{
			BlobRoot:     "data/blobs",
			MetadataRoot: "data/catalogs",
		},
	}
	cfg.Logging.SetDefaults()
	return cfg
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML data over the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		var top any
		if err := yaml.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if _, ok := top.(map[string]any); !ok && top != nil {
			return nil, ErrInvalidConfigType
		}

		if top != nil {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.Logging.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromMap loads configuration from a map.
func LoadConfigFromMap(data map[string]any) (*Config, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config map: %w", err)
	}
	return ParseConfig(yamlData)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return &ConfigError{Field: "detection", Message: err.Error()}
	}
	d := c.Display
	if d.MinScale <= 0 || d.MaxScale < d.MinScale {
		return NewConfigError("display", fmt.Sprintf("invalid scale range [%g,%g]", d.MinScale, d.MaxScale))
	}
	if d.Scale < d.MinScale || d.Scale > d.MaxScale {
		return NewConfigError("display.scale", fmt.Sprintf("%g is outside [%g,%g]", d.Scale, d.MinScale, d.MaxScale))
	}
	if c.Placement.Margin < 0 {
		return NewConfigError("placement.margin", "must not be negative")
	}
	if c.Gesture.MinWidth <= 0 || c.Gesture.MinHeight <= 0 {
		return NewConfigError("gesture", "minimum size must be positive")
	}
	if c.Gesture.TouchTolerance < 0 {
		return NewConfigError("gesture.touch-tolerance", "must not be negative")
	}
	if c.Export.Scale <= 0 {
		return NewConfigError("export.scale", "must be positive")
	}
	if _, err := compose.ParseFormat(c.Export.Format); err != nil {
		return &ConfigError{Field: "export.format", Message: err.Error(), Err: err}
	}
	if q := c.Export.JPEGQuality; q < 1 || q > 100 {
		return NewConfigError("export.jpeg-quality", fmt.Sprintf("%d is outside [1,100]", q))
	}
	switch c.PDF.Rasterizer {
	case RasterizerAuto, RasterizerGhostscript:
	case RasterizerNone:
		if c.Export.RasterizePDF {
			return NewConfigError("export.rasterize-pdf", "needs a PDF rasterizer")
		}
	default:
		return NewConfigError("pdf.rasterizer", fmt.Sprintf("unknown rasterizer %q (valid: auto, ghostscript, none)", c.PDF.Rasterizer))
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return NewConfigError("ocr.min-confidence", "must be in [0,1]")
	}
	if c.OCR.Enabled && len(c.OCR.Languages) == 0 {
		return NewConfigError("ocr.languages", "at least one language is required when OCR is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
	}
	return nil
}

// DetectionOptions returns a copy of the detection options.
func (c *Config) DetectionOptions() *detect.Options {
	o := c.Detection
	o.Keywords = append([]string(nil), c.Detection.Keywords...)
	return &o
}

// PlacementOptions returns store options for the placement section.
func (c *Config) PlacementOptions() *placement.Options {
	o := placement.DefaultOptions()
	o.Margin = c.Placement.Margin
	return o
}

// GestureOptions returns controller options for the gesture section.
func (c *Config) GestureOptions() *gesture.Options {
	o := gesture.DefaultOptions()
	o.MinWidth = c.Gesture.MinWidth
	o.MinHeight = c.Gesture.MinHeight
	return o
}

// TouchAdapter returns a touch adapter using the configured tolerance.
func (c *Config) TouchAdapter(scroll func() gesture.Point) *gesture.TouchAdapter {
	a := gesture.NewTouchAdapter(scroll)
	a.Tolerance = c.Gesture.TouchTolerance
	return a
}

// ExportOptions returns compositor options for the export section.
func (c *Config) ExportOptions() *compose.Options {
	o := compose.DefaultOptions()
	o.Scale = c.Export.Scale
	o.Format, _ = compose.ParseFormat(c.Export.Format)
	o.JPEGQuality = c.Export.JPEGQuality
	o.PDFJPEG = c.Export.PDFJPEG
	o.RasterizePDF = c.Export.RasterizePDF
	return o
}

// PDFRasterizer returns the configured PDF rasterizer. It returns nil
// when rendering is disabled, or set to auto and Ghostscript is missing.
func (c *Config) PDFRasterizer() (document.Rasterizer, error) {
	switch c.PDF.Rasterizer {
	case RasterizerNone:
		return nil, nil
	case RasterizerGhostscript:
		gs, err := document.FindGhostscript(c.PDF.Ghostscript)
		if err != nil {
			return nil, &ConfigError{Field: "pdf.ghostscript", Message: err.Error(), Err: err}
		}
		return gs, nil
	default:
		gs, err := document.FindGhostscript(c.PDF.Ghostscript)
		if err != nil {
			return nil, nil
		}
		return gs, nil
	}
}
