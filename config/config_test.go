package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/georgepadayatti/docsign/compose"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	if err.Message != "message" {
		t.Errorf("Expected message 'message', got '%s'", err.Message)
	}

	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("ConfigError should unwrap to ErrConfigurationError")
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Export.Scale <= cfg.Display.Scale {
		t.Errorf("export scale %g should exceed display scale %g", cfg.Export.Scale, cfg.Display.Scale)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoggingConfigSetDefaults(t *testing.T) {
	config := &LoggingConfig{}
	config.SetDefaults()

	if config.Level != "info" {
		t.Errorf("Expected level 'info', got '%s'", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("Expected format 'text', got '%s'", config.Format)
	}
	if config.Output != "stderr" {
		t.Errorf("Expected output 'stderr', got '%s'", config.Output)
	}

	// Values should not be overwritten
	config2 := &LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	config2.SetDefaults()
	if config2.Level != "debug" {
		t.Error("SetDefaults should not overwrite existing values")
	}
}

func TestLoggingConfigNewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "docsign.log")
	cfg := &LoggingConfig{Level: "debug", Format: "json", Output: logFile}
	logger, closeFn, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug("hello")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("log file = %q, want a JSON line", data)
	}

	if _, _, err := (&LoggingConfig{Level: "loud"}).NewLogger(); err == nil {
		t.Error("NewLogger should reject an unknown level")
	}
	if _, _, err := (&LoggingConfig{Format: "xml"}).NewLogger(); err == nil {
		t.Error("NewLogger should reject an unknown format")
	}
}

func TestParseConfig(t *testing.T) {
	yamlData := []byte(`
detection:
  signature-width: 200
  keywords: [firma, sign here]
display:
  scale: 1.25
export:
  scale: 3
  format: jpeg
  jpeg-quality: 80
gesture:
  touch-tolerance: 30
storage:
  base-url: https://cdn.example.com
`)

	config, err := ParseConfig(yamlData)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if config.Detection.SignatureWidth != 200 {
		t.Errorf("Expected signature-width 200, got %d", config.Detection.SignatureWidth)
	}
	if config.Detection.SignatureHeight != 50 {
		t.Errorf("Unset signature-height should keep its default, got %d", config.Detection.SignatureHeight)
	}
	if len(config.Detection.Keywords) != 2 {
		t.Errorf("Expected 2 keywords, got %v", config.Detection.Keywords)
	}
	if config.Display.Scale != 1.25 {
		t.Errorf("Expected display scale 1.25, got %g", config.Display.Scale)
	}
	if config.Storage.BlobRoot != "data/blobs" {
		t.Errorf("Unset blob-root should keep its default, got %q", config.Storage.BlobRoot)
	}

	export := config.ExportOptions()
	if export.Scale != 3 || export.Format != compose.FormatJPEG || export.JPEGQuality != 80 {
		t.Errorf("ExportOptions() = %+v", export)
	}
	if a := config.TouchAdapter(nil); a.Tolerance != 30 {
		t.Errorf("TouchAdapter().Tolerance = %g, want 30", a.Tolerance)
	}
}

func TestParseConfigEmpty(t *testing.T) {
	for _, data := range []string{"", "\n", "# nothing here\n"} {
		cfg, err := ParseConfig([]byte(data))
		if err != nil {
			t.Errorf("ParseConfig(%q) error = %v", data, err)
			continue
		}
		if cfg.Export.Scale != compose.DefaultScale {
			t.Errorf("ParseConfig(%q) export scale = %g, want default", data, cfg.Export.Scale)
		}
	}
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"not yaml", "detection: [", ""},
		{"unknown key", "detection:\n  colour: red\n", ""},
		{"bad format", "export:\n  format: tiff\n", "export.format"},
		{"bad quality", "export:\n  jpeg-quality: 0\n", "export.jpeg-quality"},
		{"zoom outside range", "display:\n  scale: 10\n", "display.scale"},
		{"negative margin", "placement:\n  margin: -1\n", "placement.margin"},
		{"bad detection", "detection:\n  sample-step: 0\n", "detection"},
		{"ocr without languages", "ocr:\n  enabled: true\n  languages: []\n", "ocr.languages"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad rasterizer", "pdf:\n  rasterizer: poppler\n", "pdf.rasterizer"},
		{"rasterize without rasterizer", "pdf:\n  rasterizer: none\nexport:\n  rasterize-pdf: true\n", "export.rasterize-pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			if err == nil {
				t.Fatal("ParseConfig should fail")
			}
			if tt.field == "" {
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error %v is not a *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestParseConfigNotADictionary(t *testing.T) {
	_, err := ParseConfig([]byte("- a\n- b\n"))
	if !errors.Is(err, ErrInvalidConfigType) {
		t.Errorf("ParseConfig(list) error = %v, want ErrInvalidConfigType", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	yamlData := []byte(`
placement:
  margin: 20
logging:
  level: debug
`)

	if err := os.WriteFile(configFile, yamlData, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := config.PlacementOptions().Margin; got != 20 {
		t.Errorf("Expected margin 20, got %g", got)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected level 'debug', got '%s'", config.Logging.Level)
	}
	if config.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got '%s'", config.Logging.Format)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Error("LoadConfig should error for non-existent file")
	}
}

func TestLoadConfigFromMap(t *testing.T) {
	config, err := LoadConfigFromMap(map[string]any{
		"gesture": map[string]any{"min-width": 80, "min-height": 40},
	})
	if err != nil {
		t.Fatalf("LoadConfigFromMap failed: %v", err)
	}
	opts := config.GestureOptions()
	if opts.MinWidth != 80 || opts.MinHeight != 40 {
		t.Errorf("GestureOptions() = %+v, want 80x40", opts)
	}
}

func TestDetectionOptionsIsACopy(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.DetectionOptions()
	opts.Keywords[0] = "changed"
	opts.SignatureWidth = 1
	if cfg.Detection.Keywords[0] == "changed" || cfg.Detection.SignatureWidth == 1 {
		t.Error("DetectionOptions() must not alias the configuration")
	}
}

func TestPDFRasterizer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PDF.Rasterizer = RasterizerNone
	if r, err := cfg.PDFRasterizer(); r != nil || err != nil {
		t.Errorf("none: PDFRasterizer() = %v, %v; want nil, nil", r, err)
	}

	cfg.PDF.Ghostscript = "/nonexistent/gs"
	cfg.PDF.Rasterizer = RasterizerAuto
	if r, err := cfg.PDFRasterizer(); r != nil || err != nil {
		t.Errorf("auto without gs: PDFRasterizer() = %v, %v; want nil, nil", r, err)
	}

	cfg.PDF.Rasterizer = RasterizerGhostscript
	_, err := cfg.PDFRasterizer()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "pdf.ghostscript" {
		t.Errorf("ghostscript without gs: error = %v, want pdf.ghostscript ConfigError", err)
	}
}
