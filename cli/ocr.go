//go:build tesseract

package cli

import (
	"github.com/georgepadayatti/docsign/config"
	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/ocr/tesseract"
)

// labelLocator returns the Tesseract locator when OCR is enabled.
func labelLocator(cfg *config.Config) (detect.LabelLocator, error) {
	if !cfg.OCR.Enabled {
		return nil, nil
	}
	l := tesseract.NewLocator(cfg.OCR.Languages...)
	l.MinConfidence = cfg.OCR.MinConfidence
	l.Keywords = cfg.Detection.Keywords
	return l, nil
}
