//go:build !tesseract

package cli

import (
	"errors"

	"github.com/georgepadayatti/docsign/config"
	"github.com/georgepadayatti/docsign/detect"
)

var errNoOCR = errors.New("OCR is not available in this build (rebuild with -tags tesseract)")

func labelLocator(cfg *config.Config) (detect.LabelLocator, error) {
	if cfg.OCR.Enabled {
		return nil, errNoOCR
	}
	return nil, nil
}
