//go:build !tesseract

package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOCRFlagWithoutTesseract(t *testing.T) {
	page, _ := fixtures(t)
	_, err := runDetect(context.Background(), page, &DetectOptions{commonOptions: commonOptions{OCR: true}, Page: 1})
	assert.ErrorIs(t, err, errNoOCR)
}
