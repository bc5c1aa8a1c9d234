package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/docsign/compose"
	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/pdf/images"
	"github.com/georgepadayatti/docsign/pdf/reader"
	"github.com/georgepadayatti/docsign/pdf/writer"
	"github.com/georgepadayatti/docsign/session"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// fixtures writes a 600x800 page with a signature rule and a small
// signature image.
func fixtures(t *testing.T) (string, string) {
	dir := t.TempDir()

	pg := image.NewRGBA(image.Rect(0, 0, 600, 800))
	draw.Draw(pg, pg.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(pg, image.Rect(350, 700, 550, 703), image.NewUniform(color.Black), image.Point{}, draw.Src)
	page := filepath.Join(dir, "form.png")
	writePNG(t, page, pg)

	sg := image.NewNRGBA(image.Rect(0, 0, 60, 20))
	draw.Draw(sg, sg.Bounds(), image.NewUniform(color.NRGBA{0, 0, 160, 255}), image.Point{}, draw.Src)
	sig := filepath.Join(dir, "sig.png")
	writePNG(t, sig, sg)

	return page, sig
}

func writeConfig(t *testing.T, yaml string) string {
	path := filepath.Join(t.TempDir(), "docsign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestRunDetect(t *testing.T) {
	page, _ := fixtures(t)
	cfg := writeConfig(t, "display:\n  scale: 1\nlogging:\n  level: error\n")

	out, err := runDetect(context.Background(), page, &DetectOptions{commonOptions: commonOptions{ConfigFile: cfg}, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, "form.png", out.Document)
	assert.Equal(t, 600, out.RasterWidth)
	require.NotEmpty(t, out.Candidates)
	first := out.Candidates[0]
	assert.Equal(t, detect.FieldHorizontalLine, first.FieldType)
	assert.LessOrEqual(t, first.PointY+first.PointH, 700.0)

	var buf bytes.Buffer
	require.NoError(t, writeDetectJSON(&buf, out))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	cands := decoded["candidates"].([]any)
	assert.Equal(t, "horizontal_line", cands[0].(map[string]any)["field_type"])
}

func TestWriteDetectText(t *testing.T) {
	out := &DetectOutput{
		Document: "form.png", Page: 1, Pages: 1, Scale: 1, RasterWidth: 600, RasterHeight: 800,
		Candidates: []CandidateResult{{PointX: 375, PointY: 640, PointW: 150, PointH: 50,
			Confidence: 0.95, FieldType: detect.FieldHorizontalLine, Reason: "line"}},
	}

	var piped bytes.Buffer
	require.NoError(t, writeDetectText(&piped, out, false))
	assert.Equal(t, "horizontal_line\t0.95\t375\t640\t150\t50\tline\n", piped.String())

	var tty bytes.Buffer
	require.NoError(t, writeDetectText(&tty, out, true))
	assert.Contains(t, tty.String(), "TYPE")
	assert.Contains(t, tty.String(), "form.png, page 1 of 1")
}

func TestRunSign_Auto(t *testing.T) {
	page, sig := fixtures(t)
	cfg := writeConfig(t, "display:\n  scale: 1\nexport:\n  format: pdf\nlogging:\n  level: error\n")
	output := filepath.Join(t.TempDir(), "signed.pdf")

	var stdout bytes.Buffer
	err := runSign(context.Background(), page, output, &SignOptions{
		commonOptions: commonOptions{ConfigFile: cfg},
		Image:         sig,
		Name:          "Ana",
		Page:          1,
		Auto:          true,
	}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "application/pdf")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	doc, err := reader.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount())
	w, h := doc.Pages[0].Size()
	assert.Equal(t, 600.0, w)
	assert.Equal(t, 800.0, h)
}

func TestRunSign_ManualDefaultOutput(t *testing.T) {
	page, sig := fixtures(t)
	cfg := writeConfig(t, "logging:\n  level: error\n")

	var stdout bytes.Buffer
	err := runSign(context.Background(), page, "", &SignOptions{
		commonOptions: commonOptions{ConfigFile: cfg},
		Image:         sig,
		Page:          1,
		X:             40, Y: 40, Width: 120, Height: 40,
	}, &stdout)
	require.NoError(t, err)

	output := filepath.Join(filepath.Dir(page), "form_signed.png")
	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	// Export is at scale 2; the signature covers (80,80)-(320,160).
	r, g, b, _ := img.At(200, 120).RGBA()
	assert.Less(t, r, uint32(0x2000))
	assert.Less(t, g, uint32(0x2000))
	assert.Greater(t, b, uint32(0x8000))
	assert.True(t, strings.Contains(stdout.String(), "(40, 40) 120x40 pt"), stdout.String())
}

func TestRunSign_Errors(t *testing.T) {
	page, sig := fixtures(t)
	ctx := context.Background()

	err := runSign(ctx, page, "", &SignOptions{Image: sig, Page: 1}, &bytes.Buffer{})
	assert.Error(t, err, "no position given")

	err = runSign(ctx, page, "", &SignOptions{Image: sig, Page: 1, Auto: true, Format: "tiff"}, &bytes.Buffer{})
	assert.Error(t, err, "bad format")

	err = runSign(ctx, page, "", &SignOptions{Image: filepath.Join(t.TempDir(), "missing.png"), Page: 1, Auto: true}, &bytes.Buffer{})
	assert.Error(t, err, "missing image")

	notImage := filepath.Join(t.TempDir(), "sig.txt")
	require.NoError(t, os.WriteFile(notImage, []byte("hello"), 0o644))
	err = runSign(ctx, page, filepath.Join(t.TempDir(), "out.png"), &SignOptions{Image: notImage, Page: 1, Auto: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errSignatureSkipped)
}

// writePDF writes a one-page 600x800 pt PDF.
func writePDF(t *testing.T, dir string) string {
	t.Helper()
	pg := image.NewGray(image.Rect(0, 0, 6, 8))
	draw.Draw(pg, pg.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	x, err := images.FromImage(pg)
	require.NoError(t, err)
	pw := writer.New("")
	require.NoError(t, pw.AddImagePage(x, 600, 800))
	var buf bytes.Buffer
	require.NoError(t, pw.Write(&buf))
	path := filepath.Join(dir, "contract.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRunSign_PDFKeepsPages(t *testing.T) {
	_, sig := fixtures(t)
	input := writePDF(t, t.TempDir())
	original, err := os.ReadFile(input)
	require.NoError(t, err)
	cfg := writeConfig(t, "display:\n  scale: 1\npdf:\n  rasterizer: none\nlogging:\n  level: error\n")
	common := commonOptions{ConfigFile: cfg}

	var stdout bytes.Buffer
	err = runSign(context.Background(), input, "", &SignOptions{
		commonOptions: common,
		Image:         sig,
		Page:          1,
		X:             350, Y: 650, Width: 150, Height: 50,
	}, &stdout)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(filepath.Dir(input), "contract_signed.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, original), "signed PDF must keep the original file")
	doc, err := reader.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount())

	err = runSign(context.Background(), input, filepath.Join(t.TempDir(), "auto.pdf"), &SignOptions{
		commonOptions: common,
		Image:         sig,
		Page:          1,
		Auto:          true,
	}, &bytes.Buffer{})
	assert.ErrorIs(t, err, session.ErrNoPageContent)
}

func TestWriteExport_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	errSave := errors.New("failed to save catalog")
	blob := &compose.ExportedBlob{Data: []byte("signed"), Filename: "form_signed.png"}

	out, err := writeExport(filepath.Join(dir, "form.png"), "", blob, errSave)
	assert.ErrorIs(t, err, errSave)
	assert.Equal(t, filepath.Join(dir, "form_signed.png"), out)
	data, readErr := os.ReadFile(out)
	require.NoError(t, readErr)
	assert.Equal(t, "signed", string(data))
}
