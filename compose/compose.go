// Package compose flattens placed signatures into an exported document.
package compose

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/sha3"
	"golang.org/x/image/draw"

	"github.com/georgepadayatti/docsign/document"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/pdf/images"
	"github.com/georgepadayatti/docsign/pdf/writer"
	"github.com/georgepadayatti/docsign/placement"
)

// Common errors
var (
	ErrMultiPageImage = errors.New("image formats hold a single page")
	ErrNoResolver     = errors.New("no image resolver configured")
	ErrNoRasterizer   = errors.New("PDF pages cannot be rendered without a rasterizer")
)

// ImageResolver loads the image behind a signature reference.
type ImageResolver interface {
	Resolve(ctx context.Context, ref placement.ImageRef) (image.Image, error)
}

// ExportError reports a failure that aborted an export. Page is 0 when the
// failure is not tied to a page.
type ExportError struct {
	Page int
	Op   string
	Err  error
}

func (e *ExportError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("export failed at page %d (%s): %v", e.Page, e.Op, e.Err)
	}
	return fmt.Sprintf("export failed (%s): %v", e.Op, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// ExportedBlob is a flattened document.
type ExportedBlob struct {
	Data     []byte
	MIMEType string
	Filename string
	Format   Format
	Pages    int

	// Digest is the hex SHA3-256 of Data.
	Digest string

	// Baked lists the signatures drawn into Data, Skipped the ones whose
	// image could not be loaded.
	Baked   []string
	Skipped []string
}

// Compositor burns signatures into rendered pages.
type Compositor struct {
	Resolver ImageResolver
	Options  *Options
}

// NewCompositor creates a compositor. A nil opts uses DefaultOptions.
func NewCompositor(resolver ImageResolver, opts *Options) *Compositor {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Compositor{Resolver: resolver, Options: opts}
}

// Flatten is shorthand for NewCompositor(resolver, opts).Flatten.
func Flatten(ctx context.Context, src document.Source, sigs []placement.Signature, resolver ImageResolver, opts *Options) (*ExportedBlob, error) {
	return NewCompositor(resolver, opts).Flatten(ctx, src, sigs)
}

func (c *Compositor) logger() *slog.Logger {
	return logging.OrDefault(c.Options.Logger)
}

func (c *Compositor) scale() float64 {
	if c.Options.Scale <= 0 {
		return DefaultScale
	}
	return c.Options.Scale
}

// Flatten renders every page of src at the export scale, draws the
// signatures of each page at their normalized geometry and encodes the
// result. A PDF exported as PDF keeps its pages: the signatures are drawn
// over them in an incremental update unless Options.RasterizePDF is set.
// Baked signatures are not drawn again. A signature whose image cannot be
// loaded is logged and skipped; any other failure aborts with an
// *ExportError. Flatten does not modify sigs.
func (c *Compositor) Flatten(ctx context.Context, src document.Source, sigs []placement.Signature) (*ExportedBlob, error) {
	pages := src.PageCount()
	if pages < 1 {
		return nil, &ExportError{Op: "open", Err: document.ErrEmptyDocument}
	}
	format := c.format(src)
	if (format == FormatPNG || format == FormatJPEG) && pages > 1 {
		return nil, &ExportError{Op: "encode", Err: fmt.Errorf("%w: %s with %d pages", ErrMultiPageImage, format, pages)}
	}

	byPage := c.partition(sigs, pages)
	cache := make(map[placement.ImageRef]imageResult)
	blob := &ExportedBlob{Format: format, MIMEType: format.MIMEType(), Pages: pages}

	if pdf, ok := src.(*document.PDFSource); ok {
		if format == FormatPDF && !c.Options.RasterizePDF {
			if err := c.stampPDF(ctx, pdf, byPage, cache, blob); err != nil {
				return nil, err
			}
			return c.finish(src, blob), nil
		}
		if !pdf.Rasterized() {
			return nil, &ExportError{Op: "render", Err: ErrNoRasterizer}
		}
	}

	var pw *writer.Writer
	if format == FormatPDF {
		pw = writer.New("")
		pw.Info.Title = src.Name()
		pw.Info.Author = c.Options.Author
		if c.Options.Clock != nil {
			pw.Info.Created = c.Options.Clock.Now()
		}
	}

	for p := 1; p <= pages; p++ {
		if err := ctx.Err(); err != nil {
			return nil, &ExportError{Page: p, Op: "render", Err: err}
		}
		canvas, drawn, skipped, err := c.renderPage(ctx, src, p, byPage[p], cache)
		if err != nil {
			return nil, err
		}
		blob.Baked = append(blob.Baked, drawn...)
		blob.Skipped = append(blob.Skipped, skipped...)

		if pw == nil {
			data, err := c.encodeImage(canvas, format)
			if err != nil {
				return nil, &ExportError{Page: p, Op: "encode", Err: err}
			}
			blob.Data = data
			continue
		}
		if err := c.addPDFPage(pw, src, p, canvas); err != nil {
			return nil, err
		}
	}

	if pw != nil {
		var buf bytes.Buffer
		if err := pw.Write(&buf); err != nil {
			return nil, &ExportError{Op: "encode", Err: err}
		}
		blob.Data = buf.Bytes()
	}
	return c.finish(src, blob), nil
}

func (c *Compositor) finish(src document.Source, blob *ExportedBlob) *ExportedBlob {
	sum := sha3.Sum256(blob.Data)
	blob.Digest = hex.EncodeToString(sum[:])
	blob.Filename = SignedFilename(src.Name(), blob.Format)

	c.logger().Info("document exported",
		slog.String("document", src.Name()),
		slog.String("format", blob.Format.String()),
		slog.Int("pages", blob.Pages),
		slog.Int("signatures", len(blob.Baked)),
		slog.Int("skipped", len(blob.Skipped)))
	return blob
}

// stampPDF draws the signatures over the pages of src as image XObjects
// and appends them to the file as an incremental update. The page content
// stays as it is; nothing is rasterized.
func (c *Compositor) stampPDF(ctx context.Context, src *document.PDFSource, byPage map[int][]placement.Signature, cache map[placement.ImageRef]imageResult, blob *ExportedBlob) error {
	u, err := writer.NewUpdater(src.Data())
	if err != nil {
		return &ExportError{Op: "open", Err: err}
	}

	for p := 1; p <= blob.Pages; p++ {
		if len(byPage[p]) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return &ExportError{Page: p, Op: "stamp", Err: err}
		}
		wPt, hPt, err := src.PageSize(p)
		if err != nil {
			return &ExportError{Page: p, Op: "page size", Err: err}
		}
		for _, s := range byPage[p] {
			box := s.Norm.Scale(wPt, hPt)
			if box.IsEmpty() {
				c.logger().Warn("signature has no area on the page", slog.String("signature", s.ID))
				blob.Skipped = append(blob.Skipped, s.ID)
				continue
			}
			sigImg, err := c.resolve(ctx, s.Image, cache)
			if err != nil {
				c.logger().Error("failed to load signature image",
					slog.String("signature", s.ID), slog.Int("page", p), slog.Any("error", err))
				blob.Skipped = append(blob.Skipped, s.ID)
				continue
			}
			// Signature images keep their alpha, so they are never DCT encoded.
			x, err := images.FromImage(sigImg)
			if err != nil {
				return &ExportError{Page: p, Op: "encode", Err: err}
			}
			stamp := writer.Stamp{Page: p, Image: x, X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}
			if err := u.AddStamp(stamp); err != nil {
				return &ExportError{Page: p, Op: "stamp", Err: err}
			}
			blob.Baked = append(blob.Baked, s.ID)
		}
	}

	var buf bytes.Buffer
	if err := u.Write(&buf); err != nil {
		return &ExportError{Op: "encode", Err: err}
	}
	blob.Data = buf.Bytes()
	return nil
}

// RenderPage renders one page at the export scale with its signatures
// drawn in. It returns the IDs drawn and the IDs skipped.
func (c *Compositor) RenderPage(ctx context.Context, src document.Source, page int, sigs []placement.Signature) (*image.RGBA, []string, []string, error) {
	var own []placement.Signature
	for _, s := range sigs {
		if s.Page == page && !s.Baked() {
			own = append(own, s)
		}
	}
	return c.renderPage(ctx, src, page, own, make(map[placement.ImageRef]imageResult))
}

func (c *Compositor) format(src document.Source) Format {
	if c.Options.Format != FormatAuto {
		return c.Options.Format
	}
	if src.Kind() != document.KindImage || src.PageCount() != 1 {
		return FormatPDF
	}
	if is, ok := src.(*document.ImageSource); ok && is.Format() == "jpeg" {
		return FormatJPEG
	}
	return FormatPNG
}

// partition groups the drawable signatures by page, keeping catalog order.
func (c *Compositor) partition(sigs []placement.Signature, pages int) map[int][]placement.Signature {
	out := make(map[int][]placement.Signature)
	for _, s := range sigs {
		switch {
		case s.Baked():
			continue
		case s.Page < 1 || s.Page > pages:
			c.logger().Warn("signature on missing page ignored",
				slog.String("signature", s.ID), slog.Int("page", s.Page), slog.Int("pages", pages))
			continue
		}
		out[s.Page] = append(out[s.Page], s)
	}
	return out
}

type imageResult struct {
	img image.Image
	err error
}

func (c *Compositor) renderPage(ctx context.Context, src document.Source, page int, sigs []placement.Signature, cache map[placement.ImageRef]imageResult) (*image.RGBA, []string, []string, error) {
	img, err := src.Render(ctx, page, c.scale())
	if err != nil {
		return nil, nil, nil, &ExportError{Page: page, Op: "render", Err: err}
	}

	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)

	var drawn, skipped []string
	for _, s := range sigs {
		target := s.PixelRect(b.Dx(), b.Dy()).Round()
		r := image.Rect(int(target.X), int(target.Y), int(target.Right()), int(target.Bottom()))
		if r.Empty() {
			c.logger().Warn("signature has no area at export scale", slog.String("signature", s.ID))
			skipped = append(skipped, s.ID)
			continue
		}

		sigImg, err := c.resolve(ctx, s.Image, cache)
		if err != nil {
			c.logger().Error("failed to load signature image",
				slog.String("signature", s.ID), slog.Int("page", page), slog.Any("error", err))
			skipped = append(skipped, s.ID)
			continue
		}
		draw.CatmullRom.Scale(canvas, r, sigImg, sigImg.Bounds(), draw.Over, nil)
		drawn = append(drawn, s.ID)
	}
	return canvas, drawn, skipped, nil
}

func (c *Compositor) resolve(ctx context.Context, ref placement.ImageRef, cache map[placement.ImageRef]imageResult) (image.Image, error) {
	if r, ok := cache[ref]; ok {
		return r.img, r.err
	}
	var r imageResult
	if c.Resolver == nil {
		r.err = ErrNoResolver
	} else {
		r.img, r.err = c.Resolver.Resolve(ctx, ref)
	}
	cache[ref] = r
	return r.img, r.err
}

func (c *Compositor) encodeImage(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if format == FormatJPEG {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality()})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addPDFPage adds canvas as a full page at the source's native point size.
func (c *Compositor) addPDFPage(pw *writer.Writer, src document.Source, page int, canvas *image.RGBA) error {
	wPt, hPt, err := src.PageSize(page)
	if err != nil {
		return &ExportError{Page: page, Op: "page size", Err: err}
	}

	var x *images.XObject
	if c.Options.PDFJPEG {
		x, err = images.FromImageJPEG(canvas, c.quality())
	} else {
		x, err = images.FromImage(canvas)
	}
	if err != nil {
		return &ExportError{Page: page, Op: "encode", Err: err}
	}
	if err := pw.AddImagePage(x, wPt, hPt); err != nil {
		return &ExportError{Page: page, Op: "encode", Err: err}
	}
	return nil
}

func (c *Compositor) quality() int {
	if q := c.Options.JPEGQuality; q >= 1 && q <= 100 {
		return q
	}
	return DefaultJPEGQuality
}

// SignedFilename suggests a name for the export of name, e.g.
// "contract_signed.pdf".
func SignedFilename(name string, format Format) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	return base + "_signed." + format.Extension()
}
