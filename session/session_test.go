package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/docsign/compose"
	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/document"
	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/gesture"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/pdf/images"
	"github.com/georgepadayatti/docsign/pdf/writer"
	"github.com/georgepadayatti/docsign/placement"
	"github.com/georgepadayatti/docsign/storage"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

var author = placement.Author{Name: "Ana Pérez", Email: "Ana@Example.com"}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// pageWithLine is a white 1000x1200 page with a 200px rule near the bottom.
func pageWithLine(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 1200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(600, 1098, 800, 1101), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return encodePNG(t, img)
}

func signatureImage(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 30, 10))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{0, 0, 128, 255}), image.Point{}, draw.Src)
	return encodePNG(t, img)
}

func newSession(meta storage.MetadataStore) *Session {
	opts := DefaultOptions()
	opts.DisplayScale = 1
	opts.Clock = clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(storage.NewMemoryBlobStore(), meta, opts)
}

func TestSession_ZoomReprojects(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	page, err := s.Open(ctx, "scan.png", pageWithLine(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if page.Width() != 1000 || page.Height() != 1200 {
		t.Fatalf("page size = %dx%d, want 1000x1200", page.Width(), page.Height())
	}

	sig, err := s.Place("ink", geom.NewRect(500, 600, 150, 50), author)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if diff := cmp.Diff(geom.NewRect(0.5, 0.5, 0.15, 50.0/1200), sig.Norm, approx); diff != "" {
		t.Errorf("Norm mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.SetZoom(ctx, 2); err != nil {
		t.Fatalf("SetZoom() error = %v", err)
	}
	got, err := s.Store().Get(sig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(geom.NewRect(1000, 1200, 300, 100), got.Rect, approx); diff != "" {
		t.Errorf("Rect after zoom mismatch (-want +got):\n%s", diff)
	}
	if got.RasterWidth != 2000 || got.RasterHeight != 2400 {
		t.Errorf("raster = %dx%d, want 2000x2400", got.RasterWidth, got.RasterHeight)
	}

	if _, err := s.SetZoom(ctx, 100); err != nil {
		t.Fatalf("SetZoom() error = %v", err)
	}
	if s.Scale() != 4 {
		t.Errorf("Scale() = %g, want clamped to 4", s.Scale())
	}
}

func TestSession_DetectAndAutoPlace(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	if _, err := s.Open(ctx, "scan.png", pageWithLine(t)); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	cands, err := s.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(cands) == 0 || cands[0].FieldType != detect.FieldHorizontalLine {
		t.Fatalf("Detect() = %v, want a line candidate first", cands)
	}
	if cands[0].Bottom() > 1098 || cands[0].Confidence < 0.9 {
		t.Errorf("line candidate %v should sit above the rule with confidence >= 0.9", cands[0])
	}

	sig, best, err := s.AutoPlace(ctx, "ink", author)
	if err != nil {
		t.Fatalf("AutoPlace() error = %v", err)
	}
	if diff := cmp.Diff(best.Rect, sig.Rect, approx); diff != "" {
		t.Errorf("placed rect mismatch (-want +got):\n%s", diff)
	}

	again, err := s.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range again {
		if c.Intersects(sig.Rect) {
			t.Errorf("candidate %v overlaps the placed signature", c)
		}
	}
}

func TestSession_ExportBakesAndPersists(t *testing.T) {
	ctx := context.Background()
	meta := storage.NewMemoryMetadataStore()
	h := logging.NewBufferedHandler(nil)

	s := newSession(meta)
	s.opts.Logger = slog.New(h)
	data := pageWithLine(t)
	if _, err := s.Open(ctx, "scan.png", data); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ref, err := s.StoreImage(ctx, signatureImage(t))
	if err != nil {
		t.Fatalf("StoreImage() error = %v", err)
	}
	good, err := s.Place(ref, geom.NewRect(100, 100, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}
	broken, err := s.Place("mem://missing.png", geom.NewRect(400, 100, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}

	blob, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if blob.Format != compose.FormatPNG || blob.Filename != "scan_signed.png" {
		t.Errorf("export = %v %q", blob.Format, blob.Filename)
	}
	if diff := cmp.Diff([]string{good.ID}, blob.Baked); diff != "" {
		t.Errorf("Baked mismatch (-want +got):\n%s", diff)
	}
	if h.Count(slog.LevelError) != 1 {
		t.Errorf("error log count = %d, want 1", h.Count(slog.LevelError))
	}

	overlays, err := s.Overlays()
	if err != nil {
		t.Fatal(err)
	}
	if len(overlays) != 1 || overlays[0].ID != broken.ID {
		t.Errorf("Overlays() = %v, want only the skipped signature", overlays)
	}

	u, err := s.PublishExport(ctx, blob)
	if err != nil {
		t.Fatalf("PublishExport() error = %v", err)
	}
	if stored, err := s.Blobs.Fetch(ctx, u); err != nil || !bytes.Equal(stored, blob.Data) {
		t.Errorf("published export not retrievable: %v", err)
	}

	// A new session on the exported file sees the saved catalog.
	s2 := newSession(meta)
	if _, err := s2.Open(ctx, "scan.png", blob.Data); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	restored, err := s2.Store().Get(good.ID)
	if err != nil {
		t.Fatalf("restored catalog is missing %s: %v", good.ID, err)
	}
	if !restored.Baked() {
		t.Error("restored signature should be baked")
	}
	if restored.Author.Email != "ana@example.com" {
		t.Errorf("Author.Email = %q, want normalized", restored.Author.Email)
	}
	if _, err := s2.Place("ink", geom.NewRect(10, 10, 60, 30), author); err != nil {
		t.Fatal(err)
	}
	if s2.Store().Len() != 3 {
		t.Errorf("Len() = %d, want 3", s2.Store().Len())
	}

	if err := s2.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := meta.LoadCatalog(ctx, document.ContentID(blob.Data)); !errors.Is(err, storage.ErrCatalogNotFound) {
		t.Errorf("catalog after Reset() error = %v, want ErrCatalogNotFound", err)
	}
}

// failingMetadata fails every call.
type failingMetadata struct{ err error }

func (f failingMetadata) SaveCatalog(context.Context, *storage.CatalogRecord) error { return f.err }
func (f failingMetadata) LoadCatalog(context.Context, string) (*storage.CatalogRecord, error) {
	return nil, f.err
}
func (f failingMetadata) DeleteCatalog(context.Context, string) error { return f.err }

func TestSession_ExportTwiceKeepsSignatures(t *testing.T) {
	ctx := context.Background()
	s := newSession(storage.NewMemoryMetadataStore())
	data := pageWithLine(t)
	if _, err := s.Open(ctx, "scan.png", data); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ref, err := s.StoreImage(ctx, signatureImage(t))
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.Place(ref, geom.NewRect(100, 100, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Export(ctx); err != nil {
		t.Fatalf("first Export() error = %v", err)
	}

	doc, _ := s.Document()
	if doc.ID == document.ContentID(data) {
		t.Error("session still edits the unsigned original")
	}
	second, err := s.Place(ref, geom.NewRect(100, 600, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	if diff := cmp.Diff([]string{second.ID}, blob.Baked); diff != "" {
		t.Errorf("Baked mismatch (-want +got):\n%s", diff)
	}

	img, err := png.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	// Export scale 2: both signatures are inked in the second export.
	for _, at := range []image.Point{{350, 250}, {350, 1250}} {
		if r, g, b, _ := img.At(at.X, at.Y).RGBA(); r>>8 > 64 || g>>8 > 64 || b>>8 < 64 {
			t.Errorf("pixel %v = %d,%d,%d, want signature ink", at, r>>8, g>>8, b>>8)
		}
	}
	got, err := s.Store().Get(first.ID)
	if err != nil || !got.Baked() {
		t.Errorf("first signature = %+v, %v; want baked", got, err)
	}
}

func TestSession_ExportSaveFailureLeavesStateUnbaked(t *testing.T) {
	ctx := context.Background()
	errDown := errors.New("metadata store down")
	s := newSession(nil)
	data := pageWithLine(t)
	if _, err := s.Open(ctx, "scan.png", data); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ref, _ := s.StoreImage(ctx, signatureImage(t))
	sig, err := s.Place(ref, geom.NewRect(100, 100, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}

	s.Metadata = failingMetadata{err: errDown}
	blob, err := s.Export(ctx)
	if !errors.Is(err, errDown) {
		t.Fatalf("Export() error = %v, want %v", err, errDown)
	}
	if blob == nil || len(blob.Data) == 0 {
		t.Fatal("Export() dropped the exported data on a save failure")
	}
	got, _ := s.Store().Get(sig.ID)
	if got.Baked() {
		t.Error("signature marked baked although the save failed")
	}
	if doc, _ := s.Document(); doc.ID != document.ContentID(data) {
		t.Error("session switched documents although the save failed")
	}
}

func TestSession_OpenFailureKeepsDocument(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	if _, err := s.Open(ctx, "scan.png", pageWithLine(t)); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sig, err := s.Place("ink", geom.NewRect(10, 10, 60, 30), author)
	if err != nil {
		t.Fatal(err)
	}

	errDown := errors.New("metadata store down")
	s.Metadata = failingMetadata{err: errDown}
	src := document.NewPlaceholderSource("contract.docx", 1, document.LetterWidth, document.LetterHeight)
	if _, err := s.OpenSource(ctx, "other", src); !errors.Is(err, errDown) {
		t.Fatalf("OpenSource() error = %v, want %v", err, errDown)
	}
	doc, err := s.Document()
	if err != nil || doc.Name != "scan.png" {
		t.Fatalf("Document() = %v, %v; want scan.png still open", doc, err)
	}
	if _, err := s.Store().Get(sig.ID); err != nil {
		t.Errorf("catalog lost after failed open: %v", err)
	}
}

func TestSession_DetectNeedsPDFContent(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	pw := writer.New("")
	x, err := images.FromImage(image.NewGray(image.Rect(0, 0, 2, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if err := pw.AddImagePage(x, 612, 792); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := pw.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, "contract.pdf", buf.Bytes()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.Detect(ctx); !errors.Is(err, ErrNoPageContent) {
		t.Errorf("Detect() error = %v, want ErrNoPageContent", err)
	}
	if _, _, err := s.AutoPlace(ctx, "ink", author); !errors.Is(err, ErrNoPageContent) {
		t.Errorf("AutoPlace() error = %v, want ErrNoPageContent", err)
	}
}

func TestSession_PageNavigation(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	src := document.NewPlaceholderSource("contract.docx", 3, document.LetterWidth, document.LetterHeight)
	if _, err := s.OpenSource(ctx, "doc-1", src); err != nil {
		t.Fatalf("OpenSource() error = %v", err)
	}

	if _, err := s.Place("ink", geom.NewRect(100, 600, 150, 50), author); err != nil {
		t.Fatal(err)
	}
	page, err := s.GoToPage(ctx, 2)
	if err != nil {
		t.Fatalf("GoToPage() error = %v", err)
	}
	if page.Number != 2 {
		t.Errorf("page.Number = %d, want 2", page.Number)
	}
	if overlays, _ := s.Overlays(); len(overlays) != 0 {
		t.Errorf("page 2 overlays = %v, want none", overlays)
	}
	if _, err := s.GoToPage(ctx, 4); !errors.Is(err, document.ErrInvalidPage) {
		t.Errorf("GoToPage(4) error = %v, want ErrInvalidPage", err)
	}
}

func TestSession_GestureThroughController(t *testing.T) {
	ctx := context.Background()
	s := newSession(nil)
	if _, err := s.Open(ctx, "scan.png", pageWithLine(t)); err != nil {
		t.Fatal(err)
	}
	sig, err := s.Place("ink", geom.NewRect(200, 200, 150, 50), author)
	if err != nil {
		t.Fatal(err)
	}

	// The 1000x1200 raster is shown at half size.
	surface, err := s.Surface(geom.NewRect(0, 0, 500, 600))
	if err != nil {
		t.Fatal(err)
	}
	c := s.Controller(nil, nil)
	if _, err := c.Start(sig.ID, 110, 110, gesture.HandleNone, surface); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Move(120, 115); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	moved, err := c.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if math.Abs(moved.Rect.X-220) > 1e-9 || math.Abs(moved.Rect.Y-210) > 1e-9 {
		t.Errorf("moved to (%v,%v), want (220,210)", moved.Rect.X, moved.Rect.Y)
	}
}

func TestSession_NoDocument(t *testing.T) {
	s := newSession(nil)
	if _, err := s.Detect(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Detect() error = %v, want ErrNoDocument", err)
	}
	if _, err := s.Export(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Export() error = %v, want ErrNoDocument", err)
	}
	if _, err := s.Render(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Render() error = %v, want ErrNoDocument", err)
	}
}

func TestSession_StoreImageWithoutBlobs(t *testing.T) {
	s := New(nil, nil, nil)
	ref, err := s.StoreImage(context.Background(), signatureImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix([]byte(ref), []byte("data:image/png;base64,")) {
		t.Errorf("StoreImage() = %.40s..., want a PNG data URI", ref)
	}
}
