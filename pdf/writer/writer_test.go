package writer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/georgepadayatti/docsign/pdf/images"
)

func testImage(t *testing.T, alpha uint8) *images.XObject {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: alpha})
	x, err := images.FromImage(img)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	return x
}

func TestWriter_Structure(t *testing.T) {
	w := New("")
	w.Info.Title = "Contract (signed)"
	w.Info.Author = "Zoë"
	w.Info.Created = time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("", -3*3600))

	if err := w.AddImagePage(testImage(t, 255), 612, 792); err != nil {
		t.Fatalf("AddImagePage() error = %v", err)
	}
	if err := w.AddImagePage(testImage(t, 128), 841.89, 595.28); err != nil {
		t.Fatalf("AddImagePage() error = %v", err)
	}
	if w.PageCount() != 2 {
		t.Errorf("PageCount() = %d, want 2", w.PageCount())
	}

	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()

	checks := []string{
		"%PDF-1.7\n",
		"/Type /Pages /Kids [",
		"/Count 2",
		"/MediaBox [0 0 612 792]",
		"/MediaBox [0 0 841.89 595.28]",
		"/Subtype /Image",
		"/SMask ",
		"/Title (Contract \\(signed\\))",
		"/Author <FEFF005A006F00EB>",
		"/CreationDate (D:20240301123000-03'00')",
		"/Producer (docsign)",
		"%%EOF\n",
	}
	for _, c := range checks {
		if !strings.Contains(out, c) {
			t.Errorf("output missing %q", c)
		}
	}
	if n := strings.Count(out, "/SMask "); n != 1 {
		t.Errorf("SMask count = %d, want 1 (only the translucent page)", n)
	}
}

func TestWriter_XRefOffsets(t *testing.T) {
	w := New("1.4")
	if err := w.AddImagePage(testImage(t, 255), 100, 100); err != nil {
		t.Fatalf("AddImagePage() error = %v", err)
	}
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data := buf.Bytes()

	m := regexp.MustCompile(`startxref\n(\d+)\n`).FindSubmatch(data)
	if m == nil {
		t.Fatal("startxref not found")
	}
	xref := atoiTest(string(m[1]))
	if !bytes.HasPrefix(data[xref:], []byte("xref\n")) {
		t.Fatalf("startxref %d does not point at the xref table", xref)
	}

	entries := regexp.MustCompile(`(\d{10}) 00000 n `).FindAllSubmatch(data[xref:], -1)
	if len(entries) == 0 {
		t.Fatal("no xref entries")
	}
	for i, e := range entries {
		off := atoiTest(string(e[1]))
		want := []byte(itoa(i+1) + " 0 obj")
		if !bytes.HasPrefix(data[off:], want) {
			t.Errorf("xref entry %d points at %q, want %q", i+1, data[off:off+10], want)
		}
	}
}

func atoiTest(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestWriter_Errors(t *testing.T) {
	w := New("")
	if err := w.Write(&bytes.Buffer{}); !errors.Is(err, ErrNoPages) {
		t.Errorf("Write() without pages error = %v, want ErrNoPages", err)
	}
	if err := w.AddImagePage(testImage(t, 255), 0, 100); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("AddImagePage(0 width) error = %v, want ErrInvalidPageSize", err)
	}
}

func TestNum(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{612, "612"},
		{0, "0"},
		{841.89, "841.89"},
		{0.5, "0.5"},
		{100.00004, "100"},
	}
	for _, tt := range tests {
		if got := num(tt.in); got != tt.want {
			t.Errorf("num(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
