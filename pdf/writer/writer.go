// Package writer builds PDF files whose pages are full-page images, and
// stamps images over the pages of existing PDF files.
package writer

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/sha3"

	"github.com/georgepadayatti/docsign/pdf/images"
)

// Common errors
var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrNoPages         = errors.New("document has no pages")
)

// Info holds document information dictionary entries. Empty fields are
// omitted.
type Info struct {
	Title    string
	Author   string
	Subject  string
	Producer string
	Created  time.Time
}

// Writer accumulates pages and serializes them as a PDF file.
type Writer struct {
	Version string
	Info    Info

	objects  [][]byte // object n is objects[n-1]
	pagesNum int
	pageNums []int
}

// New creates a writer. An empty version means 1.7.
func New(version string) *Writer {
	if version == "" {
		version = "1.7"
	}
	w := &Writer{Version: version, Info: Info{Producer: "docsign"}}
	// Reserve the page tree; its body is written last.
	w.pagesNum = w.reserve()
	return w
}

func (w *Writer) reserve() int {
	w.objects = append(w.objects, nil)
	return len(w.objects)
}

func (w *Writer) add(body []byte) int {
	w.objects = append(w.objects, body)
	return len(w.objects)
}

func (w *Writer) set(num int, body []byte) {
	w.objects[num-1] = body
}

// PageCount returns the number of pages added so far.
func (w *Writer) PageCount() int { return len(w.pageNums) }

// AddImagePage appends a page of widthPt x heightPt points covered entirely
// by img.
func (w *Writer) AddImagePage(img *images.XObject, widthPt, heightPt float64) error {
	if widthPt <= 0 || heightPt <= 0 {
		return fmt.Errorf("%w: %gx%g", ErrInvalidPageSize, widthPt, heightPt)
	}

	imgNum := addImage(w.add, img)

	content := fmt.Sprintf("q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n", num(widthPt), num(heightPt))
	encoded, err := deflate([]byte(content))
	if err != nil {
		return fmt.Errorf("failed to compress page content: %w", err)
	}
	contentNum := w.add(stream(dict("/Filter", "/FlateDecode"), encoded))

	pageNum := w.add([]byte(dict(
		"/Type", "/Page",
		"/Parent", ref(w.pagesNum),
		"/MediaBox", fmt.Sprintf("[0 0 %s %s]", num(widthPt), num(heightPt)),
		"/Resources", dict("/XObject", dict("/Im0", ref(imgNum))),
		"/Contents", ref(contentNum),
	)))
	w.pageNums = append(w.pageNums, pageNum)
	return nil
}

// addImage stores img, and its soft mask when it has one, through add and
// returns the image's object number.
func addImage(add func([]byte) int, img *images.XObject) int {
	var smask int
	if img.HasAlpha() {
		smask = add(stream(dict(
			"/Type", "/XObject",
			"/Subtype", "/Image",
			"/Width", itoa(img.Width),
			"/Height", itoa(img.Height),
			"/ColorSpace", "/DeviceGray",
			"/BitsPerComponent", "8",
			"/Filter", "/"+images.FilterFlate,
		), img.Alpha))
	}

	entries := []string{
		"/Type", "/XObject",
		"/Subtype", "/Image",
		"/Width", itoa(img.Width),
		"/Height", itoa(img.Height),
		"/ColorSpace", "/" + string(img.ColorSpace),
		"/BitsPerComponent", itoa(img.BitsPerComponent),
		"/Filter", "/" + img.Filter,
	}
	if smask != 0 {
		entries = append(entries, "/SMask", ref(smask))
	}
	return add(stream(dict(entries...), img.Data))
}

// Write serializes the document.
func (w *Writer) Write(out io.Writer) error {
	if len(w.pageNums) == 0 {
		return ErrNoPages
	}

	kids := make([]string, len(w.pageNums))
	for i, n := range w.pageNums {
		kids[i] = ref(n)
	}
	w.set(w.pagesNum, []byte(dict(
		"/Type", "/Pages",
		"/Kids", "["+strings.Join(kids, " ")+"]",
		"/Count", itoa(len(kids)),
	)))
	rootNum := w.add([]byte(dict("/Type", "/Catalog", "/Pages", ref(w.pagesNum))))
	infoNum := w.add([]byte(w.infoDict()))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", w.Version)
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	offsets := make([]int, len(w.objects))
	for i, body := range w.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(body)
		buf.WriteString("\nendobj\n")
	}

	fileID := sha3.Sum256(buf.Bytes())
	id := fmt.Sprintf("<%X>", fileID[:16])

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(w.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	buf.WriteString("trailer\n")
	buf.WriteString(dict(
		"/Size", itoa(len(w.objects)+1),
		"/Root", ref(rootNum),
		"/Info", ref(infoNum),
		"/ID", "["+id+" "+id+"]",
	))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xref)

	_, err := out.Write(buf.Bytes())
	return err
}

func (w *Writer) infoDict() string {
	var entries []string
	for _, kv := range [][2]string{
		{"/Title", w.Info.Title},
		{"/Author", w.Info.Author},
		{"/Subject", w.Info.Subject},
		{"/Producer", w.Info.Producer},
	} {
		if kv[1] != "" {
			entries = append(entries, kv[0], textString(kv[1]))
		}
	}
	if !w.Info.Created.IsZero() {
		entries = append(entries, "/CreationDate", "("+formatDate(w.Info.Created)+")")
	}
	return dict(entries...)
}

func dict(kv ...string) string {
	var b strings.Builder
	b.WriteString("<<")
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(" ")
		b.WriteString(kv[i])
		b.WriteString(" ")
		b.WriteString(kv[i+1])
	}
	b.WriteString(" >>")
	return b.String()
}

func stream(d string, data []byte) []byte {
	d = strings.TrimSuffix(d, " >>") + " /Length " + itoa(len(data)) + " >>"
	var b bytes.Buffer
	b.WriteString(d)
	b.WriteString("\nstream\n")
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func ref(n int) string { return itoa(n) + " 0 R" }

func itoa(n int) string { return strconv.Itoa(n) }

// num formats a real number the way PDF expects: no exponent, no trailing
// zeros.
func num(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// textString encodes s as a PDF text string: a literal string for ASCII,
// UTF-16BE with a byte order mark otherwise.
func textString(s string) string {
	ascii := true
	for _, r := range s {
		if r > 0x7e || (r < 0x20 && r != '\t') {
			ascii = false
			break
		}
	}
	if ascii {
		r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
		return "(" + r.Replace(s) + ")"
	}
	var b strings.Builder
	b.WriteString("<FEFF")
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, "%04X", u)
	}
	b.WriteString(">")
	return b.String()
}

// formatDate formats a time as a PDF date string.
func formatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("D:%s%s%02d'%02d'", t.Format("20060102150405"), sign, offset/3600, (offset%3600)/60)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
