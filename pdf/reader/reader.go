// Package reader extracts page geometry from PDF files: the page count and
// each page's media box and rotation. It does not interpret content
// streams.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Common errors
var (
	ErrInvalidPDF   = errors.New("invalid PDF file")
	ErrNoPages      = errors.New("no pages found")
	ErrPageNotFound = errors.New("page not found")
)

// DefaultMediaBox is US Letter, used when a page inherits no media box.
var DefaultMediaBox = Box{0, 0, 612, 792}

// Box is a PDF rectangle in points.
type Box struct {
	LLX, LLY, URX, URY float64
}

// Width returns the box width.
func (b Box) Width() float64 { return abs(b.URX - b.LLX) }

// Height returns the box height.
func (b Box) Height() float64 { return abs(b.URY - b.LLY) }

// Page is the geometry of one page.
type Page struct {
	// Number is 1-indexed.
	Number   int
	MediaBox Box
	// Rotate is the clockwise display rotation: 0, 90, 180 or 270.
	Rotate int

	// Object is the object number of the page dictionary.
	Object int
	// ResourcesFrom is the object, the page itself or an ancestor in the
	// page tree, whose /Resources entry applies to the page. 0 when none
	// was found.
	ResourcesFrom int
}

// Size returns the displayed page size in points, with width and height
// swapped for pages rotated by 90 or 270 degrees.
func (p Page) Size() (float64, float64) {
	w, h := p.MediaBox.Width(), p.MediaBox.Height()
	if p.Rotate == 90 || p.Rotate == 270 {
		return h, w
	}
	return w, h
}

// Ref is an indirect object reference.
type Ref struct {
	Num, Gen int
}

// IsZero reports whether r refers to nothing.
func (r Ref) IsZero() bool { return r.Num == 0 }

// String formats r the way it appears in a PDF file.
func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Trailer holds what an incremental update needs from the last trailer
// (or cross-reference stream) of the file.
type Trailer struct {
	Root Ref
	Info Ref
	// ID holds the two file identifiers as hex strings, brackets included,
	// or nothing when the file has none.
	ID []string
	// Size is one past the highest object number in use.
	Size int
	// StartXRef is the offset of the last cross-reference section.
	StartXRef int
}

// Document is the page geometry of a PDF file.
type Document struct {
	Version   string
	Pages     []Page
	Encrypted bool
	Trailer   Trailer

	objs *objectTable
}

// Object returns the body of object num as it appears between "obj" and
// "endobj", and its generation number.
func (d *Document) Object(num int) (string, int, bool) {
	if d.objs == nil {
		return "", 0, false
	}
	body, ok := d.objs.raw(num)
	return body, d.objs.gens[num], ok
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Page returns page n (1-indexed).
func (d *Document) Page(n int) (Page, error) {
	if n < 1 || n > len(d.Pages) {
		return Page{}, fmt.Errorf("%w: %d of %d", ErrPageNotFound, n, len(d.Pages))
	}
	return d.Pages[n-1], nil
}

// Read parses the PDF read from r.
func Read(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF data: %w", err)
	}
	return Parse(data)
}

var (
	headerRe    = regexp.MustCompile(`^%PDF-(\d\.\d)`)
	rootRe      = regexp.MustCompile(`/Root\s+(\d+)\s+(\d+)\s+R`)
	infoRe      = regexp.MustCompile(`/Info\s+(\d+)\s+(\d+)\s+R`)
	idRe        = regexp.MustCompile(`/ID\s*\[\s*(<[0-9A-Fa-f\s]*>)\s*(<[0-9A-Fa-f\s]*>)\s*\]`)
	sizeRe      = regexp.MustCompile(`/Size\s+(\d+)`)
	startxrefRe = regexp.MustCompile(`startxref\s+(\d+)`)
	encryptRe   = regexp.MustCompile(`/Encrypt\s*(\d+\s+\d+\s+R|<<)`)
)

// Parse extracts the page geometry of a PDF held in memory. Pages are
// ordered by a walk of the page tree from the catalog; when the tree cannot
// be followed, page objects are taken in object-number order.
func Parse(data []byte) (*Document, error) {
	start := bytes.Index(data, []byte("%PDF-"))
	if start < 0 || start > 1024 {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidPDF)
	}
	m := headerRe.FindSubmatch(data[start:])
	if m == nil {
		return nil, fmt.Errorf("%w: malformed header", ErrInvalidPDF)
	}

	doc := &Document{
		Version:   string(m[1]),
		Encrypted: encryptRe.Match(data),
	}
	objs := scanObjects(data)
	doc.objs = objs
	doc.Trailer = parseTrailer(data, objs)

	if root := doc.Trailer.Root; !root.IsZero() {
		if cat, ok := objs.get(root.Num); ok {
			if pagesRef, ok := refValue(cat, "Pages"); ok {
				w := walker{objs: objs, visited: make(map[int]bool)}
				w.walk(pagesRef, DefaultMediaBox, 0, 0)
				doc.Pages = w.pages
			}
		}
	}
	if len(doc.Pages) == 0 {
		doc.Pages = objs.loosePages()
	}
	if len(doc.Pages) == 0 {
		return nil, ErrNoPages
	}
	for i := range doc.Pages {
		doc.Pages[i].Number = i + 1
	}
	return doc, nil
}

// parseTrailer reads the trailer entries. The last occurrence of each key
// wins, as in incrementally updated files.
func parseTrailer(data []byte, objs *objectTable) Trailer {
	var t Trailer
	if m := last(rootRe, data); m != nil {
		t.Root = Ref{atoi(string(m[1])), atoi(string(m[2]))}
	}
	if m := last(infoRe, data); m != nil {
		t.Info = Ref{atoi(string(m[1])), atoi(string(m[2]))}
	}
	if m := last(idRe, data); m != nil {
		t.ID = []string{string(m[1]), string(m[2])}
	}
	if m := last(sizeRe, data); m != nil {
		t.Size = atoi(string(m[1]))
	}
	t.Size = max(t.Size, objs.maxNum()+1)
	if m := last(startxrefRe, data); m != nil {
		t.StartXRef = atoi(string(m[1]))
	}
	return t
}

func last(re *regexp.Regexp, data []byte) [][]byte {
	all := re.FindAllSubmatch(data, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// walker follows a page tree, passing inherited attributes down.
type walker struct {
	objs    *objectTable
	visited map[int]bool
	pages   []Page
}

func (w *walker) walk(num int, box Box, rotate, resources int) {
	if w.visited[num] {
		return
	}
	w.visited[num] = true

	d, ok := w.objs.get(num)
	if !ok {
		return
	}
	if b, ok := w.objs.box(d, "MediaBox"); ok {
		box = b
	}
	if r, ok := intValue(d, "Rotate"); ok {
		rotate = normalizeRotation(r)
	}
	if hasKey(d, "Resources") {
		resources = num
	}

	switch nameValue(d, "Type") {
	case "Page":
		w.pages = append(w.pages, Page{MediaBox: box, Rotate: rotate, Object: num, ResourcesFrom: resources})
	case "Pages", "":
		for _, kid := range refArray(d, "Kids") {
			w.walk(kid, box, rotate, resources)
		}
	}
}

func normalizeRotation(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	// Only multiples of 90 are valid.
	return r - r%90
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// loosePages returns every page object in object-number order.
func (t *objectTable) loosePages() []Page {
	var nums []int
	for n, body := range t.all() {
		if nameValue(topLevel(body), "Type") == "Page" {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	pages := make([]Page, 0, len(nums))
	for _, n := range nums {
		d, _ := t.get(n)
		p := Page{MediaBox: DefaultMediaBox, Object: n}
		if hasKey(d, "Resources") {
			p.ResourcesFrom = n
		}
		if b, ok := t.box(d, "MediaBox"); ok {
			p.MediaBox = b
		}
		if r, ok := intValue(d, "Rotate"); ok {
			p.Rotate = normalizeRotation(r)
		}
		pages = append(pages, p)
	}
	return pages
}
