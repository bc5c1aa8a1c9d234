package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/georgepadayatti/docsign/pdf/images"
	"github.com/georgepadayatti/docsign/pdf/reader"
)

// Errors returned by Updater.
var (
	ErrEncrypted    = errors.New("cannot update an encrypted PDF")
	ErrNotUpdatable = errors.New("PDF cannot be updated incrementally")
	ErrInvalidStamp = errors.New("invalid stamp")
)

// Stamp is an image drawn over a page of an existing PDF. The box is in
// points on the page as displayed, rotation applied, origin top left.
type Stamp struct {
	Page  int
	Image *images.XObject

	X, Y, Width, Height float64
}

// Updater draws stamps over the pages of an existing PDF and writes them
// as an incremental update: the original bytes are kept unchanged at the
// start of the output and the page content is preserved.
type Updater struct {
	original []byte
	doc      *reader.Document
	stamps   map[int][]Stamp
}

// NewUpdater parses data for updating.
func NewUpdater(data []byte) (*Updater, error) {
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if doc.Encrypted {
		return nil, ErrEncrypted
	}
	if doc.Trailer.Root.IsZero() || doc.Trailer.StartXRef <= 0 {
		return nil, fmt.Errorf("%w: no trailer", ErrNotUpdatable)
	}
	return &Updater{original: data, doc: doc, stamps: make(map[int][]Stamp)}, nil
}

// PageCount returns the number of pages of the input.
func (u *Updater) PageCount() int { return u.doc.PageCount() }

// AddStamp queues s for writing.
func (u *Updater) AddStamp(s Stamp) error {
	p, err := u.doc.Page(s.Page)
	if err != nil {
		return err
	}
	if p.Object == 0 {
		return fmt.Errorf("%w: page %d has no object", ErrNotUpdatable, s.Page)
	}
	if s.Image == nil || s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: %gx%g on page %d", ErrInvalidStamp, s.Width, s.Height, s.Page)
	}
	u.stamps[s.Page] = append(u.stamps[s.Page], s)
	return nil
}

// Write writes the input followed by the update. Without stamps the input
// is written unchanged.
func (u *Updater) Write(out io.Writer) error {
	if len(u.stamps) == 0 {
		_, err := out.Write(u.original)
		return err
	}

	b := &update{doc: u.doc, next: u.doc.Trailer.Size, bodies: make(map[int]string)}
	pages := make([]int, 0, len(u.stamps))
	for p := range u.stamps {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	for _, p := range pages {
		if err := b.stampPage(p, u.stamps[p]); err != nil {
			return fmt.Errorf("failed to stamp page %d: %w", p, err)
		}
	}

	_, err := out.Write(b.serialize(u.original))
	return err
}

// update collects the objects of one incremental update.
type update struct {
	doc    *reader.Document
	next   int
	bodies map[int]string
}

func (b *update) add(body []byte) int {
	n := b.next
	b.next++
	b.bodies[n] = string(body)
	return n
}

// dict returns the current text of dictionary object num.
func (b *update) dict(num int) (string, error) {
	if body, ok := b.bodies[num]; ok {
		return body, nil
	}
	raw, _, ok := b.doc.Object(num)
	if !ok {
		return "", fmt.Errorf("%w: object %d not found", ErrMalformedObject, num)
	}
	return outerDict(raw)
}

func (b *update) gen(num int) int {
	if num >= b.doc.Trailer.Size {
		return 0
	}
	_, g, _ := b.doc.Object(num)
	return g
}

func (b *update) stampPage(pageNum int, stamps []Stamp) error {
	page, err := b.doc.Page(pageNum)
	if err != nil {
		return err
	}
	pd, err := b.dict(page.Object)
	if err != nil {
		return err
	}

	imgs := make([]int, len(stamps))
	for i, s := range stamps {
		imgs[i] = addImage(b.add, s.Image)
	}
	pd, names, err := b.addXObjects(page, pd, imgs)
	if err != nil {
		return err
	}

	var ops strings.Builder
	ops.WriteString("Q\n")
	for i, s := range stamps {
		m := stampMatrix(page, s)
		fmt.Fprintf(&ops, "q %s %s %s %s %s %s cm /%s Do Q\n",
			num(m[0]), num(m[1]), num(m[2]), num(m[3]), num(m[4]), num(m[5]), names[i])
	}
	encoded, err := deflate([]byte(ops.String()))
	if err != nil {
		return fmt.Errorf("failed to compress stamp content: %w", err)
	}

	// The original content is wrapped in q/Q so a leftover transformation
	// cannot move the stamps.
	push := b.add(stream(dict(), []byte("q\n")))
	stamp := b.add(stream(dict("/Filter", "/FlateDecode"), encoded))

	contents := ""
	if v, ok := valueOf(pd, "Contents"); ok {
		contents = b.contentItems(v)
	}
	pd, err = setEntry(pd, "Contents", "["+strings.TrimSpace(ref(push)+" "+contents)+" "+ref(stamp)+"]")
	if err != nil {
		return err
	}
	b.bodies[page.Object] = pd
	return nil
}

// contentItems returns the content streams of a /Contents value as the
// inside of an array.
func (b *update) contentItems(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(v, "["), "]"))
	}
	if n, ok := refNum(v); ok {
		if raw, _, ok := b.doc.Object(n); ok {
			raw = strings.TrimSpace(raw)
			if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
				return strings.TrimSpace(raw[1 : len(raw)-1])
			}
		}
	}
	return v
}

// addXObjects registers the images under fresh names in the resources that
// apply to page and returns the page dictionary, updated when the
// resources live inside it.
func (b *update) addXObjects(page reader.Page, pd string, imgs []int) (string, []string, error) {
	res, ok := valueOf(pd, "Resources")
	if !ok && page.ResourcesFrom != 0 && page.ResourcesFrom != page.Object {
		// Inherited: reuse the ancestor's entry.
		ad, err := b.dict(page.ResourcesFrom)
		if err != nil {
			return "", nil, err
		}
		res, ok = valueOf(ad, "Resources")
	}
	if !ok {
		res = "<< >>"
	}

	if n, isRef := refNum(res); isRef {
		rd, err := b.dict(n)
		if err != nil {
			return "", nil, err
		}
		rd, names, err := b.withXObjects(rd, imgs)
		if err != nil {
			return "", nil, err
		}
		b.bodies[n] = rd
		return pd, names, nil
	}

	rd, names, err := b.withXObjects(res, imgs)
	if err != nil {
		return "", nil, err
	}
	pd, err = setEntry(pd, "Resources", rd)
	return pd, names, err
}

// withXObjects adds the images to the /XObject entry of resource
// dictionary rd.
func (b *update) withXObjects(rd string, imgs []int) (string, []string, error) {
	xo, ok := valueOf(rd, "XObject")
	target := 0
	if ok {
		if n, isRef := refNum(xo); isRef {
			d, err := b.dict(n)
			if err != nil {
				return "", nil, err
			}
			xo, target = d, n
		}
	} else {
		xo = "<< >>"
	}

	names := make([]string, len(imgs))
	k := 1
	for i, img := range imgs {
		for {
			name := fmt.Sprintf("DocsignSig%d", k)
			k++
			if _, taken := valueOf(xo, name); !taken {
				names[i] = name
				break
			}
		}
		var err error
		if xo, err = setEntry(xo, names[i], ref(img)); err != nil {
			return "", nil, err
		}
	}

	if target != 0 {
		b.bodies[target] = xo
		return rd, names, nil
	}
	rd, err := setEntry(rd, "XObject", xo)
	return rd, names, err
}

// serialize appends the update section to original.
func (b *update) serialize(original []byte) []byte {
	var buf bytes.Buffer
	buf.Write(original)
	if n := len(original); n > 0 && original[n-1] != '\n' && original[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	nums := make([]int, 0, len(b.bodies))
	for n := range b.bodies {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	offsets := make(map[int]int, len(nums))
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d %d obj\n", n, b.gen(n))
		buf.WriteString(b.bodies[n])
		buf.WriteString("\nendobj\n")
	}

	xref := buf.Len()
	buf.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		fmt.Fprintf(&buf, "%d %d\n", nums[i], j-i)
		for _, n := range nums[i:j] {
			fmt.Fprintf(&buf, "%010d %05d n \n", offsets[n], b.gen(n))
		}
		i = j
	}

	t := b.doc.Trailer
	sum := sha3.Sum256(buf.Bytes())
	fresh := fmt.Sprintf("<%X>", sum[:16])
	first := fresh
	if len(t.ID) == 2 {
		first = t.ID[0]
	}
	entries := []string{
		"/Size", itoa(b.next),
		"/Root", t.Root.String(),
	}
	if !t.Info.IsZero() {
		entries = append(entries, "/Info", t.Info.String())
	}
	entries = append(entries,
		"/ID", "["+first+" "+fresh+"]",
		"/Prev", itoa(t.StartXRef),
	)
	buf.WriteString("trailer\n")
	buf.WriteString(dict(entries...))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

// stampMatrix maps the image unit square onto the stamp box in default
// user space, upright on the displayed page.
func stampMatrix(page reader.Page, s Stamp) [6]float64 {
	mb := page.MediaBox
	w, h := mb.Width(), mb.Height()
	llx, lly := min(mb.LLX, mb.URX), min(mb.LLY, mb.URY)

	toUser := func(dx, dy float64) (float64, float64) {
		switch page.Rotate {
		case 90:
			return llx + dy, lly + dx
		case 180:
			return llx + w - dx, lly + dy
		case 270:
			return llx + w - dy, lly + h - dx
		default:
			return llx + dx, lly + h - dy
		}
	}
	ex, ey := toUser(s.X, s.Y+s.Height)
	ax, ay := toUser(s.X+s.Width, s.Y+s.Height)
	cx, cy := toUser(s.X, s.Y)
	return [6]float64{ax - ex, ay - ey, cx - ex, cy - ey, ex, ey}
}
