package document

import (
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Document is an open document: its source and the state of its viewer.
type Document struct {
	ID     string
	Name   string
	Source Source

	mu          sync.RWMutex
	currentPage int
	rasters     map[int][2]int
}

// New creates a document positioned on page 1.
func New(id string, src Source) *Document {
	return &Document{
		ID:          id,
		Name:        src.Name(),
		Source:      src,
		currentPage: 1,
		rasters:     make(map[int][2]int),
	}
}

// ContentID derives a stable document ID from the file contents.
func ContentID(data []byte) string {
	sum := sha3.Sum256(data)
	return "doc-" + hex.EncodeToString(sum[:8])
}

// TotalPages returns the page count of the source.
func (d *Document) TotalPages() int { return d.Source.PageCount() }

// CurrentPage returns the 1-indexed page being viewed.
func (d *Document) CurrentPage() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentPage
}

// SetCurrentPage moves the viewer to page.
func (d *Document) SetCurrentPage(page int) error {
	if err := checkPage(page, d.TotalPages()); err != nil {
		return err
	}
	d.mu.Lock()
	d.currentPage = page
	d.mu.Unlock()
	return nil
}

// SetRasterSize records the pixel size of the last published raster of page.
func (d *Document) SetRasterSize(page, width, height int) {
	d.mu.Lock()
	d.rasters[page] = [2]int{width, height}
	d.mu.Unlock()
}

// RasterSize returns the pixel size of the last published raster of page.
func (d *Document) RasterSize(page int) (int, int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rasters[page]
	return r[0], r[1], ok
}

// String returns a short description for logs.
func (d *Document) String() string {
	return fmt.Sprintf("%s (%s, %s, %d pages)", d.Name, d.ID, d.Source.Kind(), d.TotalPages())
}
