package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/placement"
)

// CatalogVersion is the current catalog record format.
const CatalogVersion = 1

// Common errors
var (
	ErrCatalogNotFound = errors.New("catalog not found")
	ErrInvalidID       = errors.New("invalid document ID")
)

// MetadataStore persists signature catalogs keyed by document ID.
type MetadataStore interface {
	SaveCatalog(ctx context.Context, rec *CatalogRecord) error
	LoadCatalog(ctx context.Context, documentID string) (*CatalogRecord, error)
	DeleteCatalog(ctx context.Context, documentID string) error
}

// CatalogRecord is the persisted form of a document's signature catalog.
type CatalogRecord struct {
	Version      int               `json:"version"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name,omitempty"`
	Signatures   []SignatureRecord `json:"signatures"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SignatureRecord is one persisted signature. BakedIn mirrors State for
// readers that only know the boolean.
type SignatureRecord struct {
	ID           string          `json:"id"`
	Image        string          `json:"image"`
	X            float64         `json:"x"`
	Y            float64         `json:"y"`
	Width        float64         `json:"width"`
	Height       float64         `json:"height"`
	RasterWidth  int             `json:"raster_width"`
	RasterHeight int             `json:"raster_height"`
	NormX        float64         `json:"norm_x"`
	NormY        float64         `json:"norm_y"`
	NormWidth    float64         `json:"norm_width"`
	NormHeight   float64         `json:"norm_height"`
	Page         int             `json:"page"`
	UserName     string          `json:"user_name"`
	UserEmail    string          `json:"user_email"`
	Timestamp    time.Time       `json:"timestamp"`
	BakedIn      bool            `json:"baked_in"`
	State        placement.State `json:"state"`
}

// RecordFromSignature converts a placed signature to its persisted form.
func RecordFromSignature(s placement.Signature) SignatureRecord {
	return SignatureRecord{
		ID:           s.ID,
		Image:        string(s.Image),
		X:            s.Rect.X,
		Y:            s.Rect.Y,
		Width:        s.Rect.Width,
		Height:       s.Rect.Height,
		RasterWidth:  s.RasterWidth,
		RasterHeight: s.RasterHeight,
		NormX:        s.Norm.X,
		NormY:        s.Norm.Y,
		NormWidth:    s.Norm.Width,
		NormHeight:   s.Norm.Height,
		Page:         s.Page,
		UserName:     s.Author.Name,
		UserEmail:    s.Author.Email,
		Timestamp:    s.Timestamp,
		BakedIn:      s.Baked(),
		State:        s.State,
	}
}

// Signature converts the record back. A record with only BakedIn set is
// read as baked.
func (r SignatureRecord) Signature() placement.Signature {
	state := r.State
	if r.BakedIn {
		state = placement.StateBaked
	}
	return placement.Signature{
		ID:           r.ID,
		Image:        placement.ImageRef(r.Image),
		Rect:         geom.NewRect(r.X, r.Y, r.Width, r.Height),
		RasterWidth:  r.RasterWidth,
		RasterHeight: r.RasterHeight,
		Norm:         geom.NewRect(r.NormX, r.NormY, r.NormWidth, r.NormHeight),
		Page:         r.Page,
		Author:       placement.Author{Name: r.UserName, Email: r.UserEmail},
		Timestamp:    r.Timestamp,
		State:        state,
	}
}

// NewCatalogRecord builds a record from a catalog snapshot.
func NewCatalogRecord(documentID, name string, sigs []placement.Signature, now time.Time) *CatalogRecord {
	rec := &CatalogRecord{
		Version:      CatalogVersion,
		DocumentID:   documentID,
		DocumentName: name,
		Signatures:   make([]SignatureRecord, 0, len(sigs)),
		UpdatedAt:    now.UTC(),
	}
	for _, s := range sigs {
		rec.Signatures = append(rec.Signatures, RecordFromSignature(s))
	}
	return rec
}

// PlacedSignatures converts every record back to a placed signature.
func (c *CatalogRecord) PlacedSignatures() []placement.Signature {
	out := make([]placement.Signature, 0, len(c.Signatures))
	for _, r := range c.Signatures {
		out = append(out, r.Signature())
	}
	return out
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// FSMetadataStore keeps one JSON file per document under Dir.
type FSMetadataStore struct {
	Dir string

	mu sync.Mutex
}

// NewFSMetadataStore creates a store writing to dir.
func NewFSMetadataStore(dir string) *FSMetadataStore {
	return &FSMetadataStore{Dir: dir}
}

func (s *FSMetadataStore) file(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// SaveCatalog implements MetadataStore.
func (s *FSMetadataStore) SaveCatalog(ctx context.Context, rec *CatalogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(rec.DocumentID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	tmp := s.file(rec.DocumentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, s.file(rec.DocumentID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}

// LoadCatalog implements MetadataStore.
func (s *FSMetadataStore) LoadCatalog(ctx context.Context, documentID string) (*CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(documentID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.file(documentID))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var rec CatalogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", documentID, err)
	}
	if rec.Version > CatalogVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", rec.Version)
	}
	return &rec, nil
}

// DeleteCatalog implements MetadataStore.
func (s *FSMetadataStore) DeleteCatalog(ctx context.Context, documentID string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.file(documentID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrCatalogNotFound, documentID)
		}
		return fmt.Errorf("failed to delete catalog: %w", err)
	}
	return nil
}

// MemoryMetadataStore keeps catalogs in memory. Records are copied on the
// way in and out.
type MemoryMetadataStore struct {
	mu       sync.RWMutex
	catalogs map[string]*CatalogRecord
}

// NewMemoryMetadataStore creates an empty in-memory store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{catalogs: make(map[string]*CatalogRecord)}
}

func cloneRecord(rec *CatalogRecord) *CatalogRecord {
	c := *rec
	c.Signatures = append([]SignatureRecord(nil), rec.Signatures...)
	return &c
}

// SaveCatalog implements MetadataStore.
func (s *MemoryMetadataStore) SaveCatalog(ctx context.Context, rec *CatalogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(rec.DocumentID); err != nil {
		return err
	}
	s.mu.Lock()
	s.catalogs[rec.DocumentID] = cloneRecord(rec)
	s.mu.Unlock()
	return nil
}

// LoadCatalog implements MetadataStore.
func (s *MemoryMetadataStore) LoadCatalog(ctx context.Context, documentID string) (*CatalogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.catalogs[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, documentID)
	}
	return cloneRecord(rec), nil
}

// DeleteCatalog implements MetadataStore.
func (s *MemoryMetadataStore) DeleteCatalog(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.catalogs[documentID]; !ok {
		return fmt.Errorf("%w: %s", ErrCatalogNotFound, documentID)
	}
	delete(s.catalogs, documentID)
	return nil
}
