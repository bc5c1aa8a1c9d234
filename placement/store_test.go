package placement

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/docsign/geom"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(&Options{Margin: DefaultMargin, Clock: clockwork.NewFakeClockAt(testTime)})
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1 }

// approx absorbs float rounding from normalizing and projecting back.
var approx = cmpopts.EquateApprox(0, 1e-9)

func TestPlace_NormalizesAndReprojects(t *testing.T) {
	s := newTestStore()
	sig, err := s.Place("sig.png", geom.NewRect(500, 600, 150, 50), 1000, 1200, 1, Author{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if sig.Norm.X != 0.5 || sig.Norm.Y != 0.5 {
		t.Errorf("Norm = %v, want x=0.5 y=0.5", sig.Norm)
	}
	if !sig.Timestamp.Equal(testTime) {
		t.Errorf("Timestamp = %v, want %v", sig.Timestamp, testTime)
	}
	if sig.State != StatePlaced {
		t.Errorf("State = %v, want placed", sig.State)
	}

	if n := s.ReprojectAll(1, 2000, 2400); n != 1 {
		t.Fatalf("ReprojectAll() = %d, want 1", n)
	}
	got, err := s.Get(sig.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := geom.NewRect(1000, 1200, 300, 100)
	if diff := cmp.Diff(want, got.Rect, approx); diff != "" {
		t.Errorf("reprojected rect mismatch (-want +got):\n%s", diff)
	}
	if got.RasterWidth != 2000 || got.RasterHeight != 2400 {
		t.Errorf("raster = %dx%d, want 2000x2400", got.RasterWidth, got.RasterHeight)
	}
}

func TestPlace_RoundTrip(t *testing.T) {
	s := newTestStore()
	rasters := [][2]int{{612, 792}, {918, 1188}, {1224, 1584}, {1000, 1400}}
	for _, r := range rasters {
		for _, x := range []float64{10, 57.3, 300, 401.9} {
			for _, y := range []float64{10, 123.4, 500} {
				in := geom.NewRect(x, y, 150, 50)
				sig, err := s.Place("a.png", in, r[0], r[1], 1, Author{})
				if err != nil {
					t.Fatalf("Place() error = %v", err)
				}
				back := sig.PixelRect(r[0], r[1])
				if !near(back.X, in.X) || !near(back.Y, in.Y) || !near(back.Width, in.Width) || !near(back.Height, in.Height) {
					t.Errorf("round trip on %v: %v -> %v", r, in, back)
				}
			}
		}
	}

	// The same after reprojecting away and back.
	for _, sig := range s.All() {
		orig := sig.Rect
		s.ReprojectAll(1, 3000, 4000)
		s.ReprojectAll(1, sig.RasterWidth, sig.RasterHeight)
		got, _ := s.Get(sig.ID)
		if !near(got.Rect.X, orig.X) || !near(got.Rect.Y, orig.Y) {
			t.Errorf("reprojection drift: %v -> %v", orig, got.Rect)
		}
	}
}

func TestPlace_ClampsToMargin(t *testing.T) {
	tests := []struct {
		name string
		in   geom.Rect
		want geom.Rect
	}{
		{"Inside", geom.NewRect(100, 100, 150, 50), geom.NewRect(100, 100, 150, 50)},
		{"NegativeCorner", geom.NewRect(-40, -5, 150, 50), geom.NewRect(10, 10, 150, 50)},
		{"PastBottomRight", geom.NewRect(950, 1180, 150, 50), geom.NewRect(840, 1140, 150, 50)},
		{"Oversize", geom.NewRect(0, 0, 2000, 60), geom.NewRect(10, 10, 980, 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			sig, err := s.Place("a.png", tt.in, 1000, 1200, 1, Author{})
			if err != nil {
				t.Fatalf("Place() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, sig.Rect); diff != "" {
				t.Errorf("rect mismatch (-want +got):\n%s", diff)
			}
			r := sig.Rect
			if r.X < 10 || r.Y < 10 || r.Right() > 990 || r.Bottom() > 1190 {
				t.Errorf("rect %v escapes the margin", r)
			}
		})
	}
}

func TestPlace_Errors(t *testing.T) {
	s := newTestStore()
	tests := []struct {
		name    string
		rect    geom.Rect
		w, h    int
		page    int
		wantErr error
	}{
		{"ZeroRaster", geom.NewRect(0, 0, 10, 10), 0, 100, 1, ErrInvalidRaster},
		{"PageZero", geom.NewRect(0, 0, 10, 10), 100, 100, 0, ErrInvalidPage},
		{"EmptyRect", geom.NewRect(0, 0, 0, 10), 100, 100, 1, ErrInvalidGeometry},
		{"NaN", geom.NewRect(math.NaN(), 0, 10, 10), 100, 100, 1, ErrInvalidGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Place("a.png", tt.rect, tt.w, tt.h, tt.page, Author{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Place() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after failed placements, want 0", s.Len())
	}
}

func TestPlace_RasterSmallerThanMargins(t *testing.T) {
	s := newTestStore()
	tests := []struct {
		name string
		w, h int
	}{
		{"narrow", 15, 400},
		{"short", 400, 20},
		{"exactly margins", 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Place("sig.png", geom.NewRect(0, 0, 50, 20), tt.w, tt.h, 1, Author{})
			if !errors.Is(err, ErrInvalidGeometry) {
				t.Errorf("Place() on %dx%d error = %v, want ErrInvalidGeometry", tt.w, tt.h, err)
			}
		})
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	sig, err := s.Place("sig.png", geom.NewRect(100, 100, 50, 20), 400, 400, 1, Author{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Move(sig.ID, 5, 5, 15, 15); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Move() on 15x15 error = %v, want ErrInvalidGeometry", err)
	}
	if _, err := s.SetGeometry(sig.ID, geom.NewRect(1, 1, 10, 10), 18, 400); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("SetGeometry() on 18x400 error = %v, want ErrInvalidGeometry", err)
	}
	got, _ := s.Get(sig.ID)
	if diff := cmp.Diff(sig, got); diff != "" {
		t.Errorf("signature changed by rejected updates (-want +got):\n%s", diff)
	}
}

func TestMoveResize(t *testing.T) {
	s := newTestStore()
	sig, _ := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})

	moved, err := s.Move(sig.ID, 200, 300, 1000, 1200)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if !cmp.Equal(moved.Rect, geom.NewRect(200, 300, 150, 50), approx) {
		t.Errorf("Move() rect = %v", moved.Rect)
	}
	if moved.Norm.X != 0.2 || moved.Norm.Y != 0.25 {
		t.Errorf("Move() norm = %v, want x=0.2 y=0.25", moved.Norm)
	}

	// Resize on a raster twice the size: position follows the normalized
	// geometry, the size is taken as given.
	resized, err := s.Resize(sig.ID, 400, 120, 2000, 2400)
	if err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if !cmp.Equal(resized.Rect, geom.NewRect(400, 600, 400, 120), approx) {
		t.Errorf("Resize() rect = %v", resized.Rect)
	}
	if resized.Norm.Width != 0.2 || resized.Norm.Height != 0.05 {
		t.Errorf("Resize() norm = %v", resized.Norm)
	}

	set, err := s.SetGeometry(sig.ID, geom.NewRect(50, 60, 100, 40), 1000, 1200)
	if err != nil {
		t.Fatalf("SetGeometry() error = %v", err)
	}
	if set.Rect != geom.NewRect(50, 60, 100, 40) || set.RasterWidth != 1000 {
		t.Errorf("SetGeometry() = %v on %dx%d", set.Rect, set.RasterWidth, set.RasterHeight)
	}

	if _, err := s.Move("sig-missing", 0, 0, 1000, 1200); !errors.Is(err, ErrSignatureNotFound) {
		t.Errorf("Move(missing) error = %v, want ErrSignatureNotFound", err)
	}
	if _, err := s.Resize(sig.ID, 0, 10, 1000, 1200); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Resize(0) error = %v, want ErrInvalidGeometry", err)
	}
	// A failed update leaves the signature untouched.
	if got, _ := s.Get(sig.ID); got.Rect != set.Rect {
		t.Errorf("failed Resize() changed rect to %v", got.Rect)
	}
}

func TestBakedSignaturesAreFrozen(t *testing.T) {
	s := newTestStore()
	a, _ := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
	b, _ := s.Place("b.png", geom.NewRect(400, 100, 150, 50), 1000, 1200, 1, Author{})

	if n := s.MarkBaked(a.ID, "unknown"); n != 1 {
		t.Fatalf("MarkBaked() = %d, want 1", n)
	}
	if n := s.MarkBaked(a.ID); n != 0 {
		t.Errorf("MarkBaked() again = %d, want 0", n)
	}
	if _, err := s.Move(a.ID, 0, 0, 1000, 1200); !errors.Is(err, ErrSignatureBaked) {
		t.Errorf("Move(baked) error = %v, want ErrSignatureBaked", err)
	}

	overlays := s.Overlays(1)
	if len(overlays) != 1 || overlays[0].ID != b.ID {
		t.Errorf("Overlays(1) = %v, want only %s", overlays, b.ID)
	}
	// Baked signatures still occupy their area.
	if got := s.OccupiedRegions(1, 1000, 1200); len(got) != 2 {
		t.Errorf("OccupiedRegions() = %v, want 2 rects", got)
	}
}

func TestPagePartitioning(t *testing.T) {
	s := newTestStore()
	p1, _ := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
	p2, _ := s.Place("b.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 2, Author{})

	if n := s.ReprojectAll(2, 500, 600); n != 1 {
		t.Errorf("ReprojectAll(2) = %d, want 1", n)
	}
	got1, _ := s.Get(p1.ID)
	if got1.Rect != p1.Rect {
		t.Errorf("page 1 signature changed by page 2 reprojection: %v", got1.Rect)
	}
	got2, _ := s.Get(p2.ID)
	if !cmp.Equal(got2.Rect, geom.NewRect(50, 50, 75, 25), approx) {
		t.Errorf("page 2 rect = %v, want (50,50 75x25)", got2.Rect)
	}

	if o := s.Overlays(1); len(o) != 1 || o[0].ID != p1.ID {
		t.Errorf("Overlays(1) = %v", o)
	}
	if o := s.Overlays(3); len(o) != 0 {
		t.Errorf("Overlays(3) = %v, want none", o)
	}
	want := []geom.Rect{geom.NewRect(100, 100, 150, 50)}
	if diff := cmp.Diff(want, s.OccupiedRegions(2, 1000, 1200), approx); diff != "" {
		t.Errorf("OccupiedRegions(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestIDsNeverReused(t *testing.T) {
	s := newTestStore()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sig, err := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
		if err != nil {
			t.Fatalf("Place() error = %v", err)
		}
		if seen[sig.ID] {
			t.Fatalf("id %s issued twice", sig.ID)
		}
		seen[sig.ID] = true
		if i%2 == 0 {
			if err := s.Remove(sig.ID); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
		}
	}
	s.ClearAll()
	if s.Len() != 0 {
		t.Errorf("Len() after ClearAll = %d", s.Len())
	}
	sig, _ := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
	if seen[sig.ID] {
		t.Errorf("id %s reused after ClearAll", sig.ID)
	}
	if err := s.Remove("sig-nope"); !errors.Is(err, ErrSignatureNotFound) {
		t.Errorf("Remove(missing) error = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestStore()
	a, _ := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{Name: "Ana"})
	s.Place("b.png", geom.NewRect(300, 500, 150, 50), 1000, 1200, 2, Author{Name: "Bo"})
	s.MarkBaked(a.ID)
	snap := s.Snapshot()

	r := newTestStore()
	if err := r.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if diff := cmp.Diff(snap, r.All()); diff != "" {
		t.Errorf("restored catalog mismatch (-want +got):\n%s", diff)
	}
	next, _ := r.Place("c.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
	for _, old := range snap {
		if old.ID == next.ID {
			t.Errorf("restored id %s reissued", next.ID)
		}
	}

	bad := []Signature{{ID: "x", Page: 1, Norm: geom.NewRect(0.9, 0.1, 0.5, 0.1)}}
	if err := r.Restore(bad); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Restore(out of page) error = %v, want ErrInvalidGeometry", err)
	}
	dup := []Signature{snap[0], snap[0]}
	if err := r.Restore(dup); err == nil {
		t.Error("Restore(duplicate ids) expected error")
	}
}

func TestNormalizeAuthor(t *testing.T) {
	got := NormalizeAuthor(Author{Name: "  José ", Email: " Jose@Example.COM "})
	want := Author{Name: "José", Email: "jose@example.com"}
	if got != want {
		t.Errorf("NormalizeAuthor() = %+v, want %+v", got, want)
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{"placed", StatePlaced, false},
		{"BAKED", StateBaked, false},
		{"", StatePlaced, false},
		{"burnt", StatePlaced, true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseState(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseState(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sig, err := s.Place("a.png", geom.NewRect(100, 100, 150, 50), 1000, 1200, 1, Author{})
				if err != nil {
					t.Errorf("Place() error = %v", err)
					return
				}
				s.Move(sig.ID, 200, 200, 1000, 1200)
				s.ReprojectAll(1, 2000, 2400)
				s.Overlays(1)
			}
		}()
	}
	wg.Wait()
	if s.Len() != 160 {
		t.Errorf("Len() = %d, want 160", s.Len())
	}
}
