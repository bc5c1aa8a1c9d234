package raster

// Run is a contiguous horizontal or vertical stretch of dark pixels.
type Run struct {
	// Start is the x (horizontal runs) or y (vertical runs) of the first pixel.
	Start  int
	Length int
}

// End returns the coordinate one past the last pixel of the run.
func (r Run) End() int { return r.Start + r.Length }

// ScanHorizontalRun finds the longest run of pixels on row y in [x0, x1)
// whose luminance is below darkThreshold. A zero-length run means none was
// found.
func (r *Raster) ScanHorizontalRun(y, x0, x1 int, darkThreshold uint8) Run {
	if y < 0 || y >= r.Height() {
		return Run{}
	}
	x0 = clampInt(x0, 0, r.Width())
	x1 = clampInt(x1, 0, r.Width())

	row := r.row(y)
	var best, cur Run
	for x := x0; x < x1; x++ {
		if row[x] < darkThreshold {
			if cur.Length == 0 {
				cur.Start = x
			}
			cur.Length++
			if cur.Length > best.Length {
				best = cur
			}
		} else {
			cur = Run{}
		}
	}
	return best
}

// ScanVerticalRun finds the longest dark run in column x within [y0, y1).
func (r *Raster) ScanVerticalRun(x, y0, y1 int, darkThreshold uint8) Run {
	if x < 0 || x >= r.Width() {
		return Run{}
	}
	y0 = clampInt(y0, 0, r.Height())
	y1 = clampInt(y1, 0, r.Height())

	var best, cur Run
	for y := y0; y < y1; y++ {
		if r.gray.Pix[y*r.gray.Stride+x] < darkThreshold {
			if cur.Length == 0 {
				cur.Start = y
			}
			cur.Length++
			if cur.Length > best.Length {
				best = cur
			}
		} else {
			cur = Run{}
		}
	}
	return best
}

// sample visits the in-bounds grid points of the region with the given
// stride and returns how many were visited.
func (r *Raster) sample(x, y, w, h, step int, visit func(lum uint8)) int {
	if step < 1 {
		step = 1
	}
	if w <= 0 || h <= 0 {
		return 0
	}
	n := 0
	for py := y; py < y+h; py += step {
		if py < 0 || py >= r.Height() {
			continue
		}
		row := r.row(py)
		for px := x; px < x+w; px += step {
			if px < 0 || px >= len(row) {
				continue
			}
			visit(row[px])
			n++
		}
	}
	return n
}

// RegionEmptyRatio returns the fraction of sampled pixels in the rectangle
// that are lighter than the white threshold. A region without any in-bounds
// sample has ratio 0.
func (r *Raster) RegionEmptyRatio(x, y, w, h, step int) float64 {
	white := 0
	n := r.sample(x, y, w, h, step, func(lum uint8) {
		if lum > r.WhiteThreshold {
			white++
		}
	})
	if n == 0 {
		return 0
	}
	return float64(white) / float64(n)
}

// RegionDarkRatio returns the fraction of sampled pixels that are not white,
// the complement of RegionEmptyRatio over the same samples.
func (r *Raster) RegionDarkRatio(x, y, w, h, step int) float64 {
	ink := 0
	n := r.sample(x, y, w, h, step, func(lum uint8) {
		if lum <= r.WhiteThreshold {
			ink++
		}
	})
	if n == 0 {
		return 0
	}
	return float64(ink) / float64(n)
}

// TextStats is a rough description of the ink in a region.
type TextStats struct {
	// DarkRatio is the fraction of sampled pixels below the dark threshold.
	DarkRatio float64
	// Transitions is the mean number of light/dark changes per sampled row.
	// Glyphs produce many, rules and filled boxes very few.
	Transitions float64
}

// TextDensity estimates whether a region holds text. Rows are sampled every
// step pixels; within a row every pixel is read so thin strokes are not
// skipped.
func (r *Raster) TextDensity(x, y, w, h, step int, darkThreshold uint8) TextStats {
	if step < 1 {
		step = 1
	}
	x0 := clampInt(x, 0, r.Width())
	x1 := clampInt(x+w, 0, r.Width())
	if x1 <= x0 {
		return TextStats{}
	}

	var dark, total, transitions, rows int
	for py := y; py < y+h; py += step {
		if py < 0 || py >= r.Height() {
			continue
		}
		row := r.row(py)[x0:x1]
		prev := row[0] < darkThreshold
		for _, lum := range row {
			isDark := lum < darkThreshold
			if isDark {
				dark++
			}
			if isDark != prev {
				transitions++
			}
			prev = isDark
			total++
		}
		rows++
	}
	if total == 0 || rows == 0 {
		return TextStats{}
	}
	return TextStats{
		DarkRatio:   float64(dark) / float64(total),
		Transitions: float64(transitions) / float64(rows),
	}
}

// ColumnCoverage returns the fraction of sampled columns in [x0, x1) that
// contain at least one dark pixel within rows [y0, y1). A ruled line scores
// close to 1, scattered text much lower.
func (r *Raster) ColumnCoverage(x0, x1, y0, y1, step int, darkThreshold uint8) float64 {
	if step < 1 {
		step = 1
	}
	y0 = clampInt(y0, 0, r.Height())
	y1 = clampInt(y1, 0, r.Height())
	if y1 <= y0 {
		return 0
	}

	covered, n := 0, 0
	for x := x0; x < x1; x += step {
		if x < 0 || x >= r.Width() {
			continue
		}
		n++
		for y := y0; y < y1; y++ {
			if r.gray.Pix[y*r.gray.Stride+x] < darkThreshold {
				covered++
				break
			}
		}
	}
	if n == 0 {
		return 0
	}
	return float64(covered) / float64(n)
}
