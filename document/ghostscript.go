package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoGhostscript is returned when the gs command cannot be found.
var ErrNoGhostscript = errors.New("ghostscript not found")

// Ghostscript renders PDF pages by running the gs command.
type Ghostscript struct {
	// Path is the gs executable.
	Path string
}

// FindGhostscript locates the gs executable. An empty path searches PATH
// for "gs".
func FindGhostscript(path string) (*Ghostscript, error) {
	if path == "" {
		path = "gs"
	}
	p, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGhostscript, err)
	}
	return &Ghostscript{Path: p}, nil
}

// RenderPage implements Rasterizer.
func (g *Ghostscript) RenderPage(ctx context.Context, data []byte, page int, scale float64) (image.Image, error) {
	dir, err := os.MkdirTemp("", "docsign-gs")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "page.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write render input: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.Path,
		"-q", "-dSAFER", "-dBATCH", "-dNOPAUSE",
		"-sDEVICE=png16m",
		"-r"+strconv.FormatFloat(scale*72, 'f', 2, 64),
		"-dTextAlphaBits=4", "-dGraphicsAlphaBits=4",
		"-dFirstPage="+strconv.Itoa(page), "-dLastPage="+strconv.Itoa(page),
		"-o", out, in)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ghostscript failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("ghostscript wrote no page: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}
