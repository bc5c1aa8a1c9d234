package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/georgepadayatti/docsign/detect"
)

// DetectOptions contains options for the detect command.
type DetectOptions struct {
	commonOptions
	JSON  bool
	Page  int
	Scale float64
}

// DetectCommand implements the 'detect' command.
func DetectCommand(args []string) {
	detectFlags := flag.NewFlagSet("detect", flag.ExitOnError)

	var opts DetectOptions
	opts.register(detectFlags)
	detectFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	detectFlags.IntVar(&opts.Page, "page", 1, "Page to analyze (1-indexed)")
	detectFlags.Float64Var(&opts.Scale, "scale", 0, "Render scale in pixels per point (default from configuration)")

	detectFlags.Usage = func() {
		fmt.Printf("Usage: %s detect [options] <document>\n\n", os.Args[0])
		fmt.Println("Suggest positions for a signature on one page of a document.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  document  PDF, image or office file")
		fmt.Println("")
		fmt.Println("Options:")
		detectFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s detect contract.pdf\n", os.Args[0])
		fmt.Printf("  %s detect -json -page 3 contract.pdf\n", os.Args[0])
	}

	if err := detectFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(detectFlags.Args()) < 1 {
		detectFlags.Usage()
		osExit(1)
	}

	output, err := runDetect(context.Background(), detectFlags.Arg(0), &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if opts.JSON {
		err = writeDetectJSON(os.Stdout, output)
	} else {
		err = writeDetectText(os.Stdout, output, isTerminal(os.Stdout))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		osExit(1)
	}
}

// DetectOutput is the result of the detect command.
type DetectOutput struct {
	Document     string            `json:"document"`
	Page         int               `json:"page"`
	Pages        int               `json:"pages"`
	Scale        float64           `json:"scale"`
	RasterWidth  int               `json:"raster_width"`
	RasterHeight int               `json:"raster_height"`
	Candidates   []CandidateResult `json:"candidates"`
}

// CandidateResult is one suggested position. Pixel coordinates refer to the
// analyzed raster; point coordinates to the page itself.
type CandidateResult struct {
	X          float64          `json:"x"`
	Y          float64          `json:"y"`
	Width      float64          `json:"width"`
	Height     float64          `json:"height"`
	PointX     float64          `json:"point_x"`
	PointY     float64          `json:"point_y"`
	PointW     float64          `json:"point_width"`
	PointH     float64          `json:"point_height"`
	Confidence float64          `json:"confidence"`
	FieldType  detect.FieldType `json:"field_type"`
	Reason     string           `json:"reason"`
}

func runDetect(ctx context.Context, path string, opts *DetectOptions) (*DetectOutput, error) {
	cfg, cleanup, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	sess, err := newSession(cfg, false)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if _, err := sess.Open(ctx, filepath.Base(path), data); err != nil {
		return nil, err
	}
	if opts.Page > 1 {
		if _, err := sess.GoToPage(ctx, opts.Page); err != nil {
			return nil, err
		}
	}
	if opts.Scale > 0 {
		if _, err := sess.SetZoom(ctx, opts.Scale); err != nil {
			return nil, err
		}
	}

	cands, err := sess.Detect(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := sess.Document()
	if err != nil {
		return nil, err
	}
	w, h, _ := doc.RasterSize(doc.CurrentPage())
	scale := sess.Scale()

	out := &DetectOutput{
		Document:     doc.Name,
		Page:         doc.CurrentPage(),
		Pages:        doc.TotalPages(),
		Scale:        scale,
		RasterWidth:  w,
		RasterHeight: h,
		Candidates:   make([]CandidateResult, 0, len(cands)),
	}
	for _, c := range cands {
		pt := c.Scale(1/scale, 1/scale)
		out.Candidates = append(out.Candidates, CandidateResult{
			X: c.X, Y: c.Y, Width: c.Width, Height: c.Height,
			PointX: pt.X, PointY: pt.Y, PointW: pt.Width, PointH: pt.Height,
			Confidence: c.Confidence,
			FieldType:  c.FieldType,
			Reason:     c.Reason,
		})
	}
	return out, nil
}

func writeDetectJSON(w io.Writer, output *DetectOutput) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// writeDetectText prints an aligned table for people, or bare tab-separated
// rows when the output is piped.
func writeDetectText(w io.Writer, output *DetectOutput, interactive bool) error {
	if !interactive {
		for _, c := range output.Candidates {
			if _, err := fmt.Fprintf(w, "%s\t%.2f\t%.0f\t%.0f\t%.0f\t%.0f\t%s\n",
				c.FieldType, c.Confidence, c.PointX, c.PointY, c.PointW, c.PointH, c.Reason); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(w, "%s, page %d of %d (%dx%d px at scale %g)\n\n",
		output.Document, output.Page, output.Pages, output.RasterWidth, output.RasterHeight, output.Scale)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tCONFIDENCE\tX\tY\tWIDTH\tHEIGHT\tREASON")
	for i, c := range output.Candidates {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.0f\t%.0f\t%.0f\t%.0f\t%s\n",
			i+1, c.FieldType, c.Confidence, c.PointX, c.PointY, c.PointW, c.PointH, c.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "\nCoordinates are page points from the top-left corner.")
	return nil
}
