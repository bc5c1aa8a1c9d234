package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/georgepadayatti/docsign/compose"
	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/placement"
)

var errSignatureSkipped = errors.New("signature image could not be drawn")

// SignOptions contains options for the sign command.
type SignOptions struct {
	commonOptions
	Image   string
	Name    string
	Email   string
	Page    int
	X, Y    float64
	Width   float64
	Height  float64
	Auto    bool
	Format  string
	Persist bool
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions
	opts.register(signFlags)
	signFlags.StringVar(&opts.Image, "image", "", "Signature image (PNG, JPEG, GIF or WebP)")
	signFlags.StringVar(&opts.Name, "name", "", "Name of the signatory")
	signFlags.StringVar(&opts.Email, "email", "", "Email of the signatory")
	signFlags.IntVar(&opts.Page, "page", 1, "Page to sign (1-indexed)")
	signFlags.Float64Var(&opts.X, "x", 0, "Left edge of the signature in points")
	signFlags.Float64Var(&opts.Y, "y", 0, "Top edge of the signature in points")
	signFlags.Float64Var(&opts.Width, "w", 0, "Signature width in points")
	signFlags.Float64Var(&opts.Height, "h", 0, "Signature height in points")
	signFlags.BoolVar(&opts.Auto, "auto", false, "Place the signature at the best detected position")
	signFlags.StringVar(&opts.Format, "format", "", "Output format: auto, png, jpeg, pdf (default from configuration)")
	signFlags.BoolVar(&opts.Persist, "persist", false, "Keep the image and signature catalog in the configured storage")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input> [output]\n\n", os.Args[0])
		fmt.Println("Place a signature image on a document and export the flattened result.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input   PDF, image or office file to sign")
		fmt.Println("  output  Output file (default <input>_signed.<ext>)")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -image sig.png -auto contract.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -image sig.png -page 2 -x 350 -y 680 -w 150 -h 50 contract.pdf signed.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 1 || opts.Image == "" {
		signFlags.Usage()
		osExit(1)
	}

	outputPath := signFlags.Arg(1)
	if err := runSign(context.Background(), signFlags.Arg(0), outputPath, &opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runSign(ctx context.Context, inputPath, outputPath string, opts *SignOptions, stdout io.Writer) error {
	manual := opts.Width > 0 && opts.Height > 0
	if !opts.Auto && !manual {
		return fmt.Errorf("either -auto or a signature size (-w and -h) is required")
	}

	cfg, cleanup, err := opts.setup()
	if err != nil {
		return err
	}
	defer cleanup()
	if opts.Format != "" {
		cfg.Export.Format = opts.Format
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	imgData, err := os.ReadFile(opts.Image)
	if err != nil {
		return fmt.Errorf("failed to read signature image: %w", err)
	}

	sess, err := newSession(cfg, opts.Persist)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.Open(ctx, filepath.Base(inputPath), data); err != nil {
		return err
	}
	if opts.Page != 1 {
		if _, err := sess.GoToPage(ctx, opts.Page); err != nil {
			return err
		}
	}

	ref, err := sess.StoreImage(ctx, imgData)
	if err != nil {
		return err
	}
	author := placement.Author{Name: opts.Name, Email: opts.Email}

	var sig placement.Signature
	if manual && !opts.Auto {
		s := sess.Scale()
		sig, err = sess.Place(ref, geom.NewRect(opts.X, opts.Y, opts.Width, opts.Height).Scale(s, s), author)
	} else {
		sig, _, err = sess.AutoPlace(ctx, ref, author)
	}
	if err != nil {
		return fmt.Errorf("failed to place signature: %w", err)
	}

	blob, exportErr := sess.Export(ctx)
	if blob == nil {
		return exportErr
	}
	for _, id := range blob.Skipped {
		if id == sig.ID {
			return fmt.Errorf("%w: %s", errSignatureSkipped, opts.Image)
		}
	}

	if outputPath, err = writeExport(inputPath, outputPath, blob, exportErr); err != nil {
		return err
	}

	pt := sig.Rect.Scale(1/sess.Scale(), 1/sess.Scale())
	fmt.Fprintf(stdout, "Signed %s page %d at %s -> %s\n", inputPath, sig.Page, pointString(pt), outputPath)
	fmt.Fprintf(stdout, "  %s, %d page(s), sha3-256 %s\n", blob.MIMEType, blob.Pages, blob.Digest)
	return nil
}

// writeExport writes blob next to the input unless outputPath is set. The
// file is written even when the export reported a failure to save the
// catalog; that failure is returned afterwards.
func writeExport(inputPath, outputPath string, blob *compose.ExportedBlob, exportErr error) (string, error) {
	if outputPath == "" {
		outputPath = filepath.Join(filepath.Dir(inputPath), blob.Filename)
	}
	if err := os.WriteFile(outputPath, blob.Data, 0644); err != nil {
		return outputPath, fmt.Errorf("failed to write output file: %w", err)
	}
	if exportErr != nil {
		return outputPath, fmt.Errorf("signed document written to %s: %w", outputPath, exportErr)
	}
	return outputPath, nil
}

func pointString(r geom.Rect) string {
	return fmt.Sprintf("(%.0f, %.0f) %.0fx%.0f pt", r.X, r.Y, r.Width, r.Height)
}
