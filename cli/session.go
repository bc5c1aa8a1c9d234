package cli

import (
	"log/slog"

	"github.com/georgepadayatti/docsign/config"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/session"
	"github.com/georgepadayatti/docsign/storage"
)

// newSession builds a session from the configuration. With persist set,
// signature images and catalogs go to the configured storage directories.
func newSession(cfg *config.Config, persist bool) (*session.Session, error) {
	labels, err := labelLocator(cfg)
	if err != nil {
		return nil, err
	}

	opts := session.DefaultOptions()
	opts.DisplayScale = cfg.Display.Scale
	opts.MinScale = cfg.Display.MinScale
	opts.MaxScale = cfg.Display.MaxScale
	opts.Detection = cfg.DetectionOptions()
	opts.Labels = labels
	opts.Placement = cfg.PlacementOptions()
	opts.Gesture = cfg.GestureOptions()
	opts.Export = cfg.ExportOptions()

	rasterizer, err := cfg.PDFRasterizer()
	if err != nil {
		return nil, err
	}
	if rasterizer == nil {
		logging.Logger().Debug("no PDF rasterizer, PDF pages are shown as placeholders",
			slog.String("rasterizer", cfg.PDF.Rasterizer))
	}
	opts.Rasterizer = rasterizer

	if !persist {
		return session.New(nil, nil, opts), nil
	}
	blobs := storage.NewFSBlobStore(cfg.Storage.BlobRoot, cfg.Storage.BaseURL)
	meta := storage.NewFSMetadataStore(cfg.Storage.MetadataRoot)
	return session.New(blobs, meta, opts), nil
}
