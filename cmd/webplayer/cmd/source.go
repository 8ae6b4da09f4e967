package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/config"
	"github.com/zzzwannasleep/WebPlayer/internal/orchestrator"
	"github.com/zzzwannasleep/WebPlayer/internal/urlutil"
)

// openSource resolves a CLI argument (file path, file:// URL, or HTTP
// URL) into a playback Source.
func openSource(ctx context.Context, arg string, cfg config.HTTPSourceConfig, logger *slog.Logger) (orchestrator.Source, error) {
	switch {
	case urlutil.IsRemoteURL(arg):
		src, err := bytesource.Open(ctx, arg, cfg, logger)
		if err != nil {
			return orchestrator.Source{}, fmt.Errorf("opening HTTP source: %w", err)
		}
		return orchestrator.Source{Name: arg, Bytes: src}, nil
	case urlutil.IsFileURL(arg):
		path, err := urlutil.FilePathFromURL(arg)
		if err != nil {
			return orchestrator.Source{}, err
		}
		src, err := bytesource.OpenFile(path, logger)
		if err != nil {
			return orchestrator.Source{}, fmt.Errorf("opening file source: %w", err)
		}
		return orchestrator.Source{Name: path, Bytes: src}, nil
	default:
		src, err := bytesource.OpenFile(arg, logger)
		if err != nil {
			return orchestrator.Source{}, fmt.Errorf("opening file source: %w", err)
		}
		return orchestrator.Source{Name: arg, Bytes: src}, nil
	}
}
