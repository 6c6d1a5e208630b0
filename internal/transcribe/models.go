package transcribe

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fmueller/holaamigo/internal/download"
	"github.com/fmueller/holaamigo/internal/whisper"
	"go.uber.org/zap"
)

type ModelOptions struct {
	// Refs maps each tier to a registry name or model file path.
	Refs         map[whisper.Quality]string
	ModelDir     string
	AutoDownload bool
	// Verify re-hashes models already on disk and replaces corrupt ones.
	Verify     bool
	NoProgress bool
	UserAgent  string
	Logger     *zap.Logger
	// Download is swapped in tests.
	Download func(ctx context.Context, opts download.Options) error
}

// PrepareModels resolves every tier and makes sure its model file exists,
// downloading named models when allowed. Tiers are resolved in order, so two
// tiers naming the same model download it once.
func PrepareModels(ctx context.Context, opts ModelOptions) (map[whisper.Quality]whisper.ResolvedModel, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Download == nil {
		opts.Download = download.DownloadFile
	}

	models := make(map[whisper.Quality]whisper.ResolvedModel, len(opts.Refs))
	for _, q := range whisper.Qualities {
		ref, ok := opts.Refs[q]
		if !ok {
			continue
		}

		resolved, err := whisper.ResolveModel(ref, opts.ModelDir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s model: %w", q, err)
		}

		if !resolved.IsCustomPath && !resolved.NeedsDownload && opts.Verify && resolved.SHA256 != "" {
			if err := download.VerifyFileChecksum(resolved.Path, resolved.SHA256); err != nil {
				opts.Logger.Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
				resolved.NeedsDownload = true
			}
		}

		if resolved.NeedsDownload {
			if !opts.AutoDownload {
				return nil, fmt.Errorf("model %q is missing at %s; run `holaamigo setup` or use --auto-download=true", resolved.Name, resolved.Path)
			}

			opts.Logger.Info("downloading model", zap.String("quality", string(q)), zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
			if err := opts.Download(ctx, download.Options{
				URL:            resolved.URL,
				Destination:    resolved.Path,
				ExpectedSHA256: resolved.SHA256,
				UserAgent:      opts.UserAgent,
				NoProgress:     opts.NoProgress,
				Logger:         opts.Logger,
			}); err != nil {
				return nil, fmt.Errorf("download model %q: %w", resolved.Name, err)
			}
			resolved.NeedsDownload = false
		}

		opts.Logger.Info("model ready", zap.String("quality", string(q)), zap.String("model", resolved.Name), zap.String("path", filepath.Clean(resolved.Path)))
		models[q] = resolved
	}

	if _, ok := models[whisper.QualityBase]; !ok {
		return nil, fmt.Errorf("no model configured for quality %s", whisper.QualityBase)
	}
	return models, nil
}
