package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fmueller/holaamigo/internal/apperr"
	"github.com/fmueller/holaamigo/internal/audio"
	"github.com/fmueller/holaamigo/internal/metrics"
	"github.com/fmueller/holaamigo/internal/platform"
	"github.com/fmueller/holaamigo/internal/whisper"
	"go.uber.org/zap"
)

const (
	DefaultLanguage = "en"
	DefaultQuality  = string(whisper.QualityBase)

	// BlankAudioToken is what whisper.cpp prints for silence; the gate reuses it.
	BlankAudioToken = "[BLANK_AUDIO]"
)

type Request struct {
	Audio    []byte
	Language string
	Quality  string
}

type Result struct {
	Text     string  `json:"result"`
	Took     float64 `json:"took"`
	Language string  `json:"lang"`
	Quality  string  `json:"qual"`
}

type Options struct {
	Engine whisper.Engine
	// Models holds one resolved model per tier; base is required.
	Models map[whisper.Quality]whisper.ResolvedModel
	Device platform.Device
	// TempDir defaults to os.TempDir().
	TempDir              string
	SilenceGate          bool
	SilenceThresholdDBFS float64
	Metrics              *metrics.Metrics
	Logger               *zap.Logger
	Now                  func() time.Time
}

// Service is built once at startup and only read afterwards. Inference runs
// one request at a time; callers queue on the slot in arrival order.
type Service struct {
	engine      whisper.Engine
	models      map[whisper.Quality]whisper.ResolvedModel
	device      platform.Device
	tempDir     string
	silenceGate bool
	thresholdDB float64
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time

	slot chan struct{}
}

func NewService(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("transcription engine is required")
	}
	base, ok := opts.Models[whisper.QualityBase]
	if !ok || strings.TrimSpace(base.Path) == "" {
		return nil, errors.New("base model is required")
	}

	models := make(map[whisper.Quality]whisper.ResolvedModel, len(opts.Models))
	for q, m := range opts.Models {
		if strings.TrimSpace(m.Path) == "" {
			return nil, fmt.Errorf("model for quality %s has no path", q)
		}
		models[q] = m
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Device == "" {
		opts.Device = platform.DeviceCPU
	}

	return &Service{
		engine:      opts.Engine,
		models:      models,
		device:      opts.Device,
		tempDir:     opts.TempDir,
		silenceGate: opts.SilenceGate,
		thresholdDB: opts.SilenceThresholdDBFS,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		slot:        make(chan struct{}, 1),
	}, nil
}

// Model reports which model a quality label resolves to. A missing medium
// model falls back to base.
func (s *Service) Model(label string) whisper.ResolvedModel {
	if m, ok := s.models[whisper.ParseQuality(label)]; ok {
		return m
	}
	return s.models[whisper.QualityBase]
}

func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	const op = "Service.Transcribe"

	if len(req.Audio) == 0 {
		return Result{}, apperr.E(apperr.CodeInvalidArgument, op, "audio payload is empty", nil)
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = DefaultLanguage
	}
	qual := strings.TrimSpace(req.Quality)
	if qual == "" {
		qual = DefaultQuality
	}
	model := s.Model(qual)

	if s.silenceGate && audio.LooksLikeWAV(req.Audio) {
		silent, m, err := audio.IsSilentWAVBytes(req.Audio, s.thresholdDB)
		switch {
		case err != nil:
			s.logger.Debug("silence gate analysis failed; continuing transcription", zap.Error(err))
		case silent:
			s.logger.Info("audio considered silent; skipping transcription",
				zap.Float64("rms_dbfs", m.RMSdBFS),
				zap.Float64("peak_dbfs", m.PeakdBFS),
				zap.Float64("threshold_dbfs", s.thresholdDB),
			)
			s.metrics.ObserveSilenceSkip(string(whisper.ParseQuality(qual)))
			return Result{Text: BlankAudioToken, Took: 0, Language: lang, Quality: qual}, nil
		}
	}

	audioPath, cleanup, err := s.writeTemp(req.Audio)
	if err != nil {
		return Result{}, apperr.E(apperr.CodeInternal, op, "failed to stage audio", err)
	}
	defer cleanup()

	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, apperr.E(apperr.CodeOf(err), op, "gave up waiting for the model", err)
	}
	defer release()

	done := s.metrics.StartInference(string(whisper.ParseQuality(qual)))
	started := s.now()
	text, err := s.engine.Transcribe(ctx, whisper.TranscriptionRequest{
		AudioPath: audioPath,
		ModelPath: model.Path,
		Language:  lang,
		NoGPU:     s.device == platform.DeviceCPU,
	})
	elapsed := s.now().Sub(started)
	done(elapsed, err)
	if err != nil {
		s.logger.Warn("transcription failed",
			zap.String("model", model.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, apperr.E(apperr.CodeOf(ctxErr), op, "transcription did not finish in time", err)
		}
		return Result{}, apperr.E(apperr.CodeInternal, op, "transcription failed", err)
	}

	result := Result{
		Text:     text,
		Took:     elapsed.Seconds(),
		Language: lang,
		Quality:  qual,
	}
	s.logger.Info("transcription finished",
		zap.String("result", result.Text),
		zap.Float64("took", result.Took),
		zap.String("lang", result.Language),
		zap.String("qual", result.Quality),
		zap.String("model", model.Name),
	)
	return result, nil
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) writeTemp(data []byte) (string, func(), error) {
	f, err := os.CreateTemp(s.tempDir, "holaamigo-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove temp audio", zap.String("path", path), zap.Error(err))
		}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}
