package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fmueller/holaamigo/internal/config"
	"github.com/fmueller/holaamigo/internal/download"
	"github.com/fmueller/holaamigo/internal/logging"
	"github.com/fmueller/holaamigo/internal/metrics"
	"github.com/fmueller/holaamigo/internal/platform"
	"github.com/fmueller/holaamigo/internal/server"
	"github.com/fmueller/holaamigo/internal/transcribe"
	"github.com/fmueller/holaamigo/internal/version"
	"github.com/fmueller/holaamigo/internal/whisper"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const envFile = ".env"

type appState struct {
	configFile string

	cfg    config.Config
	logger *zap.Logger
	probe  platform.Probe

	engineFn   func(path string, logger *zap.Logger) (whisper.Engine, error)
	downloadFn func(ctx context.Context, opts download.Options) error
	runFn      func(ctx context.Context, srv *server.Server) error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	return &appState{
		cfg:   config.Default(),
		probe: platform.DefaultProbe(),
		engineFn: func(path string, logger *zap.Logger) (whisper.Engine, error) {
			return whisper.NewBundledEngine(path, logger)
		},
		runFn: func(ctx context.Context, srv *server.Server) error {
			return srv.Run(ctx)
		},
	}
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "holaamigo",
		Short:         "Serve whisper speech-to-text over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serve(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	defaults := config.Default()
	pf := cmd.PersistentFlags()
	pf.StringVar(&app.configFile, "config", "", "Config file (yaml, toml or json)")
	pf.String("model-dir", defaults.ModelDir, "Directory where models are stored")
	pf.String("base-model", defaults.BaseModel, "Model name or file path for quality \"base\"")
	pf.String("medium-model", defaults.MediumModel, "Model name or file path for quality \"medium\"; empty serves base only")
	pf.Bool("auto-download", defaults.AutoDownload, "Automatically download missing models")
	pf.String("whisper-path", defaults.WhisperPath, "Path to the whisper-cli binary")
	pf.String("device", defaults.Device, "Compute device: auto|gpu|cpu")
	pf.Bool("silence-gate", defaults.SilenceGate, "Detect near-silent WAV audio and skip transcription")
	pf.Float64("silence-threshold-dbfs", defaults.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
	pf.Bool("verbose", defaults.Log.Verbose, "Enable verbose logs")
	pf.Bool("json", defaults.Log.JSON, "Enable JSON logging")
	pf.Bool("no-progress", defaults.NoProgress, "Disable progress indicators")
	bindServeFlags(cmd, defaults)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindServeFlags(cmd *cobra.Command, defaults config.Config) {
	cmd.Flags().String("addr", defaults.Addr, "Listen address")
	cmd.Flags().Int64("max-body-bytes", defaults.MaxBodyBytes, "Largest accepted request body in bytes")
	cmd.Flags().Duration("request-timeout", defaults.RequestTimeout, "Per-request transcription deadline; 0 disables it")
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout")
}

// init runs before every subcommand: flags have been parsed, so the layered
// config can be resolved and the logger built from it.
func (a *appState) init(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		File:    a.configFile,
		Flags:   cmd.Flags(),
		EnvFile: envFile,
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Verbose: cfg.Log.Verbose, JSON: cfg.Log.JSON})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	a.cfg = cfg
	a.logger = logger
	return nil
}

// buildService prepares the engine and both model tiers, then wires them into
// a transcribe.Service.
func (a *appState) buildService(ctx context.Context, m *metrics.Metrics) (*transcribe.Service, error) {
	requested, err := platform.ParseDevice(a.cfg.Device)
	if err != nil {
		return nil, err
	}
	device, accelerated := a.probe.SelectDevice(requested)
	if !accelerated {
		a.log().Warn("no accelerated compute device found; using CPU")
	}

	engine, err := a.engineFn(a.cfg.WhisperPath, a.log())
	if err != nil {
		return nil, err
	}

	models, err := a.prepareModels(ctx, false)
	if err != nil {
		return nil, err
	}

	a.log().Info("service ready", zap.String("device", string(device)), zap.Int("models", len(models)))
	return transcribe.NewService(transcribe.Options{
		Engine:               engine,
		Models:               models,
		Device:               device,
		SilenceGate:          a.cfg.SilenceGate,
		SilenceThresholdDBFS: a.cfg.SilenceThresholdDBFS,
		Metrics:              m,
		Logger:               a.log(),
	})
}

func (a *appState) prepareModels(ctx context.Context, verify bool) (map[whisper.Quality]whisper.ResolvedModel, error) {
	modelDir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	refs := make(map[whisper.Quality]string, len(whisper.Qualities))
	for _, q := range whisper.Qualities {
		if ref := a.cfg.ModelRef(q); ref != "" {
			refs[q] = ref
		}
	}

	return transcribe.PrepareModels(ctx, transcribe.ModelOptions{
		Refs:         refs,
		ModelDir:     modelDir,
		AutoDownload: a.cfg.AutoDownload || verify,
		Verify:       verify,
		NoProgress:   !a.progressEnabled(),
		UserAgent:    version.UserAgent(),
		Logger:       a.log(),
		Download:     a.downloadFn,
	})
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.cfg.NoProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
