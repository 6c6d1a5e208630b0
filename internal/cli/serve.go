package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/holaamigo/internal/config"
	"github.com/fmueller/holaamigo/internal/metrics"
	"github.com/fmueller/holaamigo/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serve(cmd.Context())
		},
	}
	bindServeFlags(cmd, config.Default())
	return cmd
}

// serve loads both models up front and then answers requests until SIGINT or
// SIGTERM.
func (a *appState) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	svc, err := a.buildService(ctx, m)
	if err != nil {
		return err
	}

	srv := server.New(svc, server.Options{
		Addr:           a.cfg.Addr,
		MaxBodyBytes:   a.cfg.MaxBodyBytes,
		RequestTimeout: a.cfg.RequestTimeout,
		ReadTimeout:    a.cfg.ReadTimeout,
		WriteTimeout:   a.cfg.WriteTimeout,
		Metrics:        m,
		Logger:         a.log(),
	})
	return a.runFn(ctx, srv)
}
