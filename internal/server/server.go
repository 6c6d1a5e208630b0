package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/holaamigo/internal/metrics"
	"github.com/fmueller/holaamigo/internal/transcribe"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownGrace = 30 * time.Second

// Transcriber is the part of transcribe.Service the handler needs.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

type Options struct {
	Addr           string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

type Server struct {
	opts   Options
	engine *gin.Engine
	logger *zap.Logger
}

func New(svc Transcriber, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}

	h := &handler{
		svc:            svc,
		maxBodyBytes:   opts.MaxBodyBytes,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
	}

	r := gin.New()
	r.Use(
		cors(),
		requestLogger(opts.Logger, opts.Metrics),
		recovery(opts.Logger),
	)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	r.GET("/", h.hello)
	r.OPTIONS("/", h.hello)
	r.POST("/", h.transcribe)
	// Any other path behaves like the root.
	r.NoRoute(h.dispatch)

	return &Server{opts: opts, engine: r, logger: opts.Logger}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve takes ownership of ln. When ctx ends, in-flight requests get
// shutdownGrace to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: time.Minute,
		WriteTimeout:      s.opts.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
