package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const defaultUserAgent = "holaamigo/1"

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	Retries        int
	// Backoff is multiplied by the attempt number between retries.
	Backoff   time.Duration
	UserAgent string
	// NoProgress replaces the terminal bar with periodic log lines.
	NoProgress bool
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 300 * time.Millisecond
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.HTTPClient == nil {
		// Models reach 3 GB; the limit guards against a stalled connection,
		// not a slow one.
		o.HTTPClient = &http.Client{Timeout: time.Hour}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.ExpectedSHA256 = strings.ToLower(strings.TrimSpace(o.ExpectedSHA256))
}

// DownloadFile fetches opts.URL into opts.Destination. The body is streamed
// into a .part file next to the destination and renamed into place only after
// the checksum matched, so a crashed download never leaves a half model behind.
func DownloadFile(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	opts.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download", zap.Int("attempt", attempt), zap.Int("max", opts.Retries), zap.String("url", opts.URL), zap.Error(lastErr))
			if err := sleep(ctx, time.Duration(attempt)*opts.Backoff); err != nil {
				return fmt.Errorf("download canceled: %w", err)
			}
		}

		lastErr = fetch(ctx, opts)
		if lastErr == nil {
			opts.Logger.Debug("download complete", zap.String("destination", opts.Destination))
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fetch(ctx context.Context, opts Options) (err error) {
	partPath := opts.Destination + ".part"
	_ = os.Remove(partPath)

	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(partPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	hash := sha256.New()
	progress := newProgress(opts, resp.ContentLength)
	if _, err := io.Copy(io.MultiWriter(out, hash, progress), resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	progress.finish()

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if actual := hex.EncodeToString(hash.Sum(nil)); opts.ExpectedSHA256 != "" && actual != opts.ExpectedSHA256 {
		return &checksumError{expected: opts.ExpectedSHA256, actual: actual}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(partPath, opts.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// retryable is false for client errors and a canceled context; a 404 will not
// turn into a 200 on the next attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

// progress renders a bar on a terminal. With NoProgress or without a terminal
// (a server under systemd or in a container) it logs every tenth of the
// download instead.
type progress struct {
	bar      *progressbar.ProgressBar
	logger   *zap.Logger
	name     string
	total    int64
	written  int64
	lastTick int64
}

func newProgress(opts Options, total int64) *progress {
	p := &progress{logger: opts.Logger, name: filepath.Base(opts.Destination), total: total}
	if !opts.NoProgress && total > 0 && term.IsTerminal(int(os.Stderr.Fd())) {
		p.bar = progressbar.NewOptions64(
			total,
			progressbar.OptionSetDescription("downloading "+p.name),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *progress) Write(b []byte) (int, error) {
	if p.bar != nil {
		return p.bar.Write(b)
	}
	p.written += int64(len(b))
	if p.total > 0 {
		if tick := p.written * 10 / p.total; tick > p.lastTick {
			p.lastTick = tick
			p.logger.Info("download progress",
				zap.String("file", p.name),
				zap.Int64("percent", tick*10),
				zap.Int64("bytes", p.written),
			)
		}
	}
	return len(b), nil
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
