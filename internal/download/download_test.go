package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	payload := []byte("holaamigo")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	sum := sha256.Sum256(payload)
	require.NoError(t, VerifyFileChecksum(path, hex.EncodeToString(sum[:])))
	require.NoError(t, VerifyFileChecksum(path, strings.ToUpper(hex.EncodeToString(sum[:]))))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.ErrorIs(t, VerifyFileChecksum(path, "deadbeef"), ErrChecksumMismatch)

	got, err := FileSHA256(path)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(sum[:]), got)

	_, err = FileSHA256(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestDownloadFileRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var userAgent atomic.Value
	payload := []byte("ggml-model-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		userAgent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "models", "ggml-base.bin")
	err := DownloadFile(context.Background(), Options{
		URL:         server.URL,
		Destination: destination,
		Retries:     3,
		Backoff:     time.Millisecond,
		UserAgent:   "holaamigo-test",
		NoProgress:  true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, "holaamigo-test", userAgent.Load())

	_, err = os.Stat(destination + ".part")
	require.True(t, os.IsNotExist(err))
}

func TestDownloadFileDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "missing.bin"),
		Retries:     3,
		Backoff:     time.Millisecond,
		NoProgress:  true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status code: 404")
	require.EqualValues(t, 1, hits.Load())
}

func TestDownloadFileRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "ggml-medium.bin")
	err := DownloadFile(context.Background(), Options{
		URL:            server.URL,
		Destination:    destination,
		ExpectedSHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Retries:        1,
		NoProgress:     true,
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, statErr := os.Stat(destination)
	require.True(t, os.IsNotExist(statErr))
}

func TestDownloadFileStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DownloadFile(ctx, Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "model.bin"),
		Retries:     5,
		Backoff:     time.Hour,
		NoProgress:  true,
	})
	require.Error(t, err)
}

func TestDownloadFileLogsProgressWithoutTerminal(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "1000")
		for i := 0; i < 10; i++ {
			_, _ = w.Write(payload[i*100 : (i+1)*100])
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	core, logs := observer.New(zap.InfoLevel)
	err := DownloadFile(context.Background(), Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "ggml-tiny.bin"),
		NoProgress:  true,
		Logger:      zap.New(core),
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("download progress").All()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1].ContextMap()
	require.EqualValues(t, 100, last["percent"])
	require.Equal(t, "ggml-tiny.bin", last["file"])
}

func TestDownloadFileRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, DownloadFile(context.Background(), Options{Destination: "x"}), "URL is required")
	require.ErrorContains(t, DownloadFile(context.Background(), Options{URL: "http://example.invalid"}), "destination path is required")
}
