package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/holaamigo/internal/platform"
	"go.uber.org/zap"
)

// EnginePathEnv overrides every other way of locating whisper-cli.
const EnginePathEnv = "HOLAAMIGO_WHISPER_PATH"

// BundledEngine runs whisper.cpp's whisper-cli once per request. The model is
// memory-mapped by whisper.cpp, so repeated runs hit the page cache.
type BundledEngine struct {
	Executable string
	Logger     *zap.Logger
}

// NewBundledEngine locates whisper-cli. configured may be empty.
func NewBundledEngine(configured string, logger *zap.Logger) (*BundledEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv(EnginePathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", EnginePathEnv, err)
		}
		return &BundledEngine{Executable: override, Logger: logger}, nil
	}

	if configured = strings.TrimSpace(configured); configured != "" {
		if err := ensureExecutable(configured); err != nil {
			return nil, fmt.Errorf("configured whisper path is not executable: %w", err)
		}
		return &BundledEngine{Executable: configured, Logger: logger}, nil
	}

	serverExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve holaamigo executable path: %w", err)
	}

	whisperExe, err := ResolveBundledEnginePath(serverExe)
	if err != nil {
		if onPath, lookErr := exec.LookPath(engineBinaryName()); lookErr == nil {
			return &BundledEngine{Executable: onPath, Logger: logger}, nil
		}
		return nil, err
	}

	return &BundledEngine{Executable: whisperExe, Logger: logger}, nil
}

func ResolveBundledEnginePath(serverExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(serverExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("whisper engine not found near %s or on $PATH; install whisper.cpp or set %s (expected at ../libexec/whisper/%s)", serverExecutable, EnginePathEnv, engineBinaryName())
}

func EnginePathCandidates(serverExecutable string) []string {
	binDir := filepath.Dir(serverExecutable)
	engineName := engineBinaryName()
	host := platform.CurrentRuntime()
	hostTarget := fmt.Sprintf("%s_%s", host.OS, host.Arch)

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return "", errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return "", errors.New("model path is required")
	}

	if err := ensureExecutable(b.Executable); err != nil {
		return "", fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	outBase := strings.TrimSuffix(req.AudioPath, filepath.Ext(req.AudioPath)) + ".transcript"
	txtOut := outBase + ".txt"
	defer os.Remove(txtOut)

	args := buildArgs(req, outBase)
	cmd := exec.CommandContext(ctx, b.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.log().Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("whisper transcribe interrupted: %w", ctxErr)
		}
		return "", b.diagnose(err, strings.TrimSpace(stderr.String()))
	}

	content, err := os.ReadFile(txtOut)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	return joinSegments(string(content)), nil
}

// joinSegments folds whisper's one-segment-per-line output into a single line.
func joinSegments(out string) string {
	return strings.Join(strings.Fields(out), " ")
}

// Known whisper-cli failure signatures, matched case-insensitively against
// stderr and the exit error.
var engineFailures = []struct {
	patterns []string
	hint     string
}{
	{
		patterns: []string{"error while loading shared libraries", "cannot open shared object file", "dyld: library not loaded", "image not found"},
		hint:     "whisper engine at %s is missing required shared libraries; rebuild whisper-cli with BUILD_SHARED_LIBS=OFF or fix the library path",
	},
	{
		patterns: []string{"illegal instruction"},
		hint:     "whisper engine at %s crashed with an illegal CPU instruction; set " + EnginePathEnv + " to a whisper-cli binary built for this CPU",
	},
	{
		patterns: []string{"failed to load model", "invalid model data", "bad magic"},
		hint:     "whisper engine at %s could not load the model; run `holaamigo setup` to re-download it",
	},
}

func (b *BundledEngine) diagnose(runErr error, stderr string) error {
	haystack := strings.ToLower(stderr + "\n" + runErr.Error())
	for _, f := range engineFailures {
		for _, p := range f.patterns {
			if strings.Contains(haystack, p) {
				return fmt.Errorf(f.hint+" (%s): %w", b.Executable, stderr, runErr)
			}
		}
	}
	return fmt.Errorf("whisper transcribe failed: %w (%s)", runErr, stderr)
}

func (b *BundledEngine) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func buildArgs(req TranscriptionRequest, outBase string) []string {
	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-nt", "-otxt", "-of", outBase}
	lang := strings.TrimSpace(req.Language)
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if req.NoGPU {
		args = append(args, "-ng")
	}
	return args
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
