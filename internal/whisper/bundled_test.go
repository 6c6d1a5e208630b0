package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fmueller/holaamigo/internal/platform"
	"github.com/stretchr/testify/require"
)

func TestResolveBundledEnginePathFindsLibexecSibling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	engineDir := filepath.Join(root, "libexec", "whisper")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(engineDir, 0o755))

	server := filepath.Join(binDir, "holaamigo")
	require.NoError(t, os.WriteFile(server, []byte(""), 0o755))

	enginePath := filepath.Join(engineDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(server)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveBundledEnginePathMissing(t *testing.T) {
	t.Parallel()

	server := filepath.Join(t.TempDir(), "bin", "holaamigo")
	require.NoError(t, os.MkdirAll(filepath.Dir(server), 0o755))
	require.NoError(t, os.WriteFile(server, []byte(""), 0o755))

	_, err := ResolveBundledEnginePath(server)
	require.Error(t, err)
	require.Contains(t, err.Error(), "whisper engine not found")
	require.Contains(t, err.Error(), EnginePathEnv)
}

func TestResolveBundledEnginePathFindsPackagingPathForLocalDev(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	server := filepath.Join(root, "holaamigo")
	require.NoError(t, os.WriteFile(server, []byte(""), 0o755))

	targetDir := filepath.Join(root, "packaging", "whisper", fmt.Sprintf("%s_%s", runtime.GOOS, platform.NormalizeArch(runtime.GOARCH)))
	require.NoError(t, os.MkdirAll(targetDir, 0o755))
	enginePath := filepath.Join(targetDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(server)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestNewBundledEngineUsesEnvOverride(t *testing.T) {
	enginePath := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))
	t.Setenv(EnginePathEnv, enginePath)

	engine, err := NewBundledEngine("/ignored/when/env/is/set", nil)
	require.NoError(t, err)
	require.Equal(t, enginePath, engine.Executable)
}

func TestNewBundledEngineRejectsNonExecutableConfiguredPath(t *testing.T) {
	t.Setenv(EnginePathEnv, "")

	enginePath := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o644))

	_, err := NewBundledEngine(enginePath, nil)
	if runtime.GOOS == "windows" {
		require.NoError(t, err)
		return
	}
	require.Error(t, err)
	require.Contains(t, err.Error(), "configured whisper path is not executable")
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	args := buildArgs(TranscriptionRequest{AudioPath: "/tmp/a.wav", ModelPath: "/m/ggml-base.bin", Language: "es", NoGPU: true}, "/tmp/a.transcript")
	require.Equal(t, []string{"-m", "/m/ggml-base.bin", "-f", "/tmp/a.wav", "-nt", "-otxt", "-of", "/tmp/a.transcript", "-l", "es", "-ng"}, args)

	args = buildArgs(TranscriptionRequest{AudioPath: "/tmp/a.wav", ModelPath: "/m/ggml-base.bin"}, "/tmp/a.transcript")
	require.NotContains(t, args, "-l")
	require.NotContains(t, args, "-ng")
}

func TestBundledEngineTranscribeRunsExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine stub requires a POSIX shell")
	}

	dir := t.TempDir()
	argsLog := filepath.Join(dir, "args.log")
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" > %q
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then out="$2"; fi
  shift
done
printf '  hola amigo \n' > "$out.txt"
`, argsLog)
	enginePath := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(enginePath, []byte(script), 0o755))

	audioPath := filepath.Join(dir, "holaamigo-1.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))

	engine := &BundledEngine{Executable: enginePath}
	text, err := engine.Transcribe(context.Background(), TranscriptionRequest{
		AudioPath: audioPath,
		ModelPath: filepath.Join(dir, "ggml-base.bin"),
		Language:  "es",
	})
	require.NoError(t, err)
	require.Equal(t, "hola amigo", text)

	logged, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	require.Contains(t, string(logged), "-l es")

	_, err = os.Stat(filepath.Join(dir, "holaamigo-1.transcript.txt"))
	require.True(t, os.IsNotExist(err), "transcript output should be removed")
}

func TestBundledEngineTranscribeReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine stub requires a POSIX shell")
	}

	dir := t.TempDir()
	enginePath := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(enginePath, []byte("#!/bin/sh\necho 'failed to read audio' >&2\nexit 3\n"), 0o755))

	engine := &BundledEngine{Executable: enginePath}
	_, err := engine.Transcribe(context.Background(), TranscriptionRequest{
		AudioPath: filepath.Join(dir, "a.wav"),
		ModelPath: filepath.Join(dir, "ggml-base.bin"),
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "failed to read audio"))
}

func TestBundledEngineTranscribeValidatesRequest(t *testing.T) {
	t.Parallel()

	engine := &BundledEngine{Executable: "/nonexistent"}
	_, err := engine.Transcribe(context.Background(), TranscriptionRequest{ModelPath: "m"})
	require.ErrorContains(t, err, "audio path is required")

	_, err = engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a"})
	require.ErrorContains(t, err, "model path is required")
}

func TestDiagnoseEngineFailures(t *testing.T) {
	t.Parallel()

	engine := &BundledEngine{Executable: "/opt/whisper-cli"}
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name   string
		stderr string
		runErr error
		want   string
	}{
		{name: "linux shared lib", stderr: "error while loading shared libraries: libwhisper.so.1: cannot open shared object file", runErr: exitErr, want: "missing required shared libraries"},
		{name: "macos dylib", stderr: "dyld: Library not loaded: @rpath/libwhisper.dylib", runErr: exitErr, want: "missing required shared libraries"},
		{name: "illegal instruction in exit error", runErr: errors.New("signal: illegal instruction (core dumped)"), want: "illegal CPU instruction"},
		{name: "corrupt model", stderr: "whisper_init_from_file: failed to load model", runErr: exitErr, want: "holaamigo setup"},
		{name: "unknown", stderr: "something odd", runErr: exitErr, want: "whisper transcribe failed"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := engine.diagnose(tt.runErr, tt.stderr)
			require.ErrorContains(t, err, tt.want)
			require.ErrorIs(t, err, tt.runErr)
		})
	}
}

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hola amigo que tal", joinSegments(" hola amigo\n que tal \n\n"))
	require.Empty(t, joinSegments("\n"))
}
