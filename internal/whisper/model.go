package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultModel backs the base quality tier.
const DefaultModel = "base"

// ModelMirrorEnv points named-model downloads at another host serving the
// same file layout, e.g. an internal artifact cache.
const ModelMirrorEnv = "HOLAAMIGO_MODEL_MIRROR"

const defaultModelMirror = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

type Model struct {
	Name   string
	SHA256 string
}

func (m Model) FileName() string { return "ggml-" + m.Name + ".bin" }

// URL is where the model is fetched from, honoring ModelMirrorEnv.
func (m Model) URL() string {
	mirror := strings.TrimRight(strings.TrimSpace(os.Getenv(ModelMirrorEnv)), "/")
	if mirror == "" {
		mirror = defaultModelMirror
	}
	return mirror + "/" + m.FileName()
}

type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	NeedsDownload bool
	IsCustomPath  bool
}

// Sorted by name; error messages list them in this order.
var registry = []Model{
	{Name: "base", SHA256: "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe"},
	{Name: "large-v3", SHA256: "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2"},
	{Name: "medium", SHA256: "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208"},
	{Name: "small", SHA256: "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b"},
	{Name: "tiny", SHA256: "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21"},
}

func ModelNames() []string {
	names := make([]string, len(registry))
	for i, m := range registry {
		names[i] = m.Name
	}
	return names
}

func LookupModel(name string) (Model, bool) {
	for _, m := range registry {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ResolveModel accepts a registry name or a path to a ggml .bin file. Named
// models live in modelDir and may still need a download.
func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	modelRef = strings.TrimSpace(modelRef)
	if modelRef == "" {
		modelRef = DefaultModel
	}

	if model, ok := LookupModel(modelRef); ok {
		return resolveNamed(model, modelDir)
	}
	if !looksLikePath(modelRef) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}
	return resolveCustom(filepath.Clean(modelRef))
}

func resolveNamed(model Model, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelDir) == "" {
		return ResolvedModel{}, errors.New("model directory must not be empty for named model")
	}

	path := filepath.Join(modelDir, model.FileName())
	_, err := os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ResolvedModel{}, fmt.Errorf("stat model path: %w", err)
	}

	return ResolvedModel{
		Name:          model.Name,
		Path:          path,
		URL:           model.URL(),
		SHA256:        model.SHA256,
		NeedsDownload: err != nil,
	}, nil
}

func resolveCustom(path string) (ResolvedModel, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", path)
	case err != nil:
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	case info.IsDir():
		return ResolvedModel{}, fmt.Errorf("custom model path is a directory: %s", path)
	}

	return ResolvedModel{
		Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:         path,
		IsCustomPath: true,
	}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}
