// Package resolve locates engine binaries and model files across the
// install layouts the app may be running from.
package resolve

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
	"local-dictation/internal/execx"
)

// NotFoundError reports that no candidate resolved for an engine resource.
type NotFoundError struct {
	Kind       domain.EngineKind
	Resource   string
	Candidates []string
}

// Error formats the failure with the exhausted candidate list.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"no usable %s found for %s engine (tried %s)",
		e.Resource,
		e.Kind,
		strings.Join(e.Candidates, ", "),
	)
}

// Config selects which candidate locations are searched and in what order.
type Config struct {
	// PackagedMode puts packaged-resource paths ahead of development paths.
	PackagedMode bool
	// ResourcesDir is the packaged-app resource tree root.
	ResourcesDir string
	// DataDir is the user-writable app data directory.
	DataDir string
	// ModelDir is the user-configured model directory, searched first.
	ModelDir string
	// Binary and model overrides from settings, checked before any list.
	BinaryOverrides map[domain.EngineKind]string
	ModelOverrides  map[domain.EngineKind]string
}

// Resolver searches ordered candidate lists for binaries and models.
type Resolver struct {
	cfg    Config
	runner execx.Runner
	logger zerolog.Logger

	stat     func(string) (os.FileInfo, error)
	readDir  func(string) ([]os.DirEntry, error)
	lookPath func(string) (string, error)
}

// NewResolver builds a resolver using real OS dependencies.
func NewResolver(cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cfg:      cfg,
		runner:   &execx.ExecRunner{},
		logger:   logger,
		stat:     os.Stat,
		readDir:  os.ReadDir,
		lookPath: exec.LookPath,
	}
}

// NewResolverForTests builds a resolver with injectable dependencies.
func NewResolverForTests(
	cfg Config,
	runner execx.Runner,
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	lookPath func(string) (string, error),
) *Resolver {
	return &Resolver{
		cfg:      cfg,
		runner:   runner,
		logger:   zerolog.Nop(),
		stat:     stat,
		readDir:  readDir,
		lookPath: lookPath,
	}
}

// binaryNames lists bare command names per engine, most specific first.
func binaryNames(kind domain.EngineKind) []string {
	switch kind {
	case domain.EngineSpeech:
		return []string{"whisper-cli", "whisper-cpp", "main"}
	case domain.EngineLanguageModel:
		return []string{"llama-server"}
	default:
		return nil
	}
}

// modelFileNames lists acceptable model filenames per engine, best first.
func modelFileNames(kind domain.EngineKind) []string {
	switch kind {
	case domain.EngineSpeech:
		return []string{
			"ggml-base.en.bin",
			"ggml-base.bin",
			"ggml-small.en.bin",
			"ggml-tiny.en.bin",
		}
	case domain.EngineLanguageModel:
		return []string{
			"qwen2.5-1.5b-instruct-q4_k_m.gguf",
			"llama-3.2-1b-instruct-q4_k_m.gguf",
		}
	default:
		return nil
	}
}

// modelExtension is the fallback extension scanned per engine.
func modelExtension(kind domain.EngineKind) string {
	if kind == domain.EngineLanguageModel {
		return ".gguf"
	}
	return ".bin"
}

// Resolve locates both the binary and the model for one engine kind.
func (r *Resolver) Resolve(ctx context.Context, kind domain.EngineKind) (string, string, error) {
	binary, err := r.Binary(ctx, kind)
	if err != nil {
		return "", "", err
	}
	model, err := r.Model(kind)
	if err != nil {
		return "", "", err
	}
	return binary, model, nil
}

// Binary locates an executable engine binary for the given kind.
func (r *Resolver) Binary(ctx context.Context, kind domain.EngineKind) (string, error) {
	tried := make([]string, 0, 8)
	primary := binaryNames(kind)
	if len(primary) == 0 {
		return "", fmt.Errorf("unknown engine kind: %s", kind)
	}
	mainName := primary[0]

	if override := r.cfg.BinaryOverrides[kind]; override != "" {
		tried = append(tried, override)
		if r.isExecutable(override) {
			return override, nil
		}
	}

	for _, candidate := range r.pathCandidates(mainName) {
		tried = append(tried, candidate)
		if r.isExecutable(candidate) {
			r.logger.Debug().Str("engine", string(kind)).Str("binary", candidate).Msg("resolved binary from path candidate")
			return candidate, nil
		}
	}

	for _, name := range primary {
		tried = append(tried, name)
		resolved, err := r.lookPath(name)
		if err != nil {
			continue
		}
		if execx.Probe(ctx, r.runner, resolved, "--help", execx.DefaultProbeTimeout) {
			r.logger.Debug().Str("engine", string(kind)).Str("binary", resolved).Msg("resolved binary from search path")
			return resolved, nil
		}
	}

	return "", &NotFoundError{Kind: kind, Resource: "binary", Candidates: tried}
}

// pathCandidates builds the ordered path-shaped candidate list for a name.
func (r *Resolver) pathCandidates(name string) []string {
	packaged := []string{}
	if r.cfg.ResourcesDir != "" {
		packaged = append(packaged, filepath.Join(r.cfg.ResourcesDir, "bin", name))
	}
	dev := []string{filepath.Join(".", "bin", name)}
	system := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
	}

	out := make([]string, 0, len(packaged)+len(dev)+len(system))
	if r.cfg.PackagedMode {
		out = append(out, packaged...)
		out = append(out, dev...)
	} else {
		out = append(out, dev...)
		out = append(out, packaged...)
	}
	return append(out, system...)
}

// Model locates a usable model file for the given kind. The user-writable
// data directory is always searched so models downloaded after install are
// picked up.
func (r *Resolver) Model(kind domain.EngineKind) (string, error) {
	tried := make([]string, 0, 8)

	if override := r.cfg.ModelOverrides[kind]; override != "" {
		tried = append(tried, override)
		if r.isFile(override) {
			return override, nil
		}
	}

	dirs := r.modelDirs()
	for _, name := range modelFileNames(kind) {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, name)
			tried = append(tried, candidate)
			if r.isFile(candidate) {
				r.logger.Debug().Str("engine", string(kind)).Str("model", candidate).Msg("resolved ranked model file")
				return candidate, nil
			}
		}
	}

	ext := modelExtension(kind)
	for _, dir := range dirs {
		if found := r.scanModelDir(dir, ext); found != "" {
			r.logger.Debug().Str("engine", string(kind)).Str("model", found).Msg("resolved model by extension scan")
			return found, nil
		}
	}
	tried = append(tried, fmt.Sprintf("*%s in %s", ext, strings.Join(dirs, ", ")))

	return "", &NotFoundError{Kind: kind, Resource: "model", Candidates: tried}
}

// modelDirs returns the ordered model search directories.
func (r *Resolver) modelDirs() []string {
	dirs := make([]string, 0, 4)
	if r.cfg.ModelDir != "" {
		dirs = append(dirs, r.cfg.ModelDir)
	}
	if r.cfg.PackagedMode && r.cfg.ResourcesDir != "" {
		dirs = append(dirs, filepath.Join(r.cfg.ResourcesDir, "models"))
	}
	dirs = append(dirs, filepath.Join(".", "models"))
	if !r.cfg.PackagedMode && r.cfg.ResourcesDir != "" {
		dirs = append(dirs, filepath.Join(r.cfg.ResourcesDir, "models"))
	}
	if r.cfg.DataDir != "" {
		dirs = append(dirs, filepath.Join(r.cfg.DataDir, "models"))
	}
	return dirs
}

// scanModelDir returns the first model file with the extension, sorted by name.
func (r *Resolver) scanModelDir(dir, ext string) string {
	entries, err := r.readDir(dir)
	if err != nil {
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}

	sort.Strings(names)
	return filepath.Join(dir, names[0])
}

// isExecutable reports whether path is an existing executable file.
func (r *Resolver) isExecutable(path string) bool {
	info, err := r.stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// isFile reports whether path is an existing regular file.
func (r *Resolver) isFile(path string) bool {
	info, err := r.stat(path)
	return err == nil && !info.IsDir()
}
