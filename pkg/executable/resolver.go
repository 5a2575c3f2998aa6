// Package executable maps platforms onto redis binaries and materializes
// bundled binaries on disk when needed.
package executable

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/jrepp/embedded-redis/pkg/platform"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
)

//go:embed all:bundled
var bundled embed.FS

// DetectFunc returns the current platform.
type DetectFunc func(ctx context.Context) (platform.Key, error)

// Resolver maps platforms to executables. A mapping value is either a path
// on disk or the name of an artifact inside the bundle.
type Resolver struct {
	mu          sync.Mutex
	executables map[platform.Key]string
	extracted   map[string]string

	detect   DetectFunc
	bundle   fs.FS
	registry *shutdown.Registry
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDetector replaces host platform detection.
func WithDetector(detect DetectFunc) Option {
	return func(r *Resolver) {
		r.detect = detect
	}
}

// WithPlatform pins the resolver to a fixed platform.
func WithPlatform(key platform.Key) Option {
	return WithDetector(func(context.Context) (platform.Key, error) { return key, nil })
}

// WithBundle sets the filesystem artifacts are extracted from.
func WithBundle(fsys fs.FS) Option {
	return func(r *Resolver) {
		r.bundle = fsys
	}
}

// WithBundleDir extracts artifacts from a directory on disk.
func WithBundleDir(dir string) Option {
	return WithBundle(os.DirFS(dir))
}

// WithRegistry sets where temp directory cleanup is registered.
func WithRegistry(reg *shutdown.Registry) Option {
	return func(r *Resolver) {
		r.registry = reg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver with an empty mapping.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		executables: make(map[platform.Key]string),
		extracted:   make(map[string]string),
		detect:      platform.Detect,
		registry:    shutdown.Default(),
		logger:      slog.Default(),
	}

	bundle, err := fs.Sub(bundled, "bundled")
	if err == nil {
		r.bundle = bundle
	}

	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "executable")
	return r
}

// Override maps every architecture of osFamily to executable.
func (r *Resolver) Override(osFamily platform.OS, executable string) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, arch := range platform.Archs() {
		r.executables[platform.Key{OS: osFamily, Arch: arch}] = executable
	}
	return r
}

// OverrideArch maps a single platform to executable.
func (r *Resolver) OverrideArch(osFamily platform.OS, arch platform.Arch, executable string) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executables[platform.Key{OS: osFamily, Arch: arch}] = executable
	return r
}

// Lookup returns the raw mapping for key.
func (r *Resolver) Lookup(key platform.Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exe, ok := r.executables[key]
	return exe, ok
}

// Executables returns a copy of the mapping.
func (r *Resolver) Executables() map[platform.Key]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[platform.Key]string, len(r.executables))
	for k, v := range r.executables {
		out[k] = v
	}
	return out
}

// Resolve returns an absolute path to the executable for the current
// platform, extracting it from the bundle when it is not already on disk.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	key, err := r.detect(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exe, ok := r.executables[key]
	if !ok {
		return "", rediserr.ExecutableResolution(key.String(), "",
			errors.New("no executable mapped for platform"))
	}

	if isFile(exe) {
		abs, err := filepath.Abs(exe)
		if err != nil {
			return "", rediserr.ExecutableResolution(key.String(), exe, err)
		}
		return abs, nil
	}

	if cached, ok := r.extracted[exe]; ok && isFile(cached) {
		return cached, nil
	}

	extracted, err := r.extract(exe)
	if err != nil {
		return "", rediserr.ExecutableResolution(key.String(), exe, err)
	}
	r.extracted[exe] = extracted
	return extracted, nil
}

func (r *Resolver) extract(name string) (string, error) {
	if r.bundle == nil {
		return "", errors.New("no bundle configured")
	}

	artifact := path.Clean(filepath.ToSlash(name))
	data, err := fs.ReadFile(r.bundle, artifact)
	if err != nil {
		return "", fmt.Errorf("read bundled artifact: %w", err)
	}

	dir, err := os.MkdirTemp("", "embedded-redis-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	r.registry.Add("remove "+dir, func() error { return os.RemoveAll(dir) })

	target := filepath.Join(dir, path.Base(artifact))
	if err := os.WriteFile(target, data, 0o755); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	// WriteFile honors the umask
	if err := os.Chmod(target, 0o755); err != nil {
		return "", fmt.Errorf("chmod artifact: %w", err)
	}

	r.logger.Debug("extracted bundled executable", "artifact", artifact, "path", target)
	return target, nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
