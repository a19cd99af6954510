package modules

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/robbyt/go-aeval/internal/helpers"
)

// Option configures a Registry.
type Option func(*Registry) error

// WithStarlarkPath adds directories searched for `<name>.star` modules.
// Directories are searched in the order they were added.
func WithStarlarkPath(dirs ...string) Option {
	return func(r *Registry) error {
		for _, dir := range dirs {
			if dir == "" {
				return fmt.Errorf("%w: starlark path cannot be empty", ErrInvalidOption)
			}
		}
		r.starlarkPaths = append(r.starlarkPaths, dirs...)
		return nil
	}
}

// WithWasmPath adds directories searched for `<name>.wasm` Extism plugins.
func WithWasmPath(dirs ...string) Option {
	return func(r *Registry) error {
		for _, dir := range dirs {
			if dir == "" {
				return fmt.Errorf("%w: wasm path cannot be empty", ErrInvalidOption)
			}
		}
		r.wasmPaths = append(r.wasmPaths, dirs...)
		return nil
	}
}

// WithWASI enables or disables WASI for plugins loaded from disk.
func WithWASI(enabled bool) Option {
	return func(r *Registry) error {
		r.enableWASI = enabled
		return nil
	}
}

// WithLogHandler sets the log handler for the registry.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Registry) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		r.logHandler = handler
		r.logger = nil
		return nil
	}
}

// WithLogger sets a specific logger for the registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		r.logger = logger
		r.logHandler = nil
		return nil
	}
}

func (r *Registry) applyDefaults() {
	r.enableWASI = true
	r.compile = compileWasm
	r.logHandler = slog.NewTextHandler(os.Stderr, nil)
}

func (r *Registry) validate() error {
	if r.logHandler == nil && r.logger == nil {
		return fmt.Errorf("%w: either log handler or logger must be specified", ErrInvalidOption)
	}
	if r.compile == nil {
		return fmt.Errorf("%w: wasm compiler cannot be nil", ErrInvalidOption)
	}
	return nil
}

func (r *Registry) setupLogger() {
	if r.logger != nil {
		r.logHandler = r.logger.Handler()
		r.logger = r.logger.WithGroup("modules")
		return
	}
	r.logHandler, r.logger = helpers.SetupLogger(r.logHandler, "aeval", "modules")
}
