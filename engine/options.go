package engine

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/internal/interp"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithLogHandler sets the log handler for the engine. It takes precedence
// over a logger set earlier.
func WithLogHandler(handler slog.Handler) Option {
	return func(e *Engine) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		e.logHandler = handler
		e.logger = nil
		return nil
	}
}

// WithLogger sets a specific logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		e.logger = logger
		e.logHandler = nil
		return nil
	}
}

// WithBuiltins adds host values visible to every snippet. They shadow the
// engine's own builtins with the same name.
func WithBuiltins(builtins starlark.StringDict) Option {
	return func(e *Engine) error {
		maps.Copy(e.builtins, builtins)
		return nil
	}
}

// WithImporter sets the resolver for import statements. Without one every
// import fails with ModuleNotFoundError.
func WithImporter(importer interp.Importer) Option {
	return func(e *Engine) error {
		if importer == nil {
			return fmt.Errorf("%w: importer cannot be nil", ErrInvalidOption)
		}
		e.importer = importer
		return nil
	}
}

// WithStdout sets where print output goes.
func WithStdout(w io.Writer) Option {
	return func(e *Engine) error {
		if w == nil {
			return fmt.Errorf("%w: stdout writer cannot be nil", ErrInvalidOption)
		}
		e.stdout = w
		return nil
	}
}

func (e *Engine) applyDefaults() {
	e.builtins = interp.Builtins()
	e.stdout = os.Stdout
	e.logHandler = slog.NewTextHandler(os.Stderr, nil)
}

func (e *Engine) validate() error {
	if e.logHandler == nil && e.logger == nil {
		return fmt.Errorf("%w: either log handler or logger must be specified", ErrInvalidOption)
	}
	return nil
}

func (e *Engine) setupLogger() {
	if e.logger != nil {
		e.logHandler = e.logger.Handler()
		e.logger = e.logger.WithGroup("engine")
		return
	}
	e.logHandler, e.logger = helpers.SetupLogger(e.logHandler, "aeval", "engine")
}
