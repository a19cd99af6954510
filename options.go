package aeval

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/data"
	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/modules"
	"github.com/robbyt/go-aeval/session"
)

// Option configures an Evaluator.
type Option func(*Evaluator) error

// WithLogHandler sets the log handler for the evaluator and everything it
// creates.
func WithLogHandler(handler slog.Handler) Option {
	return func(ev *Evaluator) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		ev.logHandler = handler
		ev.logger = nil
		return nil
	}
}

// WithLogger sets a specific logger for the evaluator.
func WithLogger(logger *slog.Logger) Option {
	return func(ev *Evaluator) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		ev.logger = logger
		ev.logHandler = nil
		return nil
	}
}

// WithCacheSize sets how many execution contexts the session keeps for
// failure reporting.
func WithCacheSize(size int) Option {
	return func(ev *Evaluator) error {
		if size < 1 {
			return fmt.Errorf("%w: cache size must be at least 1, got %d", ErrInvalidOption, size)
		}
		ev.cacheSize = size
		return nil
	}
}

// WithBuiltins adds host values visible to every snippet.
func WithBuiltins(builtins starlark.StringDict) Option {
	return func(ev *Evaluator) error {
		mustNotBindEmpty(builtins)
		if ev.builtins == nil {
			ev.builtins = make(starlark.StringDict, len(builtins))
		}
		maps.Copy(ev.builtins, builtins)
		return nil
	}
}

// WithModules sets the registry resolving import statements. Without one
// only the standard modules can be imported.
func WithModules(registry *modules.Registry) Option {
	return func(ev *Evaluator) error {
		if registry == nil {
			return fmt.Errorf("%w: module registry cannot be nil", ErrInvalidOption)
		}
		ev.modules = registry
		return nil
	}
}

// WithDataProvider sets where host variables come from. They are visible
// as globals beneath the globals passed to Evaluate.
func WithDataProvider(provider data.Provider) Option {
	return func(ev *Evaluator) error {
		if provider == nil {
			return fmt.Errorf("%w: data provider cannot be nil", ErrInvalidOption)
		}
		ev.provider = provider
		return nil
	}
}

// WithStdout sets where snippets print to.
func WithStdout(w io.Writer) Option {
	return func(ev *Evaluator) error {
		if w == nil {
			return fmt.Errorf("%w: stdout writer cannot be nil", ErrInvalidOption)
		}
		ev.stdout = w
		return nil
	}
}

func (ev *Evaluator) applyDefaults() {
	ev.cacheSize = session.DefaultCacheSize
	ev.stdout = os.Stdout
	ev.logHandler = slog.NewTextHandler(os.Stderr, nil)
}

func (ev *Evaluator) validate() error {
	if ev.logHandler == nil && ev.logger == nil {
		return fmt.Errorf("%w: either log handler or logger must be specified", ErrInvalidOption)
	}
	return nil
}

func (ev *Evaluator) setupLogger() {
	if ev.logger != nil {
		ev.logHandler = ev.logger.Handler()
		ev.logger = ev.logger.WithGroup("aeval")
		return
	}
	ev.logHandler, ev.logger = helpers.SetupLogger(ev.logHandler, "aeval", "")
}

// EvalOption configures one evaluation.
type EvalOption func(*evalConfig)

type evalConfig struct {
	globals  starlark.StringDict
	locals   starlark.StringDict
	isolated bool
}

// WithGlobals sets global overrides for one evaluation.
func WithGlobals(globals starlark.StringDict) EvalOption {
	return func(c *evalConfig) {
		c.globals = globals
	}
}

// WithLocals sets local overrides for one evaluation. Each local becomes a
// parameter of the compiled snippet.
func WithLocals(locals starlark.StringDict) EvalOption {
	return func(c *evalConfig) {
		c.locals = locals
	}
}

// Isolated runs the evaluation against the overrides only and discards the
// resulting scope.
func Isolated() EvalOption {
	return func(c *evalConfig) {
		c.isolated = true
	}
}
