package traceback

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/robbyt/go-aeval/internal/interp"
)

// Option configures a Renderer.
type Option func(*Renderer) error

// WithHiddenFrames adds frames that never appear on rendered traces.
func WithHiddenFrames(keys ...interp.FrameKey) Option {
	return func(r *Renderer) error {
		for _, k := range keys {
			if k.File == "" || k.Name == "" {
				return fmt.Errorf("%w: hidden frame needs a file and a name", ErrInvalidOption)
			}
			r.hidden[k] = struct{}{}
		}
		return nil
	}
}

// WithPlaceholder sets the file name shown for frames of cached
// executions. It defaults to "<code>".
func WithPlaceholder(name string) Option {
	return func(r *Renderer) error {
		if name == "" {
			return fmt.Errorf("%w: placeholder cannot be empty", ErrInvalidOption)
		}
		r.placeholder = name
		return nil
	}
}

// WithLogHandler sets the log handler for the renderer.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Renderer) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		r.logHandler = handler
		r.logger = nil
		return nil
	}
}

// WithLogger sets a specific logger for the renderer.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		r.logger = logger
		r.logHandler = nil
		return nil
	}
}

func (r *Renderer) applyDefaults() {
	r.hidden = make(map[interp.FrameKey]struct{})
	r.placeholder = DefaultPlaceholder
	r.logHandler = slog.NewTextHandler(os.Stderr, nil)
}

func (r *Renderer) validate() error {
	if r.contexts == nil {
		return fmt.Errorf("%w: contexts cannot be nil", ErrInvalidOption)
	}
	if r.logHandler == nil && r.logger == nil {
		return fmt.Errorf("%w: either log handler or logger must be specified", ErrInvalidOption)
	}
	return nil
}
