package session

import (
	"fmt"
	"log/slog"
	"os"
)

// DefaultCacheSize is how many execution contexts a session keeps for
// failure reporting unless configured otherwise.
const DefaultCacheSize = 256

// Option configures a Session.
type Option func(*Session) error

// WithCacheSize bounds the number of cached execution contexts. The least
// recently used context is evicted first; the latest one is always kept.
func WithCacheSize(size int) Option {
	return func(s *Session) error {
		if size < 1 {
			return fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidOption, size)
		}
		s.cacheSize = size
		return nil
	}
}

// WithLogHandler sets the log handler for the session.
func WithLogHandler(handler slog.Handler) Option {
	return func(s *Session) error {
		if handler == nil {
			return fmt.Errorf("%w: log handler cannot be nil", ErrInvalidOption)
		}
		s.logHandler = handler
		s.logger = nil
		return nil
	}
}

// WithLogger sets a specific logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidOption)
		}
		s.logger = logger
		s.logHandler = nil
		return nil
	}
}

func (s *Session) applyDefaults() {
	s.cacheSize = DefaultCacheSize
	s.logHandler = slog.NewTextHandler(os.Stderr, nil)
}

func (s *Session) validate() error {
	if s.cacheSize < 1 {
		return fmt.Errorf("%w: cache size must be positive", ErrInvalidOption)
	}
	if s.logHandler == nil && s.logger == nil {
		return fmt.Errorf("%w: either log handler or logger must be specified", ErrInvalidOption)
	}
	return nil
}
