package helpers

import (
	"log/slog"
	"os"
)

// SetupLogger returns the handler and logger an aeval component logs with.
// A nil handler is replaced with a text handler on stderr grouped under
// component, and a warning is logged once through it.
//
// Parameters:
//   - handler: The slog.Handler to use, or nil for defaults
//   - component: The component name (e.g., "engine", "session")
//   - groupName: Optional additional group name within the component
func SetupLogger(handler slog.Handler, component string, groupName string) (slog.Handler, *slog.Logger) {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, nil).WithGroup(component)
		slog.New(handler).Warn("Handler is nil, using the default logger configuration.")
	}

	if groupName != "" {
		return handler, slog.New(handler.WithGroup(groupName))
	}
	return handler, slog.New(handler)
}
