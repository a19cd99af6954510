// Package loader reads snippet source from strings, byte slices, readers
// and files.
package loader

import (
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Loader provides the source of a snippet.
type Loader interface {
	GetReader() (io.ReadCloser, error)
	GetSourceURL() *url.URL
}

// ReadAll returns the whole source of l.
func ReadAll(l Loader) (string, error) {
	if l == nil {
		return "", fmt.Errorf("%w: loader is nil", ErrScriptNotAvailable)
	}
	r, err := l.GetReader()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrScriptNotAvailable, err)
	}
	defer func() { _ = r.Close() }()

	var sb strings.Builder
	if _, err := io.Copy(&sb, r); err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return sb.String(), nil
}
