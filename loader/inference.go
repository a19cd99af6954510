package loader

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// InferLoader picks a loader for input:
//   - string: a file:// URI, an absolute or dot-relative path (spaces
//     allowed), or a name ending in .py or .star loads from disk; anything
//     else, including any multi-line string, is inline source;
//   - []byte: FromString, when it is UTF-8 text;
//   - io.Reader: FromIoReader;
//   - Loader: returned as is.
func InferLoader(input any) (Loader, error) {
	switch v := input.(type) {
	case Loader:
		return v, nil
	case string:
		return inferFromString(v)
	case []byte:
		if !utf8.Valid(v) {
			return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrScriptNotAvailable)
		}
		return NewFromString(string(v))
	case io.Reader:
		return NewFromIoReader(v, "inferred")
	default:
		return nil, fmt.Errorf("unsupported input type: %T", input)
	}
}

func inferFromString(input string) (Loader, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string input", ErrScriptNotAvailable)
	}

	if strings.Contains(trimmed, "\n") {
		return NewFromString(input)
	}
	if !strings.Contains(trimmed, " ") {
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Scheme != "" {
			switch parsed.Scheme {
			case "file":
				return diskLoader(parsed.Path)
			case "http", "https":
				return nil, fmt.Errorf("%w: %s", ErrSchemeUnsupported, parsed.Scheme)
			}
		}
	}
	if looksLikePath(trimmed) {
		return diskLoader(trimmed)
	}
	return NewFromString(input)
}

// looksLikePath reports whether s names a file. Names with spaces only
// count when they start like a path.
func looksLikePath(s string) bool {
	for _, ext := range []string{".py", ".star"} {
		if strings.HasSuffix(s, ext) && !strings.Contains(s, " ") {
			return true
		}
	}
	for _, prefix := range []string{"/", "./", "../"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func diskLoader(path string) (Loader, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve relative path %q: %w", path, err)
		}
		path = abs
	}
	return NewFromDisk(path)
}
