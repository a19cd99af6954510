package helpers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FindFile looks for filename in each of dirs in order and returns the
// absolute path of the first match. The error lists every checked path.
func FindFile(logger *slog.Logger, dirs []string, filename string) (string, error) {
	checked := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		path := filepath.Join(dir, filename)
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		info, err := os.Stat(absPath)
		if err == nil && !info.IsDir() {
			if logger != nil {
				logger.Debug("Found file", "path", absPath)
			}
			return absPath, nil
		}
		checked = append(checked, absPath)
	}
	return "", fmt.Errorf("%w: %s (checked: %s)", os.ErrNotExist, filename, strings.Join(checked, ", "))
}
