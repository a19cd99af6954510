package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), args, strings.NewReader(stdin), &stdout, &stderr, false)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Nil(t, cfg.Color)
	})

	t.Run("full file", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "aeval.yaml", `
log_level: debug
cache_size: 8
starlark_path:
  - ./lib
color: false
globals:
  limit: 10
  tags: [a, b]
`)
		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 8, cfg.CacheSize)
		assert.Equal(t, []string{"./lib"}, cfg.StarlarkPath)
		require.NotNil(t, cfg.Color)
		assert.False(t, *cfg.Color)
		assert.Contains(t, cfg.Globals, "limit")
		assert.Contains(t, cfg.Globals, "tags")
	})

	errorCases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad level", content: "log_level: loud", want: "invalid log_level"},
		{name: "negative cache", content: "cache_size: -1", want: "cache_size"},
		{name: "not yaml", content: "log_level: [", want: "failed to parse config"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadConfig(writeFile(t, "aeval.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}

func TestRunExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
	}{
		{name: "value", args: []string{"-e", "1 + 1"}, code: 0, stdout: "2\n"},
		{name: "assignment", args: []string{"-e", "x = 5"}, code: 0, stdout: "5\n"},
		{name: "string", args: []string{"-e", "'hi'"}, code: 0, stdout: "\"hi\"\n"},
		{name: "empty result prints nothing", args: []string{"-e", "pass"}, code: 0, stdout: ""},
		{name: "json", args: []string{"-json", "-e", "{'a': [1, 2]}"}, code: 0, stdout: "{\"a\":[1,2]}\n"},
		{name: "none is hidden", args: []string{"-e", "None"}, code: 0, stdout: ""},
		{name: "none in json", args: []string{"-json", "-e", "None"}, code: 0, stdout: "null\n"},
		{name: "print goes to stdout", args: []string{"-e", "print('out')"}, code: 0, stdout: "out\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := runCLI(t, "", tt.args...)
			assert.Equal(t, tt.code, res.code, res.stderr)
			assert.Equal(t, tt.stdout, res.stdout)
		})
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	t.Run("runtime error renders a trace", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", "-e", "x = 1\nx // 0")
		assert.Equal(t, 1, res.code)
		assert.Empty(t, res.stdout)
		assert.Contains(t, res.stderr, "Traceback (most recent call last):")
		assert.Contains(t, res.stderr, `File "<code>", line 2, in <module>`)
		assert.Contains(t, res.stderr, "ZeroDivisionError")
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", "-e", "x = = 1")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "SyntaxError")
	})

	t.Run("bad flag", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", "-nope")
		assert.Equal(t, 2, res.code)
		assert.Contains(t, res.stderr, "usage: aeval")
	})

	t.Run("too many files", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", "a.py", "b.py")
		assert.Equal(t, 2, res.code)
	})

	t.Run("bad config", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", "-config", writeFile(t, "aeval.yaml", "cache_size: -3"), "-e", "1")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "cache_size")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "", filepath.Join(t.TempDir(), "missing.py"))
		assert.Equal(t, 1, res.code)
		assert.NotEmpty(t, res.stderr)
	})
}

func TestRunFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stdin string
		arg   func(t *testing.T) string
	}{
		{
			name: "no extension",
			arg:  func(t *testing.T) string { return writeFile(t, "snippet", "x = 3\nx * 2") },
		},
		{
			name: "spaces in the path",
			arg:  func(t *testing.T) string { return writeFile(t, "my snippet.py", "x = 3\nx * 2") },
		},
		{
			name: "file uri",
			arg:  func(t *testing.T) string { return "file://" + writeFile(t, "s.star", "x = 3\nx * 2") },
		},
		{
			name:  "stdin",
			stdin: "x = 3\nx * 2\n",
			arg:   func(*testing.T) string { return "-" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := runCLI(t, tt.stdin, tt.arg(t))
			assert.Equal(t, 0, res.code, res.stderr)
			assert.Equal(t, "6\n", res.stdout)
		})
	}

	t.Run("empty stdin", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, " \n", "-")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "script not available")
	})
}

func TestRunWithConfig(t *testing.T) {
	t.Parallel()

	lib := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(lib, "shapes.star"),
		[]byte("def area(w, h):\n    return w * h\n"),
		0o600,
	))
	cfg := writeFile(t, "aeval.yaml", "globals:\n  limit: 10\nstarlark_path:\n  - "+lib+"\n")

	res := runCLI(t, "", "-config", cfg, "-e", "limit * 2")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "20\n", res.stdout)

	res = runCLI(t, "", "-config", cfg, "-e", "import shapes\nshapes.area(limit, 3)")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "30\n", res.stdout)
}

func TestREPL(t *testing.T) {
	t.Parallel()

	t.Run("session keeps variables", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "x = 5\nx + 1\n%vars\n%quit\nx\n")
		assert.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "5\n6\nx = 5\n", res.stdout)
	})

	t.Run("blocks end at a blank line", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "def f(n):\n    return n * 2\n\nf(21)\n")
		assert.Equal(t, 0, res.code, res.stderr)
		assert.True(t, strings.HasSuffix(res.stdout, "42\n"), res.stdout)
	})

	t.Run("open brackets continue", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "[1,\n 2]\n")
		assert.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "[1, 2]\n", res.stdout)
	})

	t.Run("errors do not end the session", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "1 // 0\n2\n%trace\n")
		assert.Equal(t, 0, res.code)
		assert.Contains(t, res.stdout, "2\n")
		assert.GreaterOrEqual(t, strings.Count(res.stderr, "Traceback"), 2, "the trace is shown again")
	})

	t.Run("reset clears variables", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "x = 1\n%reset\n%vars\n")
		assert.Equal(t, 0, res.code)
		assert.Equal(t, "1\nsession reset\n", res.stdout)
	})

	t.Run("unknown command", func(t *testing.T) {
		t.Parallel()
		res := runCLI(t, "%what\n")
		assert.Contains(t, res.stdout, "unknown command %what")
	})
}

func TestIncomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
		want  bool
	}{
		{name: "simple", lines: []string{"x = 1"}, want: false},
		{name: "block opened", lines: []string{"if x:"}, want: true},
		{name: "block opened with comment", lines: []string{"for i in r:  # loop"}, want: true},
		{name: "block body", lines: []string{"if x:", "    1"}, want: true},
		{name: "block ended", lines: []string{"if x:", "    1", ""}, want: false},
		{name: "open paren", lines: []string{"f(1,"}, want: true},
		{name: "bracket in string", lines: []string{"s = '('"}, want: false},
		{name: "backslash", lines: []string{`x = 1 + \`}, want: true},
		{name: "dict literal closed", lines: []string{"d = {", "  'a': 1,", "}"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, incomplete(tt.lines))
		})
	}
}
