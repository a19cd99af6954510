package aeval_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval"
	"github.com/robbyt/go-aeval/data"
	"github.com/robbyt/go-aeval/internal/interp"
	"github.com/robbyt/go-aeval/loader"
	"github.com/robbyt/go-aeval/modules"
)

func getLogHandler() slog.Handler {
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func newTestEvaluator(t *testing.T, opts ...aeval.Option) *aeval.Evaluator {
	t.Helper()
	ev, err := aeval.New(append([]aeval.Option{aeval.WithLogHandler(getLogHandler())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, ev.Close(context.Background()))
	})
	return ev
}

func evaluate(t *testing.T, ev *aeval.Evaluator, code string, opts ...aeval.EvalOption) starlark.Value {
	t.Helper()
	v, err := ev.Evaluate(t.Context(), code, opts...)
	require.NoError(t, err, "evaluating %q", code)
	return v
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		ev, err := aeval.New()
		require.NoError(t, err)
		assert.Contains(t, ev.String(), "aeval.Evaluator")
		assert.Empty(t, ev.Variables())
	})

	t.Run("with logger", func(t *testing.T) {
		ev, err := aeval.New(aeval.WithLogger(slog.Default()))
		require.NoError(t, err)
		require.NotNil(t, ev)
	})

	t.Run("invalid options", func(t *testing.T) {
		tests := []struct {
			name string
			opt  aeval.Option
		}{
			{name: "nil handler", opt: aeval.WithLogHandler(nil)},
			{name: "nil logger", opt: aeval.WithLogger(nil)},
			{name: "zero cache", opt: aeval.WithCacheSize(0)},
			{name: "nil modules", opt: aeval.WithModules(nil)},
			{name: "nil provider", opt: aeval.WithDataProvider(nil)},
			{name: "nil stdout", opt: aeval.WithStdout(nil)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := aeval.New(tt.opt)
				require.ErrorIs(t, err, aeval.ErrInvalidOption)
			})
		}
	})
}

func TestEvaluateValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		want string
	}{
		{name: "arithmetic", code: "1+1", want: "2"},
		{name: "assignment", code: "x = 5", want: "5"},
		{name: "multi-target assignment", code: "a = b = 7", want: "(7, 7)"},
		{name: "augmented assignment", code: "n = 1\nn += 2", want: "3"},
		{name: "loop variable", code: "for i in [1, 2, 3]:\n    pass", want: "3"},
		{name: "taken if branch", code: "if True:\n    'yes'", want: `"yes"`},
		{name: "taken else branch", code: "if 1 > 2:\n    'a'\nelse:\n    'b'", want: `"b"`},
		{name: "function call", code: "def f(x):\n    return x * 2\nf(21)", want: "42"},
		{name: "try body", code: "try:\n    1\nexcept ValueError:\n    2", want: "1"},
		{name: "except branch", code: "try:\n    1 // 0\nexcept ZeroDivisionError:\n    'caught'", want: `"caught"`},
		{name: "none is a value", code: "None", want: "None"},
		{name: "top level return", code: "return 'early'\n1", want: `"early"`},
		{name: "await", code: "await sleep(0, 'slept')", want: `"slept"`},
		{name: "stdlib import", code: "import json\njson.encode([1])", want: `"[1]"`},
		{name: "uniformly indented", code: "\tx = 1\n\tx + 1", want: "2"},
		{name: "is none", code: "x = None\nx is None", want: "True"},
		{name: "is not none", code: "x = 1\nx is not None", want: "True"},
		{name: "is compares equal values", code: "[] is []", want: "True"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := newTestEvaluator(t)
			v := evaluate(t, ev, tt.code)
			require.False(t, aeval.IsEmpty(v))
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestEvaluateEmpty(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"", "   ", "\n\t\n", "pass", "if False:\n    1", "def f():\n    return 1"} {
		ev := newTestEvaluator(t)
		v := evaluate(t, ev, code)
		assert.True(t, aeval.IsEmpty(v), "code %q", code)
		assert.Same(t, aeval.EmptyResult, v)
		assert.NotEqual(t, starlark.None, v)
	}
}

func TestSessionPersistence(t *testing.T) {
	t.Parallel()

	t.Run("variables persist", func(t *testing.T) {
		ev := newTestEvaluator(t)
		assert.Equal(t, "5", evaluate(t, ev, "x = 5").String())
		assert.Equal(t, "6", evaluate(t, ev, "x + 1").String())
		assert.Equal(t, "5", ev.Variables()["x"].String())
	})

	t.Run("isolated evaluations do not mutate the session", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "kept = 1")
		evaluate(t, ev, "hidden = 2", aeval.Isolated())

		_, err := ev.Evaluate(t.Context(), "hidden")
		require.Error(t, err)
		exc, ok := interp.AsException(err)
		require.True(t, ok)
		assert.True(t, exc.Is(interp.NameError))
		assert.Contains(t, ev.Variables(), "kept")
		assert.NotContains(t, ev.Variables(), "hidden")
	})

	t.Run("isolated evaluations do not see the session", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "x = 1")
		_, err := ev.Evaluate(t.Context(), "x", aeval.Isolated())
		require.Error(t, err)
	})

	t.Run("overrides win over the session", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "x = 1")
		v := evaluate(t, ev, "x * 10", aeval.WithGlobals(starlark.StringDict{"x": starlark.MakeInt(4)}))
		assert.Equal(t, "40", v.String())

		v = evaluate(t, ev, "x * 10")
		assert.Equal(t, "10", v.String(), "the override only applies to its evaluation")

		v = evaluate(t, ev, "y = x + 1\ny", aeval.WithGlobals(starlark.StringDict{"x": starlark.MakeInt(4)}))
		assert.Equal(t, "5", v.String())
		assert.Equal(t, "5", ev.Variables()["y"].String())
	})

	t.Run("host data stays beneath top level assignments", func(t *testing.T) {
		ev := newTestEvaluator(t, aeval.WithDataProvider(data.NewStaticProvider(map[string]any{"limit": 10})))
		assert.Equal(t, "10", evaluate(t, ev, "limit").String())
		evaluate(t, ev, "limit = 3")
		assert.Equal(t, "3", evaluate(t, ev, "limit").String())
	})

	t.Run("locals shadow globals", func(t *testing.T) {
		ev := newTestEvaluator(t)
		v := evaluate(t, ev, "v",
			aeval.WithGlobals(starlark.StringDict{"v": starlark.String("global")}),
			aeval.WithLocals(starlark.StringDict{"v": starlark.String("local")}),
		)
		assert.Equal(t, `"local"`, v.String())
		assert.Equal(t, `"local"`, ev.Variables()["v"].String())
		assert.Equal(t, `"global"`, ev.Globals()["v"].String())
		assert.Equal(t, `"local"`, ev.Locals()["v"].String())
	})

	t.Run("failed evaluations do not commit", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "x = 1")
		_, err := ev.Evaluate(t.Context(), "x = 2\ny = 3\n1 // 0")
		require.Error(t, err)
		assert.Equal(t, "1", ev.Variables()["x"].String())
		assert.NotContains(t, ev.Variables(), "y")
	})

	t.Run("reset", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "x = 1")
		ev.Reset()
		assert.Empty(t, ev.Variables())
		assert.Nil(t, ev.Latest())
	})

	t.Run("latest execution", func(t *testing.T) {
		ev := newTestEvaluator(t)
		evaluate(t, ev, "1")
		evaluate(t, ev, "'two'")
		latest := ev.Latest()
		require.NotNil(t, latest)
		assert.Equal(t, 2, latest.No)
		assert.Equal(t, "'two'", latest.Code)
		assert.Equal(t, `"two"`, latest.Result.String())
	})
}

func TestEmptyResultCannotBeBound(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t)
	assert.Panics(t, func() {
		_, _ = ev.Evaluate(t.Context(), "x", aeval.WithGlobals(starlark.StringDict{"x": aeval.EmptyResult}))
	})
	assert.Panics(t, func() {
		_, _ = aeval.New(aeval.WithBuiltins(starlark.StringDict{"x": aeval.EmptyResult}))
	})
}

func TestRenderTrace(t *testing.T) {
	t.Parallel()

	t.Run("runtime error", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "x = 1\ny = x // 0")
		require.Error(t, err)

		var exc *aeval.Exception
		require.ErrorAs(t, err, &exc)
		assert.True(t, exc.Is(interp.ZeroDivisionError))

		out := ev.RenderTrace(err)
		lines := strings.Split(out, "\n")
		assert.Equal(t, "Traceback (most recent call last):", lines[0])
		assert.Contains(t, out, `  File "<code>", line 2, in <module>`)
		assert.Contains(t, out, "    y = x // 0")
		assert.True(t, strings.HasPrefix(lines[len(lines)-1], "ZeroDivisionError: "))
		for _, internal := range []string{"amain", "Evaluate", "Execute", "Compile", "<aeval", "exit"} {
			assert.NotContains(t, out, internal)
		}
	})

	t.Run("original lines are shown", func(t *testing.T) {
		ev := newTestEvaluator(t)
		code := "items = [1, 2]\nitems[5]"
		_, err := ev.Evaluate(t.Context(), code)
		require.Error(t, err)
		out := ev.RenderTrace(err)
		assert.Contains(t, out, "    items[5]\n")
		assert.Contains(t, out, `line 2, in <module>`)
	})

	t.Run("undefined name is underlined alone", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "x = 1\ny = x + missing * 2")
		require.Error(t, err)
		out := ev.RenderTrace(err)
		assert.Contains(t, out, "    y = x + missing * 2\n            ^^^^^^^\n")
		assert.Contains(t, out, "NameError: name 'missing' is not defined")
	})

	t.Run("indented snippet keeps its columns", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "  x = 1\n  y = missing")
		require.Error(t, err)
		out := ev.RenderTrace(err)
		assert.Contains(t, out, `line 2, in <module>`)
		assert.Contains(t, out, "    y = missing\n        ^^^^^^^\n")
	})

	t.Run("nested function", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "def f(x):\n    return x // 0\nf(1)")
		require.Error(t, err)
		out := ev.RenderTrace(err)
		assert.Contains(t, out, `  File "<code>", line 3, in <module>`)
		assert.Contains(t, out, `  File "<code>", line 2, in f`)
		assert.Less(t, strings.Index(out, "line 3"), strings.Index(out, "line 2"))
	})

	t.Run("syntax error", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "x = 1\nbreak")
		require.Error(t, err)
		want := strings.Join([]string{
			"Traceback (most recent call last):",
			`  File "<code>", line 2`,
			"    break",
			"    ^",
			"SyntaxError: 'break' outside loop",
		}, "\n")
		assert.Equal(t, want, ev.RenderTrace(err))
	})

	t.Run("syntax error has one frame fewer", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, runtimeErr := ev.Evaluate(t.Context(), "x = 1\nundefined_name")
		require.Error(t, runtimeErr)
		runtimeFrames := strings.Count(ev.RenderTrace(runtimeErr), ", in ")

		_, syntaxErr := ev.Evaluate(t.Context(), "x = 1\nbreak")
		require.Error(t, syntaxErr)
		syntaxFrames := strings.Count(ev.RenderTrace(syntaxErr), ", in ")

		assert.Equal(t, runtimeFrames-1, syntaxFrames)
	})

	t.Run("older executions stay renderable", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "1 // 0")
		require.Error(t, err)
		evaluate(t, ev, "2")
		assert.Contains(t, ev.RenderTrace(err), "    1 // 0")
	})

	t.Run("evicted executions are skipped", func(t *testing.T) {
		ev := newTestEvaluator(t, aeval.WithCacheSize(1))
		_, err := ev.Evaluate(t.Context(), "1 // 0")
		require.Error(t, err)
		evaluate(t, ev, "2")

		out := ev.RenderTrace(err)
		assert.NotContains(t, out, "File")
		assert.True(t, strings.HasPrefix(out, "Traceback (most recent call last):\nZeroDivisionError"))
	})

	t.Run("raised exceptions", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.Evaluate(t.Context(), "raise ValueError('bad value')")
		require.Error(t, err)
		assert.True(t, strings.HasSuffix(ev.RenderTrace(err), "ValueError: bad value"))
	})

	t.Run("plain errors", func(t *testing.T) {
		ev := newTestEvaluator(t)
		assert.Equal(t, "boom", ev.RenderTrace(errors.New("boom")))
		assert.Empty(t, ev.RenderTrace(nil))
	})
}

func TestEvaluateOutputAndBuiltins(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ev := newTestEvaluator(t,
		aeval.WithStdout(&buf),
		aeval.WithBuiltins(starlark.StringDict{"answer": starlark.MakeInt(42)}),
	)
	evaluate(t, ev, "print('answer is', answer)")
	assert.Equal(t, "answer is 42\n", buf.String())
}

func TestEvaluateCancellation(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := ev.Evaluate(ctx, "await sleep(5)\n1")
	require.Error(t, err)
	exc, ok := interp.AsException(err)
	require.True(t, ok)
	assert.True(t, exc.Is(interp.TimeoutError))
}

func TestEvaluateWithModules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shapes.star"), []byte(
		"def area(w, h):\n    return w * h\n",
	), 0o600))

	registry, err := modules.NewRegistry(
		modules.WithLogHandler(getLogHandler()),
		modules.WithStarlarkPath(dir),
	)
	require.NoError(t, err)
	require.NoError(t, registry.Register("config", starlark.String("prod")))

	ev := newTestEvaluator(t, aeval.WithModules(registry))
	assert.Equal(t, "12", evaluate(t, ev, "import shapes\nshapes.area(3, 4)").String())
	assert.Equal(t, "20", evaluate(t, ev, "from shapes import area\narea(4, 5)").String())
	assert.Equal(t, `"prod"`, evaluate(t, ev, "import config\nconfig").String())

	_, err = ev.Evaluate(t.Context(), "import nowhere")
	require.ErrorIs(t, err, modules.ErrModuleNotFound)
	assert.Contains(t, ev.RenderTrace(err), "ModuleNotFoundError: No module named 'nowhere'")
	require.NoError(t, registry.Close(t.Context()))
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetData(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	d, _ := args.Get(0).(map[string]any)
	return d, args.Error(1)
}

func (m *mockProvider) AddDataToContext(ctx context.Context, d ...map[string]any) (context.Context, error) {
	args := m.Called(ctx, d)
	newCtx, _ := args.Get(0).(context.Context)
	return newCtx, args.Error(1)
}

func TestEvaluateWithDataProvider(t *testing.T) {
	t.Parallel()

	t.Run("static data", func(t *testing.T) {
		provider := data.NewStaticProvider(map[string]any{"limit": 10, "name": "svc"})
		ev := newTestEvaluator(t, aeval.WithDataProvider(provider))
		assert.Equal(t, "20", evaluate(t, ev, "limit * 2").String())

		v := evaluate(t, ev, "limit", aeval.WithGlobals(starlark.StringDict{"limit": starlark.MakeInt(1)}))
		assert.Equal(t, "1", v.String(), "overrides win over host data")

		_, err := ev.PrepareContext(t.Context(), map[string]any{"x": 1})
		require.ErrorIs(t, err, data.ErrStaticProviderNoRuntimeUpdates)
	})

	t.Run("per request data", func(t *testing.T) {
		ev := newTestEvaluator(t, aeval.WithDataProvider(data.NewContextProvider(data.EvalData)))

		ctx, err := ev.PrepareContext(t.Context(), map[string]any{"user": map[string]any{"name": "ada"}})
		require.NoError(t, err)
		v, err := ev.Evaluate(ctx, "user['name']", aeval.Isolated())
		require.NoError(t, err)
		assert.Equal(t, `"ada"`, v.String())
	})

	t.Run("provider failure", func(t *testing.T) {
		provider := new(mockProvider)
		provider.On("GetData", mock.Anything).Return(nil, assert.AnError)
		ev := newTestEvaluator(t, aeval.WithDataProvider(provider))

		_, err := ev.Evaluate(t.Context(), "1")
		require.ErrorIs(t, err, assert.AnError)
		provider.AssertExpectations(t)
	})

	t.Run("no provider", func(t *testing.T) {
		ev := newTestEvaluator(t)
		_, err := ev.PrepareContext(t.Context())
		require.ErrorIs(t, err, aeval.ErrNoDataProvider)
	})
}

func TestEvaluateFrom(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t)
	var l loader.Loader
	l, err := loader.NewFromString("y = 6\ny * 7")
	require.NoError(t, err)
	v, err := ev.EvaluateFrom(t.Context(), l)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	path := filepath.Join(t.TempDir(), "snippet.py")
	require.NoError(t, os.WriteFile(path, []byte("y + 1\n"), 0o600))
	l, err = loader.NewFromDisk(path)
	require.NoError(t, err)
	v, err = ev.EvaluateFrom(t.Context(), l)
	require.NoError(t, err)
	assert.Equal(t, "7", v.String())

	_, err = ev.EvaluateFrom(t.Context(), nil)
	require.ErrorIs(t, err, loader.ErrScriptNotAvailable)
}

func TestEval(t *testing.T) {
	t.Parallel()

	v, err := aeval.Eval(t.Context(), "a + b",
		starlark.StringDict{"a": starlark.MakeInt(1)},
		starlark.StringDict{"b": starlark.MakeInt(2)},
	)
	require.NoError(t, err)
	assert.Equal(t, "3", v.String())

	v, err = aeval.Eval(t.Context(), " ", nil, nil)
	require.NoError(t, err)
	assert.True(t, aeval.IsEmpty(v))
}

func TestToGo(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t)
	v := evaluate(t, ev, "{'name': 'ada', 'tags': ['a'], 'n': 3, 'none': None}")
	got, err := aeval.ToGo(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name": "ada",
		"tags": []any{"a"},
		"n":    int64(3),
		"none": nil,
	}, got)

	got, err = aeval.ToGo(aeval.EmptyResult)
	require.NoError(t, err)
	assert.Nil(t, got)
}
