package session

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	handler := slog.NewTextHandler(os.Stdout, nil)
	s, err := New(append([]Option{WithLogHandler(handler)}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		assert.Equal(t, DefaultCacheSize, s.cacheSize)
		assert.Empty(t, s.Variables())
		assert.Nil(t, s.Latest())
		assert.Contains(t, s.String(), "Executions: 0")
	})

	t.Run("with logger", func(t *testing.T) {
		s, err := New(WithLogger(slog.New(slog.NewTextHandler(os.Stdout, nil))))
		require.NoError(t, err)
		require.NotNil(t, s.logger)
	})

	t.Run("invalid options", func(t *testing.T) {
		tests := []struct {
			name string
			opt  Option
		}{
			{name: "zero cache", opt: WithCacheSize(0)},
			{name: "negative cache", opt: WithCacheSize(-1)},
			{name: "nil handler", opt: WithLogHandler(nil)},
			{name: "nil logger", opt: WithLogger(nil)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := New(tt.opt)
				require.ErrorIs(t, err, ErrInvalidOption)
			})
		}
	})
}

func TestFilename(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	name := Filename(7, id)
	assert.True(t, strings.HasPrefix(name, "<aeval 7 "))

	no, got, ok := ParseFilename(name)
	require.True(t, ok)
	assert.Equal(t, 7, no)
	assert.Equal(t, id, got)

	for _, bad := range []string{
		"<code>",
		"<aeval 7>",
		"<aeval x " + id.String() + ">",
		"prefix" + name,
		"",
	} {
		_, _, ok := ParseFilename(bad)
		assert.False(t, ok, bad)
	}
}

func TestBegin(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	first := s.Begin("1 + 1", false)
	second := s.Begin("x = 2", true)

	assert.Equal(t, 1, first.No)
	assert.Equal(t, 2, second.No)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, Filename(2, second.ID), second.Filename)
	assert.True(t, second.Isolated)
	assert.Same(t, second, s.Latest())
	assert.Equal(t, second.Filename, s.LatestFile())
	assert.Equal(t, 2, s.Len())

	got, ok := s.Lookup(first.ID)
	require.True(t, ok)
	assert.Same(t, first, got)

	code, ok := s.Source(first.Filename)
	require.True(t, ok)
	assert.Equal(t, "1 + 1", code)

	_, ok = s.Source("<aeval 9 " + first.ID.String() + ">")
	assert.False(t, ok, "number must match the id")
	_, ok = s.LookupFile("<code>")
	assert.False(t, ok)
}

func TestEviction(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, WithCacheSize(2))
	first := s.Begin("a", false)
	s.Begin("b", false)
	third := s.Begin("c", false)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Lookup(first.ID)
	assert.False(t, ok)
	_, ok = s.Source(first.Filename)
	assert.False(t, ok)

	got, ok := s.Lookup(third.ID)
	require.True(t, ok)
	assert.Same(t, third, got)
}

func TestScopeAndCommit(t *testing.T) {
	t.Parallel()

	t.Run("overrides win", func(t *testing.T) {
		s := newTestSession(t)
		ec := s.Begin("x = 1", false)
		ec.Globals = starlark.StringDict{"g": starlark.MakeInt(1)}
		ec.Locals = starlark.StringDict{"x": starlark.MakeInt(1)}
		require.True(t, s.Commit(ec))

		g, l := s.Scope(
			nil,
			starlark.StringDict{"g": starlark.MakeInt(10)},
			starlark.StringDict{"y": starlark.MakeInt(2)},
		)
		assert.Equal(t, "10", g["g"].String())
		assert.Equal(t, "1", l["x"].String())
		assert.Equal(t, "2", l["y"].String())

		g["h"] = starlark.None
		assert.NotContains(t, s.Globals(), "h", "scope must be a copy")
	})

	t.Run("global override hides a persisted local", func(t *testing.T) {
		s := newTestSession(t)
		ec := s.Begin("x = 1", false)
		ec.Locals = starlark.StringDict{"x": starlark.MakeInt(1), "y": starlark.MakeInt(2)}
		require.True(t, s.Commit(ec))

		g, l := s.Scope(nil, starlark.StringDict{"x": starlark.MakeInt(4)}, nil)
		assert.Equal(t, "4", g["x"].String())
		assert.NotContains(t, l, "x")
		assert.Equal(t, "2", l["y"].String())
		assert.Equal(t, "1", s.Locals()["x"].String(), "the persisted local is kept")

		g, l = s.Scope(nil,
			starlark.StringDict{"x": starlark.MakeInt(4)},
			starlark.StringDict{"x": starlark.MakeInt(7)},
		)
		assert.Equal(t, "4", g["x"].String())
		assert.Equal(t, "7", l["x"].String(), "local overrides win")
	})

	t.Run("host data sits beneath persisted locals", func(t *testing.T) {
		s := newTestSession(t)
		ec := s.Begin("limit = 5", false)
		ec.Globals = starlark.StringDict{"env": starlark.String("old")}
		ec.Locals = starlark.StringDict{"limit": starlark.MakeInt(5)}
		require.True(t, s.Commit(ec))

		host := starlark.StringDict{
			"env":   starlark.String("new"),
			"limit": starlark.MakeInt(10),
		}
		g, l := s.Scope(host, nil, nil)
		assert.Equal(t, `"new"`, g["env"].String(), "host data refreshes globals")
		assert.Equal(t, "5", l["limit"].String())
	})

	t.Run("commit merges", func(t *testing.T) {
		s := newTestSession(t)
		ec := s.Begin("", false)
		ec.Locals = starlark.StringDict{"a": starlark.MakeInt(1)}
		require.True(t, s.Commit(ec))

		ec = s.Begin("", false)
		ec.Locals = starlark.StringDict{"b": starlark.MakeInt(2)}
		require.True(t, s.Commit(ec))

		vars := s.Variables()
		assert.Len(t, vars, 2)
		assert.Contains(t, vars, "a")
		assert.Contains(t, vars, "b")
	})

	t.Run("locals shadow globals", func(t *testing.T) {
		s := newTestSession(t)
		ec := s.Begin("", false)
		ec.Globals = starlark.StringDict{"v": starlark.String("global")}
		ec.Locals = starlark.StringDict{"v": starlark.String("local")}
		require.True(t, s.Commit(ec))
		assert.Equal(t, `"local"`, s.Variables()["v"].String())
		assert.Equal(t, `"global"`, s.Globals()["v"].String())
	})

	t.Run("isolated and failed executions are not committed", func(t *testing.T) {
		s := newTestSession(t)

		isolated := s.Begin("x = 1", true)
		isolated.Locals = starlark.StringDict{"x": starlark.MakeInt(1)}
		assert.False(t, s.Commit(isolated))

		failed := s.Begin("y = 1\n1 // 0", false)
		failed.Locals = starlark.StringDict{"y": starlark.MakeInt(1)}
		failed.Err = errors.New("boom")
		assert.False(t, s.Commit(failed))

		assert.False(t, s.Commit(nil))
		assert.Empty(t, s.Variables())
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	ec := s.Begin("x = 1", false)
	ec.Locals = starlark.StringDict{"x": starlark.MakeInt(1)}
	s.Commit(ec)

	s.Reset()
	assert.Empty(t, s.Variables())
	assert.Nil(t, s.Latest())
	assert.Equal(t, 0, s.Len())
	_, ok := s.Lookup(ec.ID)
	assert.False(t, ok)

	next := s.Begin("", false)
	assert.Equal(t, 2, next.No)
}
