package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	simpleData = map[string]any{
		"string": "value",
		"int":    42,
		"bool":   true,
	}

	complexData = map[string]any{
		"string": "value",
		"nested": map[string]any{
			"key":   "nested value",
			"inner": map[string]any{"deep": "very deep"},
		},
		"array": []string{"one", "two", "three"},
	}
)

// MockProvider is a testify mock implementation of Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetData(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	d, _ := args.Get(0).(map[string]any)
	return d, args.Error(1)
}

func (m *MockProvider) AddDataToContext(ctx context.Context, data ...map[string]any) (context.Context, error) {
	args := m.Called(ctx, data)
	newCtx, _ := args.Get(0).(context.Context)
	return newCtx, args.Error(1)
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		inputData map[string]any
		wantEmpty bool
	}{
		{name: "nil data", inputData: nil, wantEmpty: true},
		{name: "empty data", inputData: map[string]any{}, wantEmpty: true},
		{name: "simple data", inputData: simpleData},
		{name: "complex data", inputData: complexData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewStaticProvider(tt.inputData)
			result, err := provider.GetData(t.Context())
			require.NoError(t, err)
			if tt.wantEmpty {
				assert.Empty(t, result)
				return
			}
			assert.Equal(t, tt.inputData, result)
		})
	}

	t.Run("returns a copy", func(t *testing.T) {
		provider := NewStaticProvider(map[string]any{"a": 1})
		result, err := provider.GetData(t.Context())
		require.NoError(t, err)
		result["b"] = 2

		again, err := provider.GetData(t.Context())
		require.NoError(t, err)
		assert.NotContains(t, again, "b")
	})

	t.Run("rejects runtime data", func(t *testing.T) {
		provider := NewStaticProvider(nil)
		ctx := t.Context()
		newCtx, err := provider.AddDataToContext(ctx, simpleData)
		require.ErrorIs(t, err, ErrStaticProviderNoRuntimeUpdates)
		assert.Equal(t, ctx, newCtx)
	})
}

func TestContextProvider(t *testing.T) {
	t.Parallel()

	t.Run("empty context key", func(t *testing.T) {
		provider := NewContextProvider("")
		_, err := provider.GetData(t.Context())
		require.ErrorIs(t, err, ErrEmptyContextKey)
		_, err = provider.AddDataToContext(t.Context(), simpleData)
		require.ErrorIs(t, err, ErrEmptyContextKey)
	})

	t.Run("nothing stored", func(t *testing.T) {
		provider := NewContextProvider(EvalData)
		result, err := provider.GetData(t.Context())
		require.NoError(t, err)
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	t.Run("wrong type stored", func(t *testing.T) {
		provider := NewContextProvider(EvalData)
		ctx := context.WithValue(t.Context(), EvalData, "not a map")
		_, err := provider.GetData(ctx)
		require.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		provider := NewContextProvider(EvalData)
		ctx, err := provider.AddDataToContext(t.Context(), simpleData, complexData)
		require.NoError(t, err)

		result, err := provider.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, result["int"])
		assert.Equal(t, "value", result["string"])
		nested, ok := result["nested"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "nested value", nested["key"])
	})

	t.Run("merges nested maps across calls", func(t *testing.T) {
		provider := NewContextProvider(EvalData)
		ctx, err := provider.AddDataToContext(t.Context(), map[string]any{
			"user": map[string]any{"name": "ada"},
		})
		require.NoError(t, err)
		first := ctx

		ctx, err = provider.AddDataToContext(ctx, map[string]any{
			"user": map[string]any{"role": "admin"},
		})
		require.NoError(t, err)

		result, err := provider.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "ada", "role": "admin"}, result["user"])

		earlier, err := provider.GetData(first)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "ada"}, earlier["user"], "earlier contexts are unchanged")
	})

	t.Run("empty keys are reported", func(t *testing.T) {
		provider := NewContextProvider(EvalData)
		ctx, err := provider.AddDataToContext(t.Context(), map[string]any{
			"":     1,
			"ok":   2,
			"deep": map[string]any{"": 3},
		})
		require.ErrorIs(t, err, ErrEmptyKey)

		result, getErr := provider.GetData(ctx)
		require.NoError(t, getErr)
		assert.Equal(t, map[string]any{"ok": 2}, result)
	})
}

func TestCompositeProvider(t *testing.T) {
	t.Parallel()

	t.Run("later providers win", func(t *testing.T) {
		first := NewStaticProvider(map[string]any{
			"a":      1,
			"nested": map[string]any{"x": 1, "y": 1},
		})
		second := NewStaticProvider(map[string]any{
			"b":      2,
			"nested": map[string]any{"y": 2},
		})
		result, err := NewCompositeProvider(first, nil, second).GetData(t.Context())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"a":      1,
			"b":      2,
			"nested": map[string]any{"x": 1, "y": 2},
		}, result)
	})

	t.Run("provider error", func(t *testing.T) {
		failing := new(MockProvider)
		failing.On("GetData", mock.Anything).Return(nil, assert.AnError)

		_, err := NewCompositeProvider(NewStaticProvider(simpleData), failing).GetData(t.Context())
		require.ErrorIs(t, err, assert.AnError)
		failing.AssertExpectations(t)
	})

	t.Run("static and context providers", func(t *testing.T) {
		composite := NewCompositeProvider(
			NewStaticProvider(map[string]any{"config": "static"}),
			NewContextProvider(EvalData),
		)
		ctx, err := composite.AddDataToContext(t.Context(), map[string]any{"request": "r1"})
		require.NoError(t, err)

		result, err := composite.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, "static", result["config"])
		assert.Equal(t, "r1", result["request"])
	})

	t.Run("only static providers", func(t *testing.T) {
		composite := NewCompositeProvider(NewStaticProvider(nil))
		_, err := composite.AddDataToContext(t.Context(), simpleData)
		require.ErrorIs(t, err, ErrStaticProviderNoRuntimeUpdates)
	})

	t.Run("all providers fail", func(t *testing.T) {
		failing := new(MockProvider)
		failing.On("AddDataToContext", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		ctx := t.Context()
		newCtx, err := NewCompositeProvider(failing).AddDataToContext(ctx, simpleData)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, ctx, newCtx)
	})
}
