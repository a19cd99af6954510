package data

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// ContextProvider keeps variables in the context under a key, so that each
// request can evaluate snippets against its own data.
type ContextProvider struct {
	contextKey ContextKey
}

// NewContextProvider creates a provider reading and writing contextKey.
func NewContextProvider(contextKey ContextKey) *ContextProvider {
	return &ContextProvider{contextKey: contextKey}
}

// GetData returns the variables stored in ctx, or an empty map when there
// are none.
func (p *ContextProvider) GetData(ctx context.Context) (map[string]any, error) {
	if p.contextKey == "" {
		return nil, ErrEmptyContextKey
	}

	value := ctx.Value(p.contextKey)
	if value == nil {
		return make(map[string]any), nil
	}

	d, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid input data type: expected map[string]any, got %T", value)
	}
	return d, nil
}

// AddDataToContext merges the maps into the variables already stored in
// ctx. Nested maps are merged recursively; later values win. Entries with
// empty keys are skipped and reported, the rest are still stored.
func (p *ContextProvider) AddDataToContext(
	ctx context.Context,
	data ...map[string]any,
) (context.Context, error) {
	if p.contextKey == "" {
		return ctx, ErrEmptyContextKey
	}

	var errz []error
	toStore := make(map[string]any)
	if existing, ok := ctx.Value(p.contextKey).(map[string]any); ok {
		maps.Copy(toStore, existing)
	}

	for _, dataMap := range data {
		for key, value := range dataMap {
			if key == "" {
				errz = append(errz, ErrEmptyKey)
				continue
			}
			processed, err := processValue(value)
			if err != nil {
				errz = append(errz, fmt.Errorf("processing value for key '%s': %w", key, err))
				continue
			}
			mergeIntoMap(toStore, key, processed)
		}
	}

	return context.WithValue(ctx, p.contextKey, toStore), errors.Join(errz...)
}

// processValue copies nested maps so that later merges never write into
// the caller's maps.
func processValue(value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		if k == "" {
			return nil, fmt.Errorf("%w in nested maps", ErrEmptyKey)
		}
		processed, err := processValue(v)
		if err != nil {
			return nil, fmt.Errorf("processing nested value for key '%s': %w", k, err)
		}
		result[k] = processed
	}
	return result, nil
}

func mergeIntoMap(target map[string]any, key string, value any) {
	if newMap, ok := value.(map[string]any); ok {
		if existing, ok := target[key].(map[string]any); ok {
			merged := maps.Clone(existing)
			for k, v := range newMap {
				mergeIntoMap(merged, k, v)
			}
			target[key] = merged
			return
		}
	}
	target[key] = value
}
