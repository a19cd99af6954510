package data

import (
	"context"
	"maps"
)

// StaticProvider returns the same variables for every evaluation. It is
// meant for configuration known when the evaluator is built.
type StaticProvider struct {
	data map[string]any
}

// NewStaticProvider creates a provider that always returns data.
func NewStaticProvider(data map[string]any) *StaticProvider {
	if data == nil {
		data = make(map[string]any)
	}
	return &StaticProvider{data: data}
}

// GetData returns a copy of the static variables.
func (p *StaticProvider) GetData(_ context.Context) (map[string]any, error) {
	return maps.Clone(p.data), nil
}

// AddDataToContext always fails with ErrStaticProviderNoRuntimeUpdates.
func (p *StaticProvider) AddDataToContext(
	ctx context.Context,
	_ ...map[string]any,
) (context.Context, error) {
	return ctx, ErrStaticProviderNoRuntimeUpdates
}
