package data

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// CompositeProvider combines providers; later providers override earlier
// ones.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a provider querying providers in order.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	return &CompositeProvider{providers: providers}
}

// GetData deep-merges the variables of every provider. It fails on the
// first provider that fails.
func (p *CompositeProvider) GetData(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)
	for i, provider := range p.providers {
		if provider == nil {
			continue
		}
		d, err := provider.GetData(ctx)
		if err != nil {
			return nil, fmt.Errorf("error from provider %d: %w", i, err)
		}
		result = deepMerge(result, d)
	}
	return result, nil
}

// deepMerge returns src with dst merged on top. Nested maps are merged,
// anything else is replaced.
func deepMerge(src, dst map[string]any) map[string]any {
	result := maps.Clone(src)
	for k, dstVal := range dst {
		srcMap, srcIsMap := result[k].(map[string]any)
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstIsMap {
			result[k] = deepMerge(srcMap, dstMap)
			continue
		}
		result[k] = dstVal
	}
	return result
}

// AddDataToContext passes the data to every provider that accepts runtime
// data. Static providers are skipped. It fails only when every other
// provider failed.
func (p *CompositeProvider) AddDataToContext(
	ctx context.Context,
	data ...map[string]any,
) (context.Context, error) {
	finalCtx := ctx
	var errs []error
	attempted, succeeded := 0, 0

	for i, provider := range p.providers {
		if provider == nil {
			continue
		}
		nextCtx, err := provider.AddDataToContext(finalCtx, data...)
		if errors.Is(err, ErrStaticProviderNoRuntimeUpdates) {
			continue
		}
		attempted++
		if err != nil {
			errs = append(errs, fmt.Errorf("error from provider %d: %w", i, err))
			continue
		}
		finalCtx = nextCtx
		succeeded++
	}

	if attempted == 0 {
		return ctx, ErrStaticProviderNoRuntimeUpdates
	}
	if succeeded == 0 {
		return ctx, errors.Join(errs...)
	}
	return finalCtx, nil
}
