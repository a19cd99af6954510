// Package data supplies host variables to evaluations. Whatever a Provider
// returns is converted to Starlark values and bound as globals beneath the
// globals the caller passes explicitly.
package data

import (
	"context"
	"errors"
)

// ContextKey is the type of context keys used by ContextProvider.
type ContextKey string

// EvalData is the default context key under which ContextProvider keeps
// per-request variables.
const EvalData ContextKey = "aeval_data"

var (
	ErrEmptyContextKey                = errors.New("context key is empty")
	ErrEmptyKey                       = errors.New("empty keys are not allowed")
	ErrStaticProviderNoRuntimeUpdates = errors.New("static provider does not accept runtime data")
)

// Getter retrieves the variables for one evaluation.
type Getter interface {
	GetData(ctx context.Context) (map[string]any, error)
}

// Setter enriches a context with variables that a later GetData on the
// same context returns.
type Setter interface {
	AddDataToContext(ctx context.Context, data ...map[string]any) (context.Context, error)
}

// Provider supplies variables for evaluations.
type Provider interface {
	Getter
	Setter
}
