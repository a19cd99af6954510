package aeval

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/convert"
)

// emptyResult is the type of EmptyResult. It has exactly one value.
type emptyResult struct{}

// EmptyResult is returned by Evaluate when the snippet produced no value.
// It is distinct from None, which a snippet can compute.
var EmptyResult starlark.Value = &emptyResult{}

func (*emptyResult) String() string        { return "EmptyResult" }
func (*emptyResult) Type() string          { return "EmptyResult" }
func (*emptyResult) Freeze()               {}
func (*emptyResult) Truth() starlark.Bool  { return starlark.False }
func (*emptyResult) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: EmptyResult") }

// IsEmpty reports whether v is EmptyResult.
func IsEmpty(v starlark.Value) bool {
	return v == EmptyResult
}

// mustNotBindEmpty panics when a scope binds EmptyResult. It only exists
// to be returned, so binding it is a programming error.
func mustNotBindEmpty(scopes ...starlark.StringDict) {
	for _, scope := range scopes {
		for name, v := range scope {
			if IsEmpty(v) {
				panic(fmt.Sprintf("aeval: EmptyResult cannot be bound to %q", name))
			}
		}
	}
}

// ToGo converts a result to plain Go values: None becomes nil, ints become
// int64 (or *big.Int when they overflow) and dicts become map[string]any.
// EmptyResult also becomes nil.
func ToGo(v starlark.Value) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	return convert.ToGo(v)
}
