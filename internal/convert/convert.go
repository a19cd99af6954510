// Package convert translates between plain Go values and Starlark values.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"

	starlarkLib "go.starlark.net/starlark"
)

// ErrUnsupportedType is returned for values with no counterpart on the
// other side.
var ErrUnsupportedType = errors.New("unsupported type")

// ToGo converts a Starlark value to a Go value. Dict keys that are not
// strings are converted to their string form.
func ToGo(v starlarkLib.Value) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch v := v.(type) {
	case starlarkLib.NoneType:
		return nil, nil
	case starlarkLib.Bool:
		return bool(v), nil
	case starlarkLib.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.BigInt(), nil
	case starlarkLib.Float:
		return float64(v), nil
	case starlarkLib.String:
		return string(v), nil
	case starlarkLib.Bytes:
		return []byte(v), nil
	case starlarkLib.Tuple:
		return sequenceToGo(v.Len(), v.Index)
	case *starlarkLib.List:
		return sequenceToGo(v.Len(), v.Index)
	case *starlarkLib.Set:
		out := make([]any, 0, v.Len())
		iter := v.Iterate()
		defer iter.Done()
		var elem starlarkLib.Value
		for iter.Next(&elem) {
			g, err := ToGo(elem)
			if err != nil {
				return nil, fmt.Errorf("failed to convert set element: %w", err)
			}
			out = append(out, g)
		}
		return out, nil
	case *starlarkLib.Dict:
		dict := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, val := item[0], item[1]
			kStr, ok := k.(starlarkLib.String)
			if !ok {
				kStr = starlarkLib.String(k.String())
			}
			g, err := ToGo(val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert dict value for key %s: %w", k, err)
			}
			dict[string(kStr)] = g
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("%w: starlark %s", ErrUnsupportedType, v.Type())
	}
}

func sequenceToGo(n int, index func(int) starlarkLib.Value) ([]any, error) {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		g, err := ToGo(index(i))
		if err != nil {
			return nil, fmt.Errorf("failed to convert element %d: %w", i, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// ToStarlark converts a Go value to a Starlark value. Values that are
// already Starlark values are returned unchanged.
func ToStarlark(v any) (starlarkLib.Value, error) {
	if v == nil {
		return starlarkLib.None, nil
	}

	switch val := v.(type) {
	case starlarkLib.Value:
		return val, nil
	case bool:
		return starlarkLib.Bool(val), nil
	case int:
		return starlarkLib.MakeInt(val), nil
	case int32:
		return starlarkLib.MakeInt64(int64(val)), nil
	case int64:
		return starlarkLib.MakeInt64(val), nil
	case uint:
		return starlarkLib.MakeUint(val), nil
	case uint64:
		return starlarkLib.MakeUint64(val), nil
	case float32:
		return starlarkLib.Float(val), nil
	case float64:
		return starlarkLib.Float(val), nil
	case string:
		return starlarkLib.String(val), nil
	case []byte:
		return starlarkLib.Bytes(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlarkLib.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return starlarkLib.Float(f), nil
	case *url.URL:
		return starlarkLib.String(val.String()), nil
	case []string:
		elements := make([]starlarkLib.Value, len(val))
		for i, s := range val {
			elements[i] = starlarkLib.String(s)
		}
		return starlarkLib.NewList(elements), nil
	case []any:
		elements := make([]starlarkLib.Value, len(val))
		for i, elem := range val {
			var err error
			if elements[i], err = ToStarlark(elem); err != nil {
				return nil, fmt.Errorf("failed to convert list element: %w", err)
			}
		}
		return starlarkLib.NewList(elements), nil
	case map[string]struct{}:
		set := starlarkLib.NewSet(len(val))
		for _, k := range sortedKeys(val) {
			if err := set.Insert(starlarkLib.String(k)); err != nil {
				return nil, fmt.Errorf("failed to insert set element: %w", err)
			}
		}
		return set, nil
	case map[string]string:
		dict := starlarkLib.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := dict.SetKey(starlarkLib.String(k), starlarkLib.String(val[k])); err != nil {
				return nil, fmt.Errorf("failed to set dict key: %w", err)
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlarkLib.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := ToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("failed to convert dict value for key %q: %w", k, err)
			}
			if err := dict.SetKey(starlarkLib.String(k), sv); err != nil {
				return nil, fmt.Errorf("failed to set dict key: %w", err)
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// ToStringDict converts each entry of data into a top-level Starlark
// binding. Every failing key is reported.
func ToStringDict(data map[string]any) (starlarkLib.StringDict, error) {
	out := make(starlarkLib.StringDict, len(data))
	var errz []error
	for k, v := range data {
		sv, err := ToStarlark(v)
		if err != nil {
			errz = append(errz, fmt.Errorf("failed to convert value for key %q: %w", k, err))
			continue
		}
		out[k] = sv
	}
	if len(errz) > 0 {
		return nil, errors.Join(errz...)
	}
	return out, nil
}

// FromStringDict converts a Starlark scope to Go values.
func FromStringDict(d starlarkLib.StringDict) (map[string]any, error) {
	out := make(map[string]any, len(d))
	var errz []error
	for k, v := range d {
		g, err := ToGo(v)
		if err != nil {
			errz = append(errz, fmt.Errorf("failed to convert %q: %w", k, err))
			continue
		}
		out[k] = g
	}
	if len(errz) > 0 {
		return nil, errors.Join(errz...)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
