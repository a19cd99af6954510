package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/convert"
	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/internal/interp"
)

// loadWasm compiles the `.wasm` plugin for name. found is false when no
// file exists.
func (r *Registry) loadWasm(ctx context.Context, name string) (starlark.Value, bool, error) {
	logger := r.logger.WithGroup("loadWasm").With("module", name)

	path, ok := r.find(r.wasmPaths, name, wasmExt)
	if !ok {
		return nil, false, nil
	}

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, true, importError(name, err)
	}

	plugin, err := r.compile(ctx, wasmBytes, r.enableWASI)
	if err != nil {
		logger.WarnContext(ctx, "WASM module failed to compile", "path", path, "error", err)
		return nil, true, importError(name, fmt.Errorf("%w: %w", ErrCompileFailed, err))
	}

	mod, stored := r.cache(name, newWasmModule(name, plugin, r.logger))
	if !stored {
		if err := plugin.Close(ctx); err != nil {
			logger.WarnContext(ctx, "Failed to close duplicate plugin", "error", err)
		}
		return mod, true, nil
	}

	r.mu.Lock()
	r.plugins = append(r.plugins, plugin)
	r.mu.Unlock()

	logger.DebugContext(ctx, "WASM module loaded",
		"path", path,
		"checksum", helpers.Checksum(wasmBytes),
	)
	return mod, true, nil
}

// wasmModule exposes the exports of a plugin as functions. Every call runs
// in a fresh plugin instance; arguments and results cross as JSON.
type wasmModule struct {
	name   string
	plugin CompiledPlugin
	logger *slog.Logger
}

var _ starlark.HasAttrs = (*wasmModule)(nil)

func newWasmModule(name string, plugin CompiledPlugin, logger *slog.Logger) *wasmModule {
	return &wasmModule{
		name:   name,
		plugin: plugin,
		logger: logger.WithGroup("wasm").With("module", name),
	}
}

func (m *wasmModule) String() string        { return fmt.Sprintf("<wasm module '%s'>", m.name) }
func (m *wasmModule) Type() string          { return "wasm_module" }
func (m *wasmModule) Freeze()               {}
func (m *wasmModule) Truth() starlark.Bool  { return starlark.True }
func (m *wasmModule) Hash() (uint32, error) { return starlark.String(m.name).Hash() }

// Attr returns a function calling export name. Whether the export exists
// is only known once an instance is created, so the check happens on call.
func (m *wasmModule) Attr(name string) (starlark.Value, error) {
	return starlark.NewBuiltin(m.name+"."+name, m.caller(name)), nil
}

// AttrNames is empty: compiled plugins do not list their exports.
func (m *wasmModule) AttrNames() []string { return nil }

func (m *wasmModule) caller(export string) func(
	*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple,
) (starlark.Value, error) {
	return func(
		thread *starlark.Thread,
		b *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		input, err := encodeInput(args, kwargs)
		if err != nil {
			return nil, interp.NewException(interp.TypeError, "%s(): %s", b.Name(), err).WithError(err)
		}
		return m.call(interp.Context(thread), export, input)
	}
}

func (m *wasmModule) call(ctx context.Context, export string, input []byte) (starlark.Value, error) {
	logger := m.logger.With("export", export)

	instance, err := m.plugin.Instance(ctx, NewPluginInstanceConfig())
	if err != nil {
		return nil, interp.NewException(interp.RuntimeError, "failed to create plugin instance: %s", err).
			WithError(err)
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			logger.WarnContext(ctx, "Failed to close plugin instance", "error", err)
		}
	}()

	if !instance.FunctionExists(export) {
		return nil, interp.NewException(interp.AttributeError,
			"module '%s' has no attribute '%s'", m.name, export)
	}

	startTime := time.Now()
	exit, output, err := instance.CallWithContext(ctx, export, input)
	execTime := time.Since(startTime)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, interp.NewException(interp.TimeoutError, "%s", ctxErr).WithError(ctxErr)
			}
			return nil, interp.NewException(interp.CancelledError, "%s", ctxErr).WithError(ctxErr)
		}
		return nil, interp.NewException(interp.RuntimeError, "%s.%s failed: %s", m.name, export, err).
			WithError(err)
	}
	if exit != 0 {
		return nil, interp.NewException(interp.RuntimeError,
			"%s.%s returned non-zero exit code: %d", m.name, export, exit)
	}

	result, err := decodeOutput(output)
	if err != nil {
		return nil, interp.NewException(interp.ValueError, "%s.%s: %s", m.name, export, err).WithError(err)
	}
	logger.DebugContext(ctx, "WASM call complete", "execTime", execTime, "outputBytes", len(output))
	return result, nil
}

// encodeInput turns call arguments into plugin input: nothing for no
// arguments, raw bytes for a single bytes argument, and JSON for a single
// positional value or for keyword arguments as an object.
func encodeInput(args starlark.Tuple, kwargs []starlark.Tuple) ([]byte, error) {
	switch {
	case len(args) == 0 && len(kwargs) == 0:
		return nil, nil
	case len(args) > 1 || (len(args) == 1 && len(kwargs) > 0):
		return nil, errors.New("pass either one positional argument or keyword arguments")
	case len(args) == 1:
		if b, ok := args[0].(starlark.Bytes); ok {
			return []byte(b), nil
		}
		v, err := convert.ToGo(args[0])
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}

	obj := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		v, err := convert.ToGo(kv[1])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", kv[0], err)
		}
		obj[string(kv[0].(starlark.String))] = v
	}
	return json.Marshal(obj)
}

// decodeOutput parses plugin output as JSON, keeping numbers exact. Output
// that is not JSON is returned as a string.
func decodeOutput(output []byte) (starlark.Value, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return starlark.None, nil
	}

	var result any
	d := json.NewDecoder(bytes.NewReader(output))
	d.UseNumber()
	if err := d.Decode(&result); err != nil {
		return starlark.String(output), nil
	}
	return convert.ToStarlark(result)
}
