// Package modules resolves the modules named by import statements. Names
// are looked up in order among registered host values, the Starlark
// standard modules, `.star` files and Extism WASM plugins.
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/internal/interp"
)

const (
	starlarkExt = ".star"
	wasmExt     = ".wasm"
)

// Registry resolves module names. Loaded modules are cached for the life
// of the registry; Close releases the WASM plugins it compiled.
type Registry struct {
	mu         sync.Mutex
	registered starlark.StringDict
	loaded     map[string]starlark.Value
	loading    map[string]bool
	plugins    []CompiledPlugin

	starlarkPaths []string
	wasmPaths     []string
	enableWASI    bool
	compile       func(ctx context.Context, wasmBytes []byte, enableWASI bool) (CompiledPlugin, error)

	logHandler slog.Handler
	logger     *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		registered: make(starlark.StringDict),
		loaded:     make(map[string]starlark.Value),
		loading:    make(map[string]bool),
	}
	r.applyDefaults()

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("error applying registry option: %w", err)
		}
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: %w", err)
	}

	r.setupLogger()
	return r, nil
}

func (r *Registry) String() string {
	return "modules.Registry"
}

// Register makes value importable under name. The value is frozen, since
// every evaluation shares it.
func (r *Registry) Register(name string, value starlark.Value) error {
	if name == "" {
		return fmt.Errorf("%w: module name cannot be empty", ErrInvalidOption)
	}
	if value == nil {
		return fmt.Errorf("%w: module %q cannot be nil", ErrInvalidOption, name)
	}
	value.Freeze()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[name] = value
	r.logger.Debug("Module registered", "name", name, "type", value.Type())
	return nil
}

// RegisterPlugin makes an already compiled plugin importable under name.
// The registry closes it on Close.
func (r *Registry) RegisterPlugin(name string, plugin CompiledPlugin) error {
	if plugin == nil {
		return fmt.Errorf("%w: plugin %q cannot be nil", ErrInvalidOption, name)
	}
	if err := r.Register(name, newWasmModule(name, plugin, r.logger)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, plugin)
	return nil
}

// Import resolves name. Unknown names raise ModuleNotFoundError; modules
// that exist but fail to load raise ImportError.
func (r *Registry) Import(ctx context.Context, thread *starlark.Thread, name string) (starlark.Value, error) {
	logger := r.logger.WithGroup("Import").With("module", name)

	r.mu.Lock()
	if v, ok := r.registered[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	if v, ok := r.loaded[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	if v, ok := standardModules()[name]; ok {
		return v, nil
	}

	if v, found, err := r.loadStarlark(ctx, thread, name); found || err != nil {
		return v, err
	}
	if v, found, err := r.loadWasm(ctx, name); found || err != nil {
		return v, err
	}

	logger.DebugContext(ctx, "Module not found")
	return nil, interp.NewException(interp.ModuleNotFoundError, "No module named '%s'", name).
		WithError(fmt.Errorf("%w: %s", ErrModuleNotFound, name))
}

// Close releases every WASM plugin and empties the module cache.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	clear(r.loaded)
	for name, v := range r.registered {
		if _, ok := v.(*wasmModule); ok {
			delete(r.registered, name)
		}
	}
	r.mu.Unlock()

	var errz []error
	for _, p := range plugins {
		if err := p.Close(ctx); err != nil {
			errz = append(errz, err)
		}
	}
	return errors.Join(errz...)
}

// find returns the file for module name with extension ext in dirs.
func (r *Registry) find(dirs []string, name, ext string) (string, bool) {
	if len(dirs) == 0 || !validName(name) {
		return "", false
	}
	filename := strings.ReplaceAll(name, ".", string(os.PathSeparator)) + ext
	path, err := helpers.FindFile(r.logger, dirs, filename)
	if err != nil {
		return "", false
	}
	return path, true
}

// validName accepts dotted identifiers only, so that a module name never
// escapes the search directories.
func validName(name string) bool {
	for _, part := range strings.Split(name, ".") {
		if part == "" || strings.ContainsAny(part, `/\`) {
			return false
		}
	}
	return true
}

// cache stores a loaded module. When another load of the same name won the
// race, the earlier module is kept and returned.
func (r *Registry) cache(name string, v starlark.Value) (starlark.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.loaded[name]; ok {
		return existing, false
	}
	r.loaded[name] = v
	return v, true
}

func importError(name string, err error) *interp.Exception {
	return interp.NewException(interp.ImportError, "cannot import '%s': %s", name, err).WithError(err)
}
