package modules

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/internal/interp"
)

// loadStarlark executes the `.star` file for name and returns its globals
// as a module. found is false when no file exists.
func (r *Registry) loadStarlark(
	ctx context.Context,
	parent *starlark.Thread,
	name string,
) (starlark.Value, bool, error) {
	logger := r.logger.WithGroup("loadStarlark").With("module", name)

	path, ok := r.find(r.starlarkPaths, name, starlarkExt)
	if !ok {
		return nil, false, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, true, importError(name, err)
	}
	if len(strings.TrimSpace(string(src))) == 0 {
		return nil, true, importError(name, ErrContentNil)
	}

	r.mu.Lock()
	if r.loading[name] {
		r.mu.Unlock()
		return nil, true, importError(name, fmt.Errorf("%w: %s", ErrImportCycle, name))
	}
	r.loading[name] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.loading, name)
		r.mu.Unlock()
	}()

	thread := &starlark.Thread{
		Name: "module " + name,
		Load: r.loadFunc(ctx),
	}
	if parent != nil {
		thread.Print = parent.Print
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	globals, err := starlark.ExecFileOptions(interp.FileOptions, thread, path, src, r.predeclared())
	if err != nil {
		logger.WarnContext(ctx, "Starlark module failed", "path", path, "error", err)
		return nil, true, importError(name, fmt.Errorf("%w: %w", ErrCompileFailed, err))
	}
	globals.Freeze()

	mod, _ := r.cache(name, &starlarkstruct.Module{Name: name, Members: globals})
	logger.DebugContext(ctx, "Starlark module loaded",
		"path", path,
		"checksum", helpers.Checksum(src),
		"members", len(globals),
	)
	return mod, true, nil
}

// loadFunc resolves `load("name.star", ...)` statements inside module files
// through the same registry.
func (r *Registry) loadFunc(ctx context.Context) func(*starlark.Thread, string) (starlark.StringDict, error) {
	return func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
		name := strings.TrimSuffix(module, starlarkExt)

		r.mu.Lock()
		cached, ok := r.loaded[name].(*starlarkstruct.Module)
		r.mu.Unlock()
		if ok {
			return cached.Members, nil
		}

		v, found, err := r.loadStarlark(ctx, thread, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
		}
		mod, ok := v.(*starlarkstruct.Module)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a starlark module", ErrModuleNotFound, module)
		}
		return mod.Members, nil
	}
}

// predeclared is what module files see besides the Starlark universe.
func (r *Registry) predeclared() starlark.StringDict {
	d := standardModules()
	r.mu.Lock()
	maps.Copy(d, r.registered)
	r.mu.Unlock()
	return d
}
