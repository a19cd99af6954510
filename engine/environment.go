package engine

import (
	"context"
	"log/slog"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/interp"
)

// Environment is the interpreter state bound to a thread for one Execute
// call. It must be released on every exit path.
type Environment struct {
	interp   *interp.Interp
	released bool
}

func acquire(
	ctx context.Context,
	thread *starlark.Thread,
	builtins starlark.StringDict,
	importer interp.Importer,
	logger *slog.Logger,
) *Environment {
	return &Environment{interp: interp.New(ctx, thread, interp.Config{
		Builtins: builtins,
		Importer: importer,
		Logger:   logger,
	})}
}

// Release restores the thread's previous state. Calling it twice is a
// no-op.
func (env *Environment) Release() {
	if env.released {
		return
	}
	env.released = true
	env.interp.Release()
}

// callable creates the function wrapping unit, closing over globals.
func (env *Environment) callable(unit *Unit, globals starlark.StringDict) *interp.Function {
	return env.interp.NewUnit(unit.Name, unit.Filename, unit.Params, unit.body, unit.Async, globals)
}
