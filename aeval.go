// Package aeval evaluates code snippets the way an interactive prompt does:
// the value of the snippet's terminal statement is returned, variables
// persist between evaluations, and failures render as traces showing the
// snippet as it was submitted.
package aeval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/data"
	"github.com/robbyt/go-aeval/engine"
	"github.com/robbyt/go-aeval/internal/convert"
	"github.com/robbyt/go-aeval/internal/interp"
	"github.com/robbyt/go-aeval/loader"
	"github.com/robbyt/go-aeval/modules"
	"github.com/robbyt/go-aeval/session"
	"github.com/robbyt/go-aeval/traceback"
)

// InternalFile is the file name the evaluator's own frames carry on traces.
const InternalFile = "github.com/robbyt/go-aeval"

// Exception is the error every failing snippet returns.
type Exception = interp.Exception

// Evaluator evaluates snippets against one session. Its methods are safe
// for concurrent use, but concurrent non-isolated evaluations race on the
// session scope: the last one to finish wins.
type Evaluator struct {
	session  *session.Session
	engine   *engine.Engine
	renderer *traceback.Renderer

	builtins    starlark.StringDict
	modules     *modules.Registry
	ownsModules bool
	provider    data.Provider
	stdout      io.Writer
	cacheSize   int

	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates an Evaluator with an empty session.
func New(opts ...Option) (*Evaluator, error) {
	ev := &Evaluator{}
	ev.applyDefaults()

	for _, opt := range opts {
		if err := opt(ev); err != nil {
			return nil, fmt.Errorf("error applying evaluator option: %w", err)
		}
	}

	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("invalid evaluator configuration: %w", err)
	}

	ev.setupLogger()

	var err error
	if ev.modules == nil {
		ev.modules, err = modules.NewRegistry(modules.WithLogHandler(ev.logHandler))
		if err != nil {
			return nil, fmt.Errorf("failed to create module registry: %w", err)
		}
		ev.ownsModules = true
	}

	ev.session, err = session.New(
		session.WithLogHandler(ev.logHandler),
		session.WithCacheSize(ev.cacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithLogHandler(ev.logHandler),
		engine.WithImporter(ev.modules),
		engine.WithStdout(ev.stdout),
	}
	if len(ev.builtins) > 0 {
		engineOpts = append(engineOpts, engine.WithBuiltins(ev.builtins))
	}
	ev.engine, err = engine.New(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	hidden := append(engine.InternalFrames(), InternalFrames()...)
	ev.renderer, err = traceback.New(ev.session,
		traceback.WithLogHandler(ev.logHandler),
		traceback.WithHiddenFrames(hidden...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace renderer: %w", err)
	}
	return ev, nil
}

// InternalFrames returns the frames the evaluator adds to traces.
func InternalFrames() []interp.FrameKey {
	return []interp.FrameKey{{File: InternalFile, Name: "Evaluate"}}
}

func (ev *Evaluator) String() string {
	return fmt.Sprintf("aeval.Evaluator{Session: %s}", ev.session)
}

// Evaluate runs code and returns the value of its terminal statement, or
// EmptyResult when there is none. A failing snippet returns its *Exception
// unchanged; RenderTrace formats it.
//
// Unless the evaluation is Isolated, it starts from the session scope with
// the overrides on top, and a successful run merges its scope back into the
// session.
func (ev *Evaluator) Evaluate(ctx context.Context, code string, opts ...EvalOption) (starlark.Value, error) {
	cfg := &evalConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	mustNotBindEmpty(cfg.globals, cfg.locals)

	ec := ev.session.Begin(code, cfg.isolated)
	logger := ev.logger.WithGroup("Evaluate").With("execution", ec.No)

	if strings.TrimSpace(code) == "" {
		ec.Result, ec.Empty = EmptyResult, true
		logger.DebugContext(ctx, "Blank snippet")
		return EmptyResult, nil
	}

	globals, locals, err := ev.scope(ctx, cfg)
	if err != nil {
		ec.Err = err
		logger.ErrorContext(ctx, "Failed to prepare scope", "error", err)
		return nil, err
	}

	unit, err := ev.engine.Compile(ctx, ec.Filename, code, globals, locals)
	if err != nil {
		return nil, ev.fail(ctx, logger, ec, err)
	}
	outcome, err := ev.engine.Execute(ctx, unit, globals, locals)
	if err != nil {
		return nil, ev.fail(ctx, logger, ec, err)
	}

	ec.Globals, ec.Locals = outcome.Globals, outcome.Locals
	ec.Result, ec.Empty = outcome.Value, outcome.Empty
	ec.Async, ec.ExecTime = outcome.Async, outcome.ExecTime
	if outcome.Empty {
		ec.Result = EmptyResult
	}
	ev.session.Commit(ec)

	logger.DebugContext(ctx, "Evaluation complete",
		"empty", ec.Empty,
		"async", ec.Async,
		"execTime", ec.ExecTime,
	)
	return ec.Result, nil
}

// scope returns the globals and locals an evaluation starts with. Host
// variables sit beneath the overrides and beneath the session's own
// top-level assignments.
func (ev *Evaluator) scope(
	ctx context.Context,
	cfg *evalConfig,
) (starlark.StringDict, starlark.StringDict, error) {
	host, err := ev.hostGlobals(ctx)
	if err != nil {
		return nil, nil, err
	}

	if cfg.isolated {
		globals := host
		maps.Copy(globals, cfg.globals)
		locals := make(starlark.StringDict, len(cfg.locals))
		maps.Copy(locals, cfg.locals)
		return globals, locals, nil
	}
	g, l := ev.session.Scope(host, cfg.globals, cfg.locals)
	return g, l, nil
}

func (ev *Evaluator) hostGlobals(ctx context.Context) (starlark.StringDict, error) {
	if ev.provider == nil {
		return make(starlark.StringDict), nil
	}
	raw, err := ev.provider.GetData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get data from provider: %w", err)
	}
	globals, err := convert.ToStringDict(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert provider data: %w", err)
	}
	return globals, nil
}

// fail records err on ec and marks the evaluator's frame on its trace.
func (ev *Evaluator) fail(
	ctx context.Context,
	logger *slog.Logger,
	ec *session.ExecutionContext,
	err error,
) error {
	if exc, ok := interp.AsException(err); ok {
		exc.Unwind(interp.TraceFrame{File: InternalFile, Name: "Evaluate", Internal: true})
		logger.DebugContext(ctx, "Snippet raised", "exception", exc.Error())
	} else {
		logger.ErrorContext(ctx, "Evaluation failed", "error", err)
	}
	ec.Err = err
	return err
}

// EvaluateFrom evaluates the snippet l provides.
func (ev *Evaluator) EvaluateFrom(ctx context.Context, l loader.Loader, opts ...EvalOption) (starlark.Value, error) {
	code, err := loader.ReadAll(l)
	if err != nil {
		return nil, err
	}
	return ev.Evaluate(ctx, code, opts...)
}

// PrepareContext stores runtime data in ctx through the data provider, for
// evaluations run with the returned context.
func (ev *Evaluator) PrepareContext(ctx context.Context, d ...map[string]any) (context.Context, error) {
	if ev.provider == nil {
		return ctx, ErrNoDataProvider
	}
	return ev.provider.AddDataToContext(ctx, d...)
}

// RenderTrace formats err as a trace. Frames of the evaluator are hidden
// and frames of cached executions show the submitted snippet.
func (ev *Evaluator) RenderTrace(err error) string {
	return ev.renderer.Render(err)
}

// Variables returns a copy of the session scope; locals shadow globals.
func (ev *Evaluator) Variables() starlark.StringDict {
	return ev.session.Variables()
}

// Globals returns a copy of the session globals.
func (ev *Evaluator) Globals() starlark.StringDict {
	return ev.session.Globals()
}

// Locals returns a copy of the session locals.
func (ev *Evaluator) Locals() starlark.StringDict {
	return ev.session.Locals()
}

// Latest returns the most recent execution context, or nil.
func (ev *Evaluator) Latest() *session.ExecutionContext {
	return ev.session.Latest()
}

// Reset clears the session scope and its cached executions.
func (ev *Evaluator) Reset() {
	ev.session.Reset()
	ev.logger.Debug("Session reset")
}

// Close releases the module registry when the evaluator created it.
func (ev *Evaluator) Close(ctx context.Context) error {
	if !ev.ownsModules {
		return nil
	}
	return ev.modules.Close(ctx)
}

// Eval evaluates code once, isolated, with a fresh evaluator.
func Eval(
	ctx context.Context,
	code string,
	globals, locals starlark.StringDict,
) (starlark.Value, error) {
	ev, err := New()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ev.Close(ctx); err != nil {
			ev.logger.WarnContext(ctx, "Failed to close evaluator", "error", err)
		}
	}()
	return ev.Evaluate(ctx, code, WithGlobals(globals), WithLocals(locals), Isolated())
}
