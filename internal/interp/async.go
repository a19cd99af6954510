package interp

import (
	"context"
	"time"

	"go.starlark.net/starlark"
)

// AsyncIterator is a value that `async for` can consume.
type AsyncIterator interface {
	starlark.Value
	// Next returns the next element; ok is false once exhausted.
	Next(ctx context.Context, thread *starlark.Thread) (v starlark.Value, ok bool, err error)
}

// ContextManager is a value usable in `with` and `async with`.
type ContextManager interface {
	starlark.Value
	Enter(ctx context.Context, thread *starlark.Thread) (starlark.Value, error)
	// Exit is called with the exception that ended the block, or nil.
	// Returning true suppresses the exception.
	Exit(ctx context.Context, thread *starlark.Thread, exc *Exception) (suppress bool, err error)
}

// await implements the await operator.
func await(
	thread *starlark.Thread,
	_ *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs("await", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	aw, ok := x.(Awaitable)
	if !ok {
		return nil, NewException(TypeError, "object %s can't be used in 'await' expression", x.Type())
	}
	ctx := Context(thread)
	if err := ctx.Err(); err != nil {
		return nil, contextException(err)
	}
	return aw.Await(ctx, thread)
}

type sleeper struct {
	d      time.Duration
	result starlark.Value
}

func (s *sleeper) String() string       { return "<sleep " + s.d.String() + ">" }
func (s *sleeper) Type() string         { return "coroutine" }
func (s *sleeper) Freeze()              {}
func (s *sleeper) Truth() starlark.Bool { return starlark.True }

func (s *sleeper) Hash() (uint32, error) {
	return starlark.String(s.String()).Hash()
}

func (s *sleeper) Await(ctx context.Context, _ *starlark.Thread) (starlark.Value, error) {
	timer := time.NewTimer(s.d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, contextException(ctx.Err())
	case <-timer.C:
		return s.result, nil
	}
}

func sleep(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var seconds starlark.Value
	var result starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "delay", &seconds, "result?", &result); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(seconds)
	if !ok {
		return nil, NewException(TypeError, "sleep: delay must be a number, not %s", seconds.Type())
	}
	if f < 0 {
		return nil, NewException(ValueError, "sleep: delay must be non-negative")
	}
	return &sleeper{d: time.Duration(f * float64(time.Second)), result: result}, nil
}

type gathering struct {
	aws starlark.Tuple
}

func (g *gathering) String() string       { return "<gather>" }
func (g *gathering) Type() string         { return "future" }
func (g *gathering) Freeze()              {}
func (g *gathering) Truth() starlark.Bool { return starlark.True }

func (g *gathering) Hash() (uint32, error) {
	return 0, NewException(TypeError, "unhashable type: 'future'")
}

// Await runs the awaitables in order on the calling thread.
func (g *gathering) Await(ctx context.Context, thread *starlark.Thread) (starlark.Value, error) {
	results := make([]starlark.Value, len(g.aws))
	for i, x := range g.aws {
		aw, ok := x.(Awaitable)
		if !ok {
			return nil, NewException(TypeError, "gather: an awaitable is required, got %s", x.Type())
		}
		v, err := aw.Await(ctx, thread)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return starlark.NewList(results), nil
}

func gather(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, NewException(TypeError, "%s() takes no keyword arguments", b.Name())
	}
	return &gathering{aws: append(starlark.Tuple(nil), args...)}, nil
}

// asyncIter adapts a synchronous iterable for `async for`.
type asyncIter struct {
	it   starlark.Iterator
	done bool
}

func (a *asyncIter) String() string       { return "<async_iterator>" }
func (a *asyncIter) Type() string         { return "async_iterator" }
func (a *asyncIter) Freeze()              {}
func (a *asyncIter) Truth() starlark.Bool { return starlark.True }

func (a *asyncIter) Hash() (uint32, error) {
	return 0, NewException(TypeError, "unhashable type: 'async_iterator'")
}

func (a *asyncIter) Next(ctx context.Context, _ *starlark.Thread) (starlark.Value, bool, error) {
	if a.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, contextException(err)
	}
	var v starlark.Value
	if a.it.Next(&v) {
		return v, true, nil
	}
	a.done = true
	a.it.Done()
	return nil, false, nil
}

func aiter(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if ai, ok := x.(AsyncIterator); ok {
		return ai, nil
	}
	it := starlark.Iterate(x)
	if it == nil {
		return nil, NewException(TypeError, "'%s' object is not iterable", x.Type())
	}
	return &asyncIter{it: it}, nil
}

type suppressor struct {
	classes []*ExceptionClass
}

func (s *suppressor) String() string       { return "<suppress>" }
func (s *suppressor) Type() string         { return "suppress" }
func (s *suppressor) Freeze()              {}
func (s *suppressor) Truth() starlark.Bool { return starlark.True }

func (s *suppressor) Hash() (uint32, error) {
	return 0, NewException(TypeError, "unhashable type: 'suppress'")
}

func (s *suppressor) Enter(context.Context, *starlark.Thread) (starlark.Value, error) {
	return starlark.None, nil
}

func (s *suppressor) Exit(_ context.Context, _ *starlark.Thread, exc *Exception) (bool, error) {
	if exc == nil {
		return false, nil
	}
	for _, c := range s.classes {
		if exc.Is(c) {
			return true, nil
		}
	}
	return false, nil
}

func suppress(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, NewException(TypeError, "%s() takes no keyword arguments", b.Name())
	}
	s := &suppressor{}
	for _, a := range args {
		c, ok := a.(*ExceptionClass)
		if !ok {
			return nil, NewException(TypeError, "suppress: exception class required, got %s", a.Type())
		}
		s.classes = append(s.classes, c)
	}
	return s, nil
}

type nullContext struct {
	result starlark.Value
}

func (n *nullContext) String() string       { return "<nullcontext>" }
func (n *nullContext) Type() string         { return "nullcontext" }
func (n *nullContext) Freeze()              {}
func (n *nullContext) Truth() starlark.Bool { return starlark.True }

func (n *nullContext) Hash() (uint32, error) {
	return 0, NewException(TypeError, "unhashable type: 'nullcontext'")
}

func (n *nullContext) Enter(context.Context, *starlark.Thread) (starlark.Value, error) {
	return n.result, nil
}

func (n *nullContext) Exit(context.Context, *starlark.Thread, *Exception) (bool, error) {
	return false, nil
}

func nullcontext(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var result starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "enter_result?", &result); err != nil {
		return nil, err
	}
	return &nullContext{result: result}, nil
}
