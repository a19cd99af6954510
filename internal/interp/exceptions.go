package interp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/ast"
)

// ExceptionClass is a class of the exception hierarchy. Calling it creates
// an exception instance.
type ExceptionClass struct {
	name string
	base *ExceptionClass
}

// NewExceptionClass defines a class deriving from base. A nil base makes a
// root class.
func NewExceptionClass(name string, base *ExceptionClass) *ExceptionClass {
	return &ExceptionClass{name: name, base: base}
}

var (
	BaseException       = NewExceptionClass("BaseException", nil)
	ExceptionBase       = NewExceptionClass("Exception", BaseException)
	CancelledError      = NewExceptionClass("CancelledError", BaseException)
	ArithmeticError     = NewExceptionClass("ArithmeticError", ExceptionBase)
	ZeroDivisionError   = NewExceptionClass("ZeroDivisionError", ArithmeticError)
	LookupError         = NewExceptionClass("LookupError", ExceptionBase)
	KeyError            = NewExceptionClass("KeyError", LookupError)
	IndexError          = NewExceptionClass("IndexError", LookupError)
	NameError           = NewExceptionClass("NameError", ExceptionBase)
	UnboundLocalError   = NewExceptionClass("UnboundLocalError", NameError)
	TypeError           = NewExceptionClass("TypeError", ExceptionBase)
	ValueError          = NewExceptionClass("ValueError", ExceptionBase)
	AttributeError      = NewExceptionClass("AttributeError", ExceptionBase)
	RuntimeError        = NewExceptionClass("RuntimeError", ExceptionBase)
	NotImplementedError = NewExceptionClass("NotImplementedError", RuntimeError)
	AssertionError      = NewExceptionClass("AssertionError", ExceptionBase)
	StopIteration       = NewExceptionClass("StopIteration", ExceptionBase)
	ImportError         = NewExceptionClass("ImportError", ExceptionBase)
	ModuleNotFoundError = NewExceptionClass("ModuleNotFoundError", ImportError)
	SyntaxError         = NewExceptionClass("SyntaxError", ExceptionBase)
	TimeoutError        = NewExceptionClass("TimeoutError", ExceptionBase)
)

var builtinClasses = []*ExceptionClass{
	BaseException, ExceptionBase, CancelledError, ArithmeticError, ZeroDivisionError,
	LookupError, KeyError, IndexError, NameError, UnboundLocalError, TypeError,
	ValueError, AttributeError, RuntimeError, NotImplementedError, AssertionError,
	StopIteration, ImportError, ModuleNotFoundError, SyntaxError, TimeoutError,
}

var (
	_ starlark.Callable = (*ExceptionClass)(nil)
	_ starlark.HasAttrs = (*ExceptionClass)(nil)
)

func (c *ExceptionClass) Name() string          { return c.name }
func (c *ExceptionClass) String() string        { return "<class '" + c.name + "'>" }
func (c *ExceptionClass) Type() string          { return "type" }
func (c *ExceptionClass) Freeze()               {}
func (c *ExceptionClass) Truth() starlark.Bool  { return starlark.True }
func (c *ExceptionClass) Hash() (uint32, error) { return starlark.String(c.name).Hash() }

// Base returns the parent class, or nil for a root class.
func (c *ExceptionClass) Base() *ExceptionClass {
	return c.base
}

// IsSubclass reports whether c is other or derives from it.
func (c *ExceptionClass) IsSubclass(other *ExceptionClass) bool {
	for k := c; k != nil; k = k.base {
		if k == other {
			return true
		}
	}
	return false
}

func (c *ExceptionClass) Attr(name string) (starlark.Value, error) {
	if name == "__name__" {
		return starlark.String(c.name), nil
	}
	return nil, nil
}

func (c *ExceptionClass) AttrNames() []string {
	return []string{"__name__"}
}

func (c *ExceptionClass) CallInternal(
	_ *starlark.Thread,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, NewException(TypeError, "%s() takes no keyword arguments", c.name)
	}
	return &Exception{Class: c, Args: append(starlark.Tuple(nil), args...)}, nil
}

// Exception is a raised exception. It is both the Go error returned from
// evaluation and the value bound by `except ... as name`.
type Exception struct {
	Class     *ExceptionClass
	Args      starlark.Tuple
	Traceback []TraceFrame
	Cause     *Exception
	Context   *Exception

	// SuppressContext is set by `raise ... from`; Context is then not
	// shown on traces.
	SuppressContext bool

	// Location of a SyntaxError; zero for other classes.
	Filename string
	Line     int
	Col      int
	Text     string

	err    error
	origin *Interp
}

var (
	_ error             = (*Exception)(nil)
	_ starlark.HasAttrs = (*Exception)(nil)
)

// NewException creates an exception whose single argument is the formatted
// message.
func NewException(class *ExceptionClass, format string, args ...any) *Exception {
	return &Exception{Class: class, Args: starlark.Tuple{starlark.String(fmt.Sprintf(format, args...))}}
}

// NewSyntaxError creates a SyntaxError located in filename.
func NewSyntaxError(msg, filename string, line, col int, text string) *Exception {
	exc := NewException(SyntaxError, "%s", msg)
	exc.Filename, exc.Line, exc.Col, exc.Text = filename, line, col, text
	return exc
}

// Message is the exception's str() form.
func (e *Exception) Message() string {
	switch len(e.Args) {
	case 0:
		return ""
	case 1:
		if s, ok := e.Args[0].(starlark.String); ok {
			return string(s)
		}
		return e.Args[0].String()
	}
	return e.Args.String()
}

func (e *Exception) Error() string {
	if msg := e.Message(); msg != "" {
		return e.Class.name + ": " + msg
	}
	return e.Class.name
}

func (e *Exception) Unwrap() error {
	return e.err
}

// WithError records err as the Go error the exception was raised for.
func (e *Exception) WithError(err error) *Exception {
	e.err = err
	return e
}

// Is reports whether e belongs to class.
func (e *Exception) Is(class *ExceptionClass) bool {
	return e.Class.IsSubclass(class)
}

// Unwind records a frame the exception passed through on its way out. The
// frame becomes the outermost one.
func (e *Exception) Unwind(f TraceFrame) {
	e.Traceback = append([]TraceFrame{f}, e.Traceback...)
}

func (e *Exception) String() string       { return e.Message() }
func (e *Exception) Type() string         { return e.Class.name }
func (e *Exception) Freeze()              { e.Args.Freeze() }
func (e *Exception) Truth() starlark.Bool { return starlark.True }

func (e *Exception) Hash() (uint32, error) {
	return starlark.String(e.Error()).Hash()
}

func (e *Exception) Attr(name string) (starlark.Value, error) {
	switch name {
	case "args":
		return e.Args, nil
	case "__class__":
		return e.Class, nil
	case "__cause__":
		if e.Cause == nil {
			return starlark.None, nil
		}
		return e.Cause, nil
	case "__context__":
		if e.Context == nil {
			return starlark.None, nil
		}
		return e.Context, nil
	}
	return nil, nil
}

func (e *Exception) AttrNames() []string {
	return []string{"__cause__", "__class__", "__context__", "args"}
}

// AsException returns the exception carried by err, if any.
func AsException(err error) (*Exception, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

func contextException(err error) *Exception {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewException(TimeoutError, "%s", err)
	}
	return NewException(CancelledError, "%s", err)
}

var undefinedName = regexp.MustCompile(`^undefined: (\w+)`)

type rule struct {
	match func(msg string) bool
	class *ExceptionClass
}

func contains(subs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// rules classify Starlark runtime error messages. The first match wins.
var rules = []rule{
	{contains("deadline exceeded"), TimeoutError},
	{contains("computation cancelled", "context canceled"), CancelledError},
	{contains("referenced before assignment"), UnboundLocalError},
	{contains("division by zero", "modulo by zero"), ZeroDivisionError},
	{contains("out of range"), IndexError},
	{contains("not in dict", "key not found"), KeyError},
	{contains("has no .", "no such field", "has no attribute", "no field or method"), AttributeError},
	{contains(
		"unknown binary op", "unknown unary op", "unsupported", "not callable", "unhashable",
		"not iterable", "missing argument", "unexpected keyword", "got multiple values",
		"takes no", "takes exactly", "takes at most", "want ", "not supported", "has no len",
		"does not support", "invalid type",
	), TypeError},
	{contains("invalid", "empty sequence", "not a valid", "too many values", "not enough values"), ValueError},
}

func classify(msg string) *ExceptionClass {
	for _, r := range rules {
		if r.match(msg) {
			return r.class
		}
	}
	return RuntimeError
}

// fromMessage builds an exception from a Starlark error message raised in fr.
func fromMessage(msg string, fr *Frame) *Exception {
	if m := undefinedName.FindStringSubmatch(msg); m != nil {
		name := m[1]
		if fr != nil && fr.scope.IsLocal(name) {
			return NewException(UnboundLocalError,
				"cannot access local variable '%s' where it is not associated with a value", name)
		}
		return NewException(NameError, "name '%s' is not defined", name)
	}
	return NewException(classify(msg), "%s", msg)
}

// exceptionFrom converts an error raised while evaluating e in fr. depth is
// the Starlark call depth at which the evaluation started, or -1 when the
// error did not come from an expression evaluation.
func (in *Interp) exceptionFrom(fr *Frame, e *ast.Expr, depth int, err error) *Exception {
	var evalErr *starlark.EvalError
	hasEval := errors.As(err, &evalErr)
	var site ast.Pos
	var extra []starlark.CallFrame
	if hasEval && depth >= 0 && depth < len(evalErr.CallStack) {
		if e != nil {
			site = e.Locate(evalErr.CallStack[depth].Pos)
		}
		extra = evalErr.CallStack[depth+1:]
	}

	if exc, ok := AsException(err); ok {
		if exc.origin != in {
			if site.IsValid() {
				fr.caret = site
			}
			exc.Traceback = append(in.snapshot(), exc.Traceback...)
			exc.origin = in
		} else if site.IsValid() {
			exc.pointAt(fr, site)
		}
		return exc
	}

	if site.IsValid() {
		fr.caret = site
	}
	var exc *Exception
	var rerrs resolve.ErrorList
	var unresolved string
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		exc = contextException(err)
	case hasEval:
		exc = fromMessage(evalErr.Msg, fr)
	case errors.As(err, &rerrs) && len(rerrs) > 0:
		if e != nil {
			fr.caret = e.Locate(rerrs[0].Pos)
		}
		if m := undefinedName.FindStringSubmatch(rerrs[0].Msg); m != nil {
			unresolved = m[1]
		}
		exc = fromMessage(rerrs[0].Msg, fr)
	default:
		exc = fromMessage(err.Error(), fr)
	}
	exc.err = err
	exc.origin = in
	exc.Traceback = in.snapshot()
	if unresolved != "" && fr.caret.IsValid() && !e.Synthetic() {
		exc.pointAtName(fr, fr.caret, unresolved)
	}
	for _, cf := range extra {
		if f, ok := starlarkFrame(cf); ok {
			exc.Traceback = append(exc.Traceback, f)
		}
	}
	return exc
}

// pointAt refines the recorded position of fr in the traceback.
func (e *Exception) pointAt(fr *Frame, p ast.Pos) {
	for i := len(e.Traceback) - 1; i >= 0; i-- {
		if e.Traceback[i].frame == fr {
			e.Traceback[i].point(p)
			return
		}
	}
}

// pointAtName narrows the entry of fr in the traceback to the name read at p.
func (e *Exception) pointAtName(fr *Frame, p ast.Pos, name string) {
	for i := len(e.Traceback) - 1; i >= 0; i-- {
		tf := &e.Traceback[i]
		if tf.frame == fr {
			tf.Line, tf.Col, tf.Caret = p.Line, p.Col, 0
			tf.EndLine, tf.EndCol = p.Line, p.Col+utf8.RuneCountInString(name)
			return
		}
	}
}

// throw creates an exception raised at the current position.
func (in *Interp) throw(class *ExceptionClass, format string, args ...any) *Exception {
	return in.raise(NewException(class, format, args...))
}

// raise attaches the current stack to an exception that has not been
// raised by this interpreter yet.
func (in *Interp) raise(exc *Exception) *Exception {
	if exc.origin != in {
		exc.Traceback = append(in.snapshot(), exc.Traceback...)
		exc.origin = in
	}
	return exc
}

// wrap converts an error returned by a host operation outside expression
// evaluation.
func (in *Interp) wrap(fr *Frame, err error) *Exception {
	return in.exceptionFrom(fr, nil, -1, err)
}
