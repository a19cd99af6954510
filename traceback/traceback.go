// Package traceback renders exceptions raised by snippets as Python-style
// traces. Frames of the evaluator itself are hidden and frames of cached
// executions show the snippet as it was submitted.
package traceback

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/robbyt/go-aeval/internal/helpers"
	"github.com/robbyt/go-aeval/internal/interp"
	"github.com/robbyt/go-aeval/session"
)

const (
	// DefaultPlaceholder is the file name shown for frames of cached
	// executions.
	DefaultPlaceholder = "<code>"

	header      = "Traceback (most recent call last):"
	causeSep    = "The above exception was the direct cause of the following exception:"
	contextSep  = "During handling of the above exception, another exception occurred:"
	unitName    = "<module>"
	maxChainLen = 32
)

// Contexts gives access to the code of cached executions.
type Contexts interface {
	// Source returns the code of the execution with the given synthetic
	// file name.
	Source(filename string) (string, bool)
	// LatestFile returns the synthetic file name of the latest execution.
	LatestFile() string
}

// Renderer renders exception traces.
type Renderer struct {
	contexts    Contexts
	hidden      map[interp.FrameKey]struct{}
	placeholder string

	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates a Renderer resolving snippet source through contexts.
func New(contexts Contexts, opts ...Option) (*Renderer, error) {
	r := &Renderer{contexts: contexts}
	r.applyDefaults()

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("error applying traceback option: %w", err)
		}
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid traceback configuration: %w", err)
	}

	if r.logger != nil {
		r.logHandler = r.logger.Handler()
		r.logger = r.logger.WithGroup("traceback")
	} else {
		r.logHandler, r.logger = helpers.SetupLogger(r.logHandler, "aeval", "traceback")
	}
	return r, nil
}

// Frames returns the patched frames of exc, outermost first.
func (r *Renderer) Frames(exc *interp.Exception) []PatchedFrame {
	frames := make([]PatchedFrame, 0, len(exc.Traceback))
	for _, tf := range exc.Traceback {
		if f, ok := r.patch(tf); ok {
			frames = append(frames, f)
		}
	}
	if exc.Is(interp.SyntaxError) && r.fromLatest(exc) && len(frames) > 0 {
		frames = frames[:len(frames)-1]
	}
	return frames
}

func (r *Renderer) fromLatest(exc *interp.Exception) bool {
	latest := r.contexts.LatestFile()
	return latest != "" && exc.Filename == latest
}

// patch rewrites one raw frame. ok is false for frames that are hidden or
// belong to executions no longer cached.
func (r *Renderer) patch(tf interp.TraceFrame) (PatchedFrame, bool) {
	if tf.Internal {
		return PatchedFrame{}, false
	}
	if _, hidden := r.hidden[tf.Key()]; hidden {
		return PatchedFrame{}, false
	}

	f := PatchedFrame{Filename: tf.File, Line: tf.Line, Name: tf.Name}
	if _, _, synthetic := session.ParseFilename(tf.File); !synthetic {
		return f, true
	}
	code, ok := r.contexts.Source(tf.File)
	if !ok {
		return PatchedFrame{}, false
	}

	f.Filename = r.placeholder
	if tf.Unit {
		f.Name = unitName
	}
	if line, ok := sourceLine(code, tf.Line); ok {
		f.Text = strings.TrimSpace(line)
		f.Pointer = pointer(tf, line)
	}
	return f, true
}

// Render formats err the way an interactive shell prints an uncaught
// exception, chained exceptions first. Errors that are not exceptions are
// returned as their message. Render never panics; a failure while
// formatting yields what was rendered so far.
func (r *Renderer) Render(err error) (out string) {
	if err == nil {
		return ""
	}
	exc, ok := interp.AsException(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Trace rendering failed", "panic", p)
			out = sb.String() + exc.Error()
		}
	}()

	excs, seps := chain(exc)
	for i := len(excs) - 1; i >= 0; i-- {
		r.renderOne(&sb, excs[i])
		if i > 0 {
			sb.WriteString("\n")
			sb.WriteString(seps[i-1])
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// chain lists exc followed by the exceptions it was raised from, newest
// first. seps[i] tells how excs[i] relates to excs[i+1].
func chain(exc *interp.Exception) (excs []*interp.Exception, seps []string) {
	seen := make(map[*interp.Exception]bool)
	for cur := exc; cur != nil && !seen[cur] && len(excs) < maxChainLen; {
		seen[cur] = true
		excs = append(excs, cur)
		switch {
		case cur.Cause != nil:
			seps = append(seps, causeSep)
			cur = cur.Cause
		case cur.Context != nil && !cur.SuppressContext:
			seps = append(seps, contextSep)
			cur = cur.Context
		default:
			cur = nil
		}
	}
	return excs, seps
}

func (r *Renderer) renderOne(sb *strings.Builder, exc *interp.Exception) {
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, f := range r.Frames(exc) {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	if exc.Is(interp.SyntaxError) && exc.Filename != "" {
		r.renderLocation(sb, exc)
	}
	sb.WriteString(exc.Error())
	sb.WriteString("\n")
}

// renderLocation writes the file, line and caret block of a syntax error.
func (r *Renderer) renderLocation(sb *strings.Builder, exc *interp.Exception) {
	filename, text := exc.Filename, exc.Text
	if _, _, synthetic := session.ParseFilename(filename); synthetic {
		if code, ok := r.contexts.Source(filename); ok {
			filename = r.placeholder
			if line, ok := sourceLine(code, exc.Line); ok {
				text = line
			}
		}
	}
	if exc.Line > 0 {
		fmt.Fprintf(sb, "  File %q, line %d\n", filename, exc.Line)
	} else {
		fmt.Fprintf(sb, "  File %q\n", filename)
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintf(sb, "    %s\n", strings.TrimSpace(text))
	if exc.Col > 0 {
		fmt.Fprintf(sb, "    %s^\n", strings.Repeat(" ", max(0, exc.Col-1-indentOf(text))))
	}
}

func indentOf(line string) int {
	return len([]rune(line)) - len([]rune(strings.TrimLeft(line, " \t")))
}
