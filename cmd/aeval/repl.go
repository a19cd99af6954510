package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/robbyt/go-aeval"
)

const (
	prompt       = ">>> "
	continuation = "... "
)

// repl reads snippets from in until EOF or %quit. A snippet opening a block
// continues until a blank line.
type repl struct {
	ev      *aeval.Evaluator
	p       *printer
	in      io.Reader
	prompts io.Writer
	lastErr error
}

func (r *repl) run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	var buf []string

	fmt.Fprint(r.prompts, prompt)
	for scanner.Scan() {
		line := scanner.Text()

		if len(buf) == 0 && strings.HasPrefix(strings.TrimSpace(line), "%") {
			if r.command(strings.TrimSpace(line)) {
				return nil
			}
			fmt.Fprint(r.prompts, prompt)
			continue
		}

		buf = append(buf, line)
		if incomplete(buf) {
			fmt.Fprint(r.prompts, continuation)
			continue
		}

		r.evaluate(ctx, strings.Join(buf, "\n"))
		buf = buf[:0]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(r.prompts, prompt)
	}
	if len(buf) > 0 {
		r.evaluate(ctx, strings.Join(buf, "\n"))
	}
	return scanner.Err()
}

func (r *repl) evaluate(ctx context.Context, code string) {
	v, err := r.ev.Evaluate(ctx, code)
	if err != nil {
		r.lastErr = err
		r.p.trace(r.ev.RenderTrace(err))
		return
	}
	if err := r.p.result(v); err != nil {
		r.p.trace(err.Error())
	}
}

// command runs a %-command and reports whether the REPL should stop.
func (r *repl) command(cmd string) bool {
	switch cmd {
	case "%quit", "%exit":
		return true
	case "%vars":
		r.p.variables(r.ev.Variables())
	case "%reset":
		r.ev.Reset()
		r.lastErr = nil
		r.p.info("session reset")
	case "%trace":
		if r.lastErr == nil {
			r.p.info("no error yet")
			break
		}
		r.p.trace(r.ev.RenderTrace(r.lastErr))
	default:
		r.p.info(fmt.Sprintf("unknown command %s (try %%vars, %%reset, %%trace, %%quit)", cmd))
	}
	return false
}

// incomplete reports whether the lines need more input: brackets are still
// open, the last line continues with a backslash, or a block was opened and
// no blank line ended it yet.
func incomplete(lines []string) bool {
	last := lines[len(lines)-1]
	if strings.HasSuffix(last, `\`) {
		return true
	}
	if openBrackets(strings.Join(lines, "\n")) > 0 {
		return true
	}
	for _, line := range lines {
		if strings.HasSuffix(strings.TrimSpace(stripComment(line)), ":") {
			return strings.TrimSpace(last) != ""
		}
	}
	return false
}

// openBrackets counts brackets left open, ignoring string literals and
// comments.
func openBrackets(src string) int {
	depth := 0
	var quote rune
	escaped := false
	inComment := false
	for _, c := range src {
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case quote != 0:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
		case c == '#':
			inComment = true
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		}
	}
	return depth
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}
