package traceback

import (
	"fmt"
	"strings"

	"github.com/robbyt/go-aeval/internal/interp"
)

// PatchedFrame is one frame of a rendered trace, after synthetic file
// names and unit names were replaced and the original source line was
// restored.
type PatchedFrame struct {
	Filename string
	Line     int
	Name     string

	// Text is the source line with surrounding whitespace removed.
	Text string

	// Pointer marks the failing expression under Text, aligned with it.
	Pointer string
}

func (f PatchedFrame) String() string {
	var sb strings.Builder
	if f.Line > 0 {
		fmt.Fprintf(&sb, "  File %q, line %d, in %s", f.Filename, f.Line, f.Name)
	} else {
		fmt.Fprintf(&sb, "  File %q, in %s", f.Filename, f.Name)
	}
	if f.Text != "" {
		sb.WriteString("\n    ")
		sb.WriteString(f.Text)
		if f.Pointer != "" {
			sb.WriteString("\n    ")
			sb.WriteString(f.Pointer)
		}
	}
	return sb.String()
}

const operatorChars = "+-*/%@<>=!&|^~"

// pointer draws tildes under the expression of tf and carets under its
// failing operation. line is the raw source line; the result is aligned
// with the line after trimming. It is empty when there is nothing to point
// at or the expression spans the whole line.
func pointer(tf interp.TraceFrame, line string) string {
	if tf.Col <= 0 || (tf.EndLine != 0 && tf.EndLine != tf.Line) {
		return ""
	}
	runes := []rune(strings.TrimRight(line, " \t\r\n"))
	indent := 0
	for indent < len(runes) && (runes[indent] == ' ' || runes[indent] == '\t') {
		indent++
	}
	if indent == len(runes) {
		return ""
	}

	start := tf.Col - 1
	end := tf.EndCol - 1
	if end <= start {
		end = start + 1
	}
	end = min(end, len(runes))
	if start < indent || start >= end {
		return ""
	}

	caret, caretEnd := -1, -1
	if tf.Caret > 0 && tf.Caret-1 >= start && tf.Caret-1 < end {
		caret = tf.Caret - 1
		caretEnd = caret + 1
		if strings.ContainsRune(operatorChars, runes[caret]) {
			for caretEnd < end && strings.ContainsRune(operatorChars, runes[caretEnd]) {
				caretEnd++
			}
		}
	}
	if start == indent && end == len(runes) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", start-indent))
	for i := start; i < end; i++ {
		switch {
		case caret < 0:
			sb.WriteByte('^')
		case i >= caret && i < caretEnd:
			sb.WriteByte('^')
		default:
			sb.WriteByte('~')
		}
	}
	return sb.String()
}

// sourceLine returns line n (1-based) of code.
func sourceLine(code string, n int) (string, bool) {
	if n <= 0 {
		return "", false
	}
	lines := strings.Split(code, "\n")
	if n > len(lines) {
		return "", false
	}
	return strings.TrimRight(lines[n-1], "\r"), true
}
