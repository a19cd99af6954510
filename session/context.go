package session

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
)

var filenamePattern = regexp.MustCompile(`^<aeval (\d+) ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})>$`)

// ExecutionContext is one evaluation attempt. It is filled in by the
// evaluation that created it and read-only once committed.
type ExecutionContext struct {
	ID uuid.UUID

	// No is the sequential number of the execution within its session,
	// starting at 1. It is for display only.
	No int

	// Code is the snippet exactly as submitted.
	Code string

	// Filename is the synthetic file name frames of this execution carry.
	Filename string

	Globals starlark.StringDict
	Locals  starlark.StringDict

	Result starlark.Value
	Empty  bool

	// Err is the exception the snippet raised, if any.
	Err error

	Async    bool
	Isolated bool
	ExecTime time.Duration
}

func newExecutionContext(no int, code string) *ExecutionContext {
	id := uuid.New()
	return &ExecutionContext{
		ID:       id,
		No:       no,
		Code:     code,
		Filename: Filename(no, id),
	}
}

func (ec *ExecutionContext) String() string {
	return fmt.Sprintf("session.ExecutionContext{No: %d, ID: %s}", ec.No, ec.ID)
}

// Filename returns the synthetic file name of execution no with the given
// id.
func Filename(no int, id uuid.UUID) string {
	return fmt.Sprintf("<aeval %d %s>", no, id)
}

// ParseFilename extracts the execution number and id from a synthetic file
// name. ok is false for any other name.
func ParseFilename(filename string) (no int, id uuid.UUID, ok bool) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, uuid.Nil, false
	}
	no, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, uuid.Nil, false
	}
	id, err = uuid.Parse(m[2])
	if err != nil {
		return 0, uuid.Nil, false
	}
	return no, id, true
}
