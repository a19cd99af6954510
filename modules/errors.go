package modules

import "errors"

var (
	// ErrInvalidOption is returned when a registry option is invalid.
	ErrInvalidOption = errors.New("invalid option")

	// ErrModuleNotFound is the error behind every ModuleNotFoundError raised
	// by the registry.
	ErrModuleNotFound = errors.New("module not found")

	// ErrCompileFailed is returned when a module file cannot be compiled.
	ErrCompileFailed = errors.New("module compilation failed")

	// ErrContentNil is returned when a module file is empty.
	ErrContentNil = errors.New("module content is nil")

	// ErrImportCycle is returned when a Starlark module loads itself.
	ErrImportCycle = errors.New("import cycle")
)
