package aeval

import "errors"

var (
	// ErrInvalidOption is returned when an evaluator option is invalid.
	ErrInvalidOption = errors.New("invalid option")

	// ErrNoDataProvider is returned by PrepareContext on an evaluator
	// without a data provider.
	ErrNoDataProvider = errors.New("no data provider available")
)
