package engine

import "errors"

var (
	ErrUnitNil       = errors.New("unit is nil")
	ErrInvalidOption = errors.New("invalid engine option")
)
