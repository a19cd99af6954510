package session

import "errors"

var ErrInvalidOption = errors.New("invalid session option")
