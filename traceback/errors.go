package traceback

import "errors"

var ErrInvalidOption = errors.New("invalid traceback option")
