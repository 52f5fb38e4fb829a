package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrMalformedNumericInput = errors.New("malformed numeric input")
	ErrTransientFetch        = errors.New("transient fetch error")
	ErrTransientWrite        = errors.New("transient write error")
	ErrOutOfOrderTimestamp   = errors.New("out of order timestamp")
	ErrInvalidPairAddress    = errors.New("invalid pair address")
)
