package transform

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid transform configuration")
	ErrShapeMismatch = errors.New("vector shape mismatch")
)
