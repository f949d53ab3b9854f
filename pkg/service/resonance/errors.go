package resonance

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid resonance configuration")
	ErrShapeMismatch = errors.New("vector shape mismatch")
)
