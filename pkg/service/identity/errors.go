package identity

import "errors"

var (
	ErrInvalidKey       = errors.New("invalid node key")
	ErrInvalidSignature = errors.New("invalid signature")
)

const (
	PathKey = "path"
)
