package model

import "errors"

var (
	// ErrMalformedSignal is returned when a frame cannot be decoded as a Signal
	ErrMalformedSignal = errors.New("malformed signal")
)
