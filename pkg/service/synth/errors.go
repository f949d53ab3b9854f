package synth

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid synthesizer configuration")
	ErrEmptySignal   = errors.New("empty inbound signal")
)
