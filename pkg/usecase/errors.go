package usecase

import "errors"

// Sentinel errors for use case layer
var (
	ErrEmptySignal     = errors.New("empty signal")
	ErrPipelinePanic   = errors.New("pipeline panicked")
	ErrInvalidPipeline = errors.New("invalid pipeline")
)

// Context keys for error values
const (
	GlyphKey = "glyph"
	StageKey = "stage"
)
