package file

import "errors"

var (
	// ErrCorruption is returned when the persisted vault cannot be reconciled,
	// e.g. the vectors file and the metadata file disagree in length.
	ErrCorruption = errors.New("vault corruption")

	// ErrClosed is returned by Add after Close
	ErrClosed = errors.New("vault is closed")

	// ErrReadOnly is returned by writes on a vault opened WithReadOnly
	ErrReadOnly = errors.New("vault is read-only")
)

// Context keys for error values
const (
	PathKey      = "path"
	VectorsKey   = "vectors"
	RecordsKey   = "records"
	LineKey      = "line"
	DimensionKey = "dimension"
)
