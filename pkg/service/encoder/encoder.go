package encoder

import "github.com/secmon-lab/titan/pkg/domain/model"

// DefaultDimension is the feature vector length used by a node unless configured otherwise
const DefaultDimension = 64

// Encoder maps a Signal to a fixed-length feature vector. It holds no state
// besides the dimension and is safe for concurrent use.
type Encoder struct {
	dimension int
}

// New creates an Encoder producing vectors of the given dimension
func New(dimension int) *Encoder {
	return &Encoder{dimension: dimension}
}

// Dimension returns the length of the vectors produced by Encode
func (e *Encoder) Dimension() int {
	return e.dimension
}

// Encode derives scalar features from the signal in a fixed field order and
// zero-pads or truncates them to the encoder dimension. Missing fields count
// as zero.
func (e *Encoder) Encode(sig *model.Signal) []float64 {
	out := make([]float64, e.dimension)
	if sig == nil {
		return out
	}

	features := [...]float64{
		codePointSum(sig.Glyph) / 100.0,
		codePointSum(sig.Payload.Thought) / 1000.0,
		codePointSum(sig.Payload.Origin) / 100.0,
		sig.Payload.Pulse.Float64() / 100.0,
		sig.Payload.SigStrength.Float64(),
		codePointSum(sig.Confidence) / 100.0,
		codePointSum(sig.HopSignature) / 100.0,
	}

	copy(out, features[:])
	return out
}

func codePointSum(s string) float64 {
	var sum int
	for _, r := range s {
		sum += int(r)
	}
	return float64(sum)
}
