package model

import (
	"bytes"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// Scalar is a float64 that decodes leniently: a JSON number is taken as is
// and any other value becomes zero instead of failing the whole document.
type Scalar float64

// UnmarshalJSON implements json.Unmarshaler
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Scalar(f)
		return nil
	}

	*s = 0
	return nil
}

// Float64 returns the scalar as float64
func (s Scalar) Float64() float64 {
	return float64(s)
}

// Payload is the body of a signal
type Payload struct {
	Thought     string `json:"thought"`
	Origin      string `json:"origin"`
	Pulse       Scalar `json:"pulse"`
	SigStrength Scalar `json:"sig_strength"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Signal is an inbound message received from a peer.
// EchoPath lists the identifiers of every node that touched the signal, most recent first.
type Signal struct {
	Glyph        string         `json:"glyph"`
	Payload      Payload        `json:"payload"`
	Confidence   string         `json:"confidence"`
	HopSignature string         `json:"hop_signature"`
	EchoPath     []string       `json:"echo_path"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Signature    string         `json:"signature,omitempty"`
}

// ParseSignal decodes one frame into a Signal. The frame must be a JSON object.
func ParseSignal(data []byte) (*Signal, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, goerr.Wrap(ErrMalformedSignal, "signal frame is not a JSON object")
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, goerr.Wrap(ErrMalformedSignal, "failed to decode signal", goerr.V("cause", err.Error()))
	}
	return &sig, nil
}

// Clone returns a deep copy of the signal
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	copied := *s
	if s.EchoPath != nil {
		copied.EchoPath = append([]string(nil), s.EchoPath...)
	}
	if s.Metadata != nil {
		// Metadata is free-form JSON; a JSON round trip is the only generic deep copy.
		raw, err := json.Marshal(s.Metadata)
		if err == nil {
			var md map[string]any
			if err := json.Unmarshal(raw, &md); err == nil {
				copied.Metadata = md
			}
		}
	}
	return &copied
}

// ResponseSignal is the signed reply a node emits for every processed signal.
type ResponseSignal struct {
	Glyph            string         `json:"glyph"`
	Payload          Payload        `json:"payload"`
	Confidence       string         `json:"confidence"`
	HopSignature     string         `json:"hop_signature"`
	EchoPath         []string       `json:"echo_path"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	QuantumResonance float64        `json:"quantum_resonance"`
	Signature        string         `json:"signature,omitempty"`
}

// CanonicalBytes returns the bytes that are signed: the JSON encoding of the
// response with the signature field left out.
func (r *ResponseSignal) CanonicalBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode response for signing")
	}
	return data, nil
}
