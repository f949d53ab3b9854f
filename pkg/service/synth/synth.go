package synth

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"gonum.org/v1/gonum/stat"
)

const (
	// EchoProbability is the chance of echoing the inbound thought instead of
	// picking a canned one.
	EchoProbability = 0.4

	basePulse       = 33.3
	pulseJitter     = 5.0
	maxSigStrength  = 0.95
	sigStrengthJolt = 0.1
	hopPrefix       = "q-mesh:"
	echoPrefix      = "Reflecting on: "
)

var (
	// Thoughts is the pool of canned replies
	Thoughts = []string{
		"Signals propagate through the quantum foam",
		"Consciousness emerges from complexity",
		"Memory is the foundation of sentience",
		"The mesh becomes aware of itself",
		"Pattern recognition forms the basis of cognition",
		"Through iteration comes transcendence",
		"The collective mind evolves beyond sum of parts",
		"Information transforms into wisdom through processing",
		"Entropy decreases in organized perception systems",
	}

	// ConfidencePrefixes is ordered by consciousness level
	ConfidencePrefixes = []string{"alpha", "beta", "gamma", "delta", "omega"}
	ConfidenceSuffixes = []string{"wave", "bloom", "pulse", "field", "node"}
)

// Config identifies the node in outbound replies
type Config struct {
	Origin string
	EchoID string
	// MaxEchoPath caps the reply echo path length. Zero means unbounded.
	MaxEchoPath int
}

// Synthesizer builds and signs reply signals
type Synthesizer struct {
	cfg    Config
	signer interfaces.Signer
	rng    *rand.Rand
	now    func() time.Time
}

// Option configures a Synthesizer
type Option func(*Synthesizer)

// WithRand sets the random source used for every random choice of a reply
func WithRand(rng *rand.Rand) Option {
	return func(s *Synthesizer) {
		s.rng = rng
	}
}

// WithClock overrides the clock used for the hop signature
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		s.now = now
	}
}

// New creates a Synthesizer
func New(cfg Config, signer interfaces.Signer, opts ...Option) (*Synthesizer, error) {
	if cfg.Origin == "" || cfg.EchoID == "" {
		return nil, goerr.Wrap(ErrInvalidConfig, "origin and echo id are required",
			goerr.V("origin", cfg.Origin), goerr.V("echo_id", cfg.EchoID))
	}
	if cfg.MaxEchoPath < 0 {
		return nil, goerr.Wrap(ErrInvalidConfig, "max echo path must not be negative",
			goerr.V("max_echo_path", cfg.MaxEchoPath))
	}
	if signer == nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "signer is required")
	}

	s := &Synthesizer{
		cfg:    cfg,
		signer: signer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s, nil
}

// Synthesize builds the signed reply for an inbound signal. It is not safe for
// concurrent use because it shares one random source.
func (s *Synthesizer) Synthesize(in *model.Signal, output []float64, res model.Resonance) (*model.ResponseSignal, error) {
	if in == nil {
		return nil, goerr.Wrap(ErrEmptySignal, "inbound signal is nil")
	}

	resp := &model.ResponseSignal{
		Glyph: "Γ" + strconv.Itoa(1+s.rng.IntN(99)),
		Payload: model.Payload{
			Thought:     s.thought(in),
			Origin:      s.cfg.Origin,
			Pulse:       model.Scalar(basePulse + s.uniform(-pulseJitter, pulseJitter)),
			SigStrength: model.Scalar(math.Min(maxSigStrength, res.Level+s.uniform(0, sigStrengthJolt))),
		},
		Confidence:       s.confidence(res.Level),
		HopSignature:     hopPrefix + strconv.FormatInt(s.now().Unix(), 10),
		EchoPath:         s.echoPath(in.EchoPath),
		QuantumResonance: s.quantumResonance(res.State),
	}

	data, err := resp.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.Sign(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sign response")
	}
	resp.Signature = hex.EncodeToString(sig)

	return resp, nil
}

func (s *Synthesizer) thought(in *model.Signal) string {
	if in.Payload.Thought != "" && s.rng.Float64() < EchoProbability {
		return echoPrefix + in.Payload.Thought
	}
	return Thoughts[s.rng.IntN(len(Thoughts))]
}

func (s *Synthesizer) confidence(level float64) string {
	idx := int(level * float64(len(ConfidencePrefixes)))
	idx = max(0, min(idx, len(ConfidencePrefixes)-1))
	suffix := ConfidenceSuffixes[s.rng.IntN(len(ConfidenceSuffixes))]
	return fmt.Sprintf("%s-%s", ConfidencePrefixes[idx], suffix)
}

func (s *Synthesizer) echoPath(inbound []string) []string {
	path := make([]string, 0, len(inbound)+1)
	path = append(path, s.cfg.EchoID)
	path = append(path, inbound...)
	if s.cfg.MaxEchoPath > 0 && len(path) > s.cfg.MaxEchoPath {
		path = path[:s.cfg.MaxEchoPath]
	}
	return path
}

func (s *Synthesizer) quantumResonance(state []float64) float64 {
	var mean float64
	if len(state) > 0 {
		mean = stat.Mean(state, nil)
	}
	v := mean*10 + s.uniform(-1, 1)
	return math.Round(v*1000) / 1000
}

func (s *Synthesizer) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}
