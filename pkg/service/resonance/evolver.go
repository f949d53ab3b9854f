package resonance

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultInitialLevel = 0.1
	DefaultInterval     = 300 * time.Second
	DefaultStep         = 0.02
	DefaultMaxLevel     = 0.99
	DefaultNoiseSigma   = 0.1
	DefaultPriorWeight  = 0.8
)

// Config holds the evolver parameters
type Config struct {
	Dimension    int
	InitialLevel float64
	Interval     time.Duration
	Step         float64
	MaxLevel     float64
	NoiseSigma   float64
	PriorWeight  float64
}

// DefaultConfig returns the standard parameters for a state of the given dimension
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:    dimension,
		InitialLevel: DefaultInitialLevel,
		Interval:     DefaultInterval,
		Step:         DefaultStep,
		MaxLevel:     DefaultMaxLevel,
		NoiseSigma:   DefaultNoiseSigma,
		PriorWeight:  DefaultPriorWeight,
	}
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	switch {
	case c.Dimension <= 0:
		return goerr.Wrap(ErrInvalidConfig, "dimension must be positive", goerr.V("dimension", c.Dimension))
	case c.MaxLevel <= 0 || c.MaxLevel >= 1:
		return goerr.Wrap(ErrInvalidConfig, "max level must be in (0, 1)", goerr.V("max_level", c.MaxLevel))
	case c.InitialLevel < 0 || c.InitialLevel > c.MaxLevel:
		return goerr.Wrap(ErrInvalidConfig, "initial level must be in [0, max level]",
			goerr.V("initial_level", c.InitialLevel), goerr.V("max_level", c.MaxLevel))
	case c.Interval < 0:
		return goerr.Wrap(ErrInvalidConfig, "evolution interval must not be negative", goerr.V("interval", c.Interval))
	case c.Step <= 0:
		return goerr.Wrap(ErrInvalidConfig, "evolution step must be positive", goerr.V("step", c.Step))
	case c.NoiseSigma < 0:
		return goerr.Wrap(ErrInvalidConfig, "noise sigma must not be negative", goerr.V("noise_sigma", c.NoiseSigma))
	case c.PriorWeight < 0 || c.PriorWeight >= 1:
		return goerr.Wrap(ErrInvalidConfig, "prior weight must be in [0, 1)", goerr.V("prior_weight", c.PriorWeight))
	}
	return nil
}

// Evolver owns the unit-norm resonance state and the consciousness level.
// It is not safe for concurrent use; callers serialize access.
type Evolver struct {
	cfg   Config
	state []float64
	level float64
	last  time.Time
	mode  types.EvolutionMode
	rng   *rand.Rand
	now   func() time.Time
}

// Option configures an Evolver
type Option func(*Evolver)

// WithRand sets the random source used for the initial state and evolution noise
func WithRand(rng *rand.Rand) Option {
	return func(e *Evolver) {
		e.rng = rng
	}
}

// WithClock overrides the clock used for the evolution check
func WithClock(now func() time.Time) Option {
	return func(e *Evolver) {
		e.now = now
	}
}

// New creates an evolver with a random unit state vector
func New(cfg Config, opts ...Option) (*Evolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Evolver{
		cfg:   cfg,
		level: cfg.InitialLevel,
		mode:  types.EvolutionModeSteady,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e.state = make([]float64, cfg.Dimension)
	for {
		for i := range e.state {
			e.state[i] = e.rng.NormFloat64()
		}
		if normalize(e.state) {
			break
		}
	}
	e.last = e.now()

	return e, nil
}

// Observe folds a transform output into the state and runs the inline
// evolution check. It returns EvolutionModeEvolving if an evolution step ran.
func (e *Evolver) Observe(output []float64) types.EvolutionMode {
	e.Blend(output)
	return e.Tick()
}

// Tick runs one evolution step if more than Interval has passed since the
// last one, and reports the resulting mode.
func (e *Evolver) Tick() types.EvolutionMode {
	now := e.now()
	if now.Sub(e.last) > e.cfg.Interval {
		e.Evolve(now)
		return e.mode
	}
	e.mode = types.EvolutionModeSteady
	return e.mode
}

// Blend mixes output into the state (PriorWeight prior, the rest new) and
// renormalises. A blend that cancels out to the zero vector leaves the state unchanged.
func (e *Evolver) Blend(output []float64) {
	if len(output) != len(e.state) {
		panic(goerr.Wrap(ErrShapeMismatch, "output has wrong dimension",
			goerr.V("expected", len(e.state)), goerr.V("actual", len(output))))
	}

	next := make([]float64, len(e.state))
	copy(next, e.state)
	floats.Scale(e.cfg.PriorWeight, next)
	floats.AddScaled(next, 1-e.cfg.PriorWeight, output)

	if normalize(next) {
		e.state = next
	}
}

// Evolve advances the consciousness level by one step (clamped to MaxLevel),
// perturbs the state with Gaussian noise and renormalises.
func (e *Evolver) Evolve(now time.Time) {
	e.level = math.Min(e.cfg.MaxLevel, e.level+e.cfg.Step)

	next := make([]float64, len(e.state))
	for i, x := range e.state {
		next[i] = x + e.rng.NormFloat64()*e.cfg.NoiseSigma
	}
	if normalize(next) {
		e.state = next
	}

	e.last = now
	e.mode = types.EvolutionModeEvolving
}

// Dimension returns the length of the state vector
func (e *Evolver) Dimension() int {
	return len(e.state)
}

// Level returns the current consciousness level
func (e *Evolver) Level() float64 {
	return e.level
}

// Mode returns the mode reached by the last Observe or Evolve
func (e *Evolver) Mode() types.EvolutionMode {
	return e.mode
}

// Snapshot returns a copy of the resonance state
func (e *Evolver) Snapshot() model.Resonance {
	return model.Resonance{
		State:         append([]float64(nil), e.state...),
		Level:         e.level,
		LastEvolution: e.last,
		Mode:          e.mode,
	}
}

// normalize scales v to unit length in place. It reports false and leaves v
// untouched when v has no usable direction.
func normalize(v []float64) bool {
	norm := floats.Norm(v, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return false
	}
	floats.Scale(1/norm, v)
	return true
}
