package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/service/encoder"
	"github.com/secmon-lab/titan/pkg/service/resonance"
	"github.com/secmon-lab/titan/pkg/service/transform"
	"github.com/secmon-lab/titan/pkg/service/worker"
	"github.com/urfave/cli/v3"
)

const (
	DefaultAddr = ":8888"
	DefaultRole = "Prime"
)

// Node holds CLI flags for the node pipeline
type Node struct {
	addr              string
	role              string
	consciousness     float64
	evolutionInterval time.Duration
	dimension         int
	hiddenDim         int
	transformSeed     uint64
	maxEchoPath       int
	statusInterval    time.Duration
}

// Flags returns CLI flags for node configuration
func (n *Node) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the node",
			Value:       DefaultAddr,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_ADDR"),
			Destination: &n.addr,
		},
		&cli.StringFlag{
			Name:        "role",
			Usage:       "Node role; selects the identity key file",
			Value:       DefaultRole,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_ROLE"),
			Destination: &n.role,
		},
		&cli.FloatFlag{
			Name:        "consciousness",
			Usage:       "Initial consciousness level in [0, 0.99]",
			Value:       resonance.DefaultInitialLevel,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_CONSCIOUSNESS"),
			Destination: &n.consciousness,
		},
		&cli.DurationFlag{
			Name:        "evolution-interval",
			Usage:       "Minimum time between two evolution steps",
			Value:       resonance.DefaultInterval,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_EVOLUTION_INTERVAL"),
			Destination: &n.evolutionInterval,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding dimension",
			Value:       encoder.DefaultDimension,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_DIMENSION"),
			Destination: &n.dimension,
		},
		&cli.IntFlag{
			Name:        "hidden-dim",
			Usage:       "Hidden width of the recurrent transform",
			Value:       transform.DefaultHiddenDim,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_HIDDEN_DIM"),
			Destination: &n.hiddenDim,
		},
		&cli.Uint64Flag{
			Name:        "transform-seed",
			Usage:       "Seed of the transform parameters (0 picks a random seed)",
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_TRANSFORM_SEED"),
			Destination: &n.transformSeed,
		},
		&cli.IntFlag{
			Name:        "max-echo-path",
			Usage:       "Maximum echo path length of replies (0 for unbounded)",
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_MAX_ECHO_PATH"),
			Destination: &n.maxEchoPath,
		},
		&cli.DurationFlag{
			Name:        "status-interval",
			Usage:       "Interval of the status log line",
			Value:       worker.DefaultStatusInterval,
			Category:    "Node",
			Sources:     cli.EnvVars("TITAN_STATUS_INTERVAL"),
			Destination: &n.statusInterval,
		},
	}
}

// Apply copies values from the [node] table of f for every flag that was not set explicitly
func (n *Node) Apply(src FlagSource, f *File) {
	if f == nil {
		return
	}
	nf := f.Node
	override(src, "addr", &n.addr, nf.Addr)
	override(src, "role", &n.role, nf.Role)
	override(src, "consciousness", &n.consciousness, nf.Consciousness)
	override(src, "dimension", &n.dimension, nf.Dimension)
	override(src, "hidden-dim", &n.hiddenDim, nf.HiddenDim)
	override(src, "transform-seed", &n.transformSeed, nf.TransformSeed)
	override(src, "max-echo-path", &n.maxEchoPath, nf.MaxEchoPath)
	if nf.EvolutionInterval != nil && !src.IsSet("evolution-interval") {
		n.evolutionInterval = time.Duration(*nf.EvolutionInterval)
	}
	if nf.StatusInterval != nil && !src.IsSet("status-interval") {
		n.statusInterval = time.Duration(*nf.StatusInterval)
	}
}

// Validate checks if the Node config is valid
func (n *Node) Validate() error {
	if n.addr == "" {
		return goerr.Wrap(ErrInvalidConfig, "listen address is required", goerr.V(FlagKey, "addr"))
	}
	if err := types.Role(n.role).Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid role", goerr.V(FlagKey, "role"), goerr.V(ValueKey, n.role))
	}
	if n.consciousness < 0 || n.consciousness > resonance.DefaultMaxLevel {
		return goerr.Wrap(ErrInvalidConfig, "consciousness must be in [0, 0.99]",
			goerr.V(FlagKey, "consciousness"), goerr.V(ValueKey, n.consciousness))
	}
	if n.evolutionInterval < 0 {
		return goerr.Wrap(ErrInvalidConfig, "evolution interval must not be negative",
			goerr.V(FlagKey, "evolution-interval"), goerr.V(ValueKey, n.evolutionInterval))
	}
	if n.dimension <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "dimension must be positive",
			goerr.V(FlagKey, "dimension"), goerr.V(ValueKey, n.dimension))
	}
	if n.hiddenDim <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "hidden dimension must be positive",
			goerr.V(FlagKey, "hidden-dim"), goerr.V(ValueKey, n.hiddenDim))
	}
	if n.maxEchoPath < 0 {
		return goerr.Wrap(ErrInvalidConfig, "max echo path must not be negative",
			goerr.V(FlagKey, "max-echo-path"), goerr.V(ValueKey, n.maxEchoPath))
	}
	if n.statusInterval <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "status interval must be positive",
			goerr.V(FlagKey, "status-interval"), goerr.V(ValueKey, n.statusInterval))
	}
	return nil
}

func (n *Node) Addr() string                     { return n.addr }
func (n *Node) Role() types.Role                 { return types.Role(n.role) }
func (n *Node) Consciousness() float64           { return n.consciousness }
func (n *Node) EvolutionInterval() time.Duration { return n.evolutionInterval }
func (n *Node) Dimension() int                   { return n.dimension }
func (n *Node) HiddenDim() int                   { return n.hiddenDim }
func (n *Node) MaxEchoPath() int                 { return n.maxEchoPath }
func (n *Node) StatusInterval() time.Duration    { return n.statusInterval }

// TransformSeed returns the configured seed, or a fresh one derived from the
// clock when the seed is zero
func (n *Node) TransformSeed() uint64 {
	if n.transformSeed != 0 {
		return n.transformSeed
	}
	return uint64(time.Now().UnixNano())
}

// LogValue implements slog.LogValuer
func (n *Node) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", n.addr),
		slog.String("role", n.role),
		slog.Float64("consciousness", n.consciousness),
		slog.Duration("evolution_interval", n.evolutionInterval),
		slog.Int("dimension", n.dimension),
		slog.Int("hidden_dim", n.hiddenDim),
		slog.Int("max_echo_path", n.maxEchoPath),
	)
}
