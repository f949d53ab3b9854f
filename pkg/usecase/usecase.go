package usecase

import (
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/service/encoder"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/service/resonance"
	"github.com/secmon-lab/titan/pkg/service/synth"
	"github.com/secmon-lab/titan/pkg/service/transform"
)

// Pipeline bundles the stages one node runs for every signal
type Pipeline struct {
	Encoder     *encoder.Encoder
	Transform   *transform.Network
	Evolver     *resonance.Evolver
	Vault       interfaces.VaultRepository
	Synthesizer *synth.Synthesizer
}

type UseCases struct {
	nodeID  string
	role    types.Role
	peers   interfaces.PeerCounter
	metrics *metrics.Collector
	Signal  *SignalUseCase
}

type Option func(*UseCases)

// WithNode sets the identity reported by Status
func WithNode(nodeID string, role types.Role) Option {
	return func(uc *UseCases) {
		uc.nodeID = nodeID
		uc.role = role
	}
}

// WithPeers sets the source of the connected peer count
func WithPeers(peers interfaces.PeerCounter) Option {
	return func(uc *UseCases) {
		uc.peers = peers
	}
}

// WithMetrics enables Prometheus instrumentation of the pipeline
func WithMetrics(c *metrics.Collector) Option {
	return func(uc *UseCases) {
		uc.metrics = c
	}
}

func New(p Pipeline, opts ...Option) (*UseCases, error) {
	uc := &UseCases{}
	for _, opt := range opts {
		opt(uc)
	}

	signal, err := NewSignalUseCase(p, uc.nodeID, uc.role, uc.peers, uc.metrics)
	if err != nil {
		return nil, err
	}
	uc.Signal = signal

	return uc, nil
}
