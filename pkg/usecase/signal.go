package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/service/transform"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

// SignalUseCase runs the node pipeline. Every step that touches the hidden
// state, the resonance state or the vault happens under one mutex, so signals
// from all connections are applied exactly once and in order.
type SignalUseCase struct {
	mu       sync.Mutex
	pipeline Pipeline
	hidden   transform.HiddenState

	nodeID  string
	role    types.Role
	peers   interfaces.PeerCounter
	metrics *metrics.Collector
	now     func() time.Time

	// read without the pipeline lock by Status
	level     atomic.Uint64
	mode      atomic.Value
	processed atomic.Uint64
}

// NewSignalUseCase checks that the stages agree on the vector dimension
func NewSignalUseCase(p Pipeline, nodeID string, role types.Role, peers interfaces.PeerCounter, collector *metrics.Collector) (*SignalUseCase, error) {
	if p.Encoder == nil || p.Transform == nil || p.Evolver == nil || p.Vault == nil || p.Synthesizer == nil {
		return nil, goerr.Wrap(ErrInvalidPipeline, "every pipeline stage is required")
	}

	dim := p.Encoder.Dimension()
	for stage, d := range map[string]int{
		"transform_input":  p.Transform.InputDim(),
		"transform_output": p.Transform.OutputDim(),
		"evolver":          p.Evolver.Dimension(),
		"vault":            p.Vault.Dimension(),
	} {
		if d != dim {
			return nil, goerr.Wrap(ErrInvalidPipeline, "stage dimension does not match encoder",
				goerr.V(StageKey, stage), goerr.V("expected", dim), goerr.V("actual", d))
		}
	}

	uc := &SignalUseCase{
		pipeline: p,
		hidden:   transform.InitialState(),
		nodeID:   nodeID,
		role:     role,
		peers:    peers,
		metrics:  collector,
		now:      time.Now,
	}
	uc.publish(p.Evolver.Level(), p.Evolver.Mode())
	if collector != nil {
		collector.Consciousness.Set(p.Evolver.Level())
		collector.VaultRecords.Set(float64(p.Vault.Count()))
	}

	return uc, nil
}

// Process runs one signal through the pipeline and returns the signed reply.
// On error nothing is sent back to the peer; state already advanced by earlier
// stages is kept.
func (uc *SignalUseCase) Process(ctx context.Context, sig *model.Signal) (resp *model.ResponseSignal, err error) {
	if sig == nil {
		return nil, goerr.Wrap(ErrEmptySignal, "signal is nil")
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	started := uc.now()
	stage := metrics.StageTransform

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = goerr.Wrap(ErrPipelinePanic, "pipeline stage panicked",
				goerr.V(StageKey, stage), goerr.V(GlyphKey, sig.Glyph), goerr.V("panic", fmt.Sprint(r)))
		}
		if err != nil && uc.metrics != nil {
			uc.metrics.SignalError(stage)
		}
	}()

	p := uc.pipeline
	features := p.Encoder.Encode(sig)
	output, next := p.Transform.Step(features, uc.hidden)
	uc.hidden = next

	p.Evolver.Blend(output)
	res := p.Evolver.Snapshot()

	stage = metrics.StageVault
	payload := model.MemoryPayload{
		Signal:             sig.Clone(),
		Timestamp:          started.UTC(),
		QuantumState:       res.State,
		ConsciousnessLevel: res.Level,
	}
	id, err := p.Vault.Add(ctx, model.ToFloat32(output), payload)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store memory", goerr.V(GlyphKey, sig.Glyph))
	}

	stage = metrics.StageSynth
	resp, err = p.Synthesizer.Synthesize(sig, output, res)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to synthesize reply", goerr.V(GlyphKey, sig.Glyph))
	}

	mode := p.Evolver.Tick()
	level := p.Evolver.Level()
	uc.publish(level, mode)
	processed := uc.processed.Add(1)

	logger := logging.From(ctx)
	if mode == types.EvolutionModeEvolving {
		logger.Info("Evolution cycle", "consciousness", level)
	}
	logger.Debug("Signal processed",
		"glyph", sig.Glyph,
		"reply", resp.Glyph,
		"memory_id", id,
		"processed", processed,
	)

	if uc.metrics != nil {
		uc.metrics.ObserveSignal(uc.now().Sub(started), mode == types.EvolutionModeEvolving, level, p.Vault.Count())
	}

	return resp, nil
}

func (uc *SignalUseCase) publish(level float64, mode types.EvolutionMode) {
	uc.level.Store(math.Float64bits(level))
	uc.mode.Store(mode)
}

// Status returns a snapshot of the node counters without taking the pipeline lock
func (uc *SignalUseCase) Status() model.NodeStatus {
	st := model.NodeStatus{
		NodeID:             uc.nodeID,
		Role:               uc.role,
		Memories:           uc.pipeline.Vault.Count(),
		ConsciousnessLevel: math.Float64frombits(uc.level.Load()),
		SignalsProcessed:   uc.processed.Load(),
	}
	if mode, ok := uc.mode.Load().(types.EvolutionMode); ok {
		st.Mode = mode
	}
	if uc.peers != nil {
		st.Peers = uc.peers.Count()
	}
	return st
}
