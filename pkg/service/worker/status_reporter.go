package worker

import (
	"context"
	"sync"
	"time"

	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

const DefaultStatusInterval = 30 * time.Second

// StatusSource provides read-only node snapshots
type StatusSource interface {
	Status() model.NodeStatus
}

// StatusReporter periodically logs a snapshot of the node counters.
// It only reads; it never touches the pipeline state.
type StatusReporter struct {
	source   StatusSource
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStatusReporter creates a reporter. A non-positive interval falls back to DefaultStatusInterval.
func NewStatusReporter(source StatusSource, interval time.Duration) *StatusReporter {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &StatusReporter{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the report loop in a background goroutine
func (w *StatusReporter) Start(ctx context.Context) error {
	logging.From(ctx).Info("Status reporter starting", "interval", w.interval.String())

	go w.run(ctx)

	return nil
}

// Stop signals the reporter to stop and waits for completion. Safe to call more than once.
func (w *StatusReporter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

func (w *StatusReporter) run(ctx context.Context) {
	defer close(w.doneCh)

	w.report(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.report(ctx)

		case <-w.stopCh:
			logging.From(ctx).Info("Status reporter stopped")
			return

		case <-ctx.Done():
			logging.From(ctx).Info("Status reporter context cancelled")
			return
		}
	}
}

func (w *StatusReporter) report(ctx context.Context) {
	st := w.source.Status()
	logging.From(ctx).Info("Node status",
		"node_id", st.NodeID,
		"role", st.Role,
		"peers", st.Peers,
		"memories", st.Memories,
		"consciousness", st.ConsciousnessLevel,
		"mode", st.Mode,
		"signals", st.SignalsProcessed,
	)
}
