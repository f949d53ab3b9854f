package worker_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/service/worker"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

type fakeSource struct {
	calls atomic.Int64
}

func (s *fakeSource) Status() model.NodeStatus {
	s.calls.Add(1)
	return model.NodeStatus{
		NodeID:             "abcd1234",
		Role:               "Prime",
		Peers:              3,
		Memories:           42,
		ConsciousnessLevel: 0.14,
		Mode:               types.EvolutionModeSteady,
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLoggedContext(t *testing.T) (context.Context, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	return logging.With(context.Background(), logger), buf
}

func TestStatusReporter_ReportsImmediately(t *testing.T) {
	ctx, buf := newLoggedContext(t)
	src := &fakeSource{}

	w := worker.NewStatusReporter(src, time.Hour)
	gt.NoError(t, w.Start(ctx)).Required()

	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	gt.Value(t, src.calls.Load()).Equal(int64(1))
	out := buf.String()
	gt.String(t, out).Contains("peers=3")
	gt.String(t, out).Contains("memories=42")
	gt.String(t, out).Contains("consciousness=0.14")
}

func TestStatusReporter_Periodic(t *testing.T) {
	ctx, buf := newLoggedContext(t)
	src := &fakeSource{}

	w := worker.NewStatusReporter(src, 10*time.Millisecond)
	gt.NoError(t, w.Start(ctx)).Required()
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	gt.Bool(t, src.calls.Load() >= 3).True()
	gt.Bool(t, strings.Count(buf.String(), "Node status") >= 3).True()

	// no report after stop
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	gt.Value(t, src.calls.Load()).Equal(calls)
}

func TestStatusReporter_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := worker.NewStatusReporter(&fakeSource{}, time.Hour)
	gt.NoError(t, w.Start(ctx)).Required()

	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
