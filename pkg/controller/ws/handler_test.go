package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/controller/ws"
	"github.com/secmon-lab/titan/pkg/domain/model"
)

type echoProcessor struct {
	calls atomic.Int64
}

func (p *echoProcessor) Process(_ context.Context, sig *model.Signal) (*model.ResponseSignal, error) {
	p.calls.Add(1)
	if sig.Glyph == "fail" {
		return nil, errors.New("pipeline failure")
	}
	return &model.ResponseSignal{
		Glyph:    "Γ" + sig.Glyph,
		EchoPath: append([]string{"TN-test"}, sig.EchoPath...),
	}, nil
}

func startServer(t *testing.T, proc ws.SignalProcessor, peers *ws.PeerSet) string {
	t.Helper()
	srv := httptest.NewServer(ws.New(proc, peers))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) *model.ResponseSignal {
	t.Helper()
	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second))).Required()
	_, data, err := conn.ReadMessage()
	gt.NoError(t, err).Required()

	var resp model.ResponseSignal
	gt.NoError(t, json.Unmarshal(data, &resp)).Required()
	return &resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_RepliesToSignal(t *testing.T) {
	conn := dial(t, startServer(t, &echoProcessor{}, ws.NewPeerSet()))

	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"glyph":"7","echo_path":["EM-abc"]}`))).Required()
	resp := readReply(t, conn)
	gt.Value(t, resp.Glyph).Equal("Γ7")
	gt.Value(t, resp.EchoPath).Equal([]string{"TN-test", "EM-abc"})
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	proc := &echoProcessor{}
	conn := dial(t, startServer(t, proc, ws.NewPeerSet()))

	for _, frame := range []string{`not json`, `[1,2,3]`, `{"glyph":`} {
		gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame))).Required()
	}
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"glyph":"ok"}`))).Required()

	// the first frame read back answers the only valid signal
	resp := readReply(t, conn)
	gt.Value(t, resp.Glyph).Equal("Γok")
	gt.Value(t, proc.calls.Load()).Equal(int64(1))
}

func TestHandler_ProcessErrorSendsNoReply(t *testing.T) {
	proc := &echoProcessor{}
	conn := dial(t, startServer(t, proc, ws.NewPeerSet()))

	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"glyph":"fail"}`))).Required()
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"glyph":"next"}`))).Required()

	resp := readReply(t, conn)
	gt.Value(t, resp.Glyph).Equal("Γnext")
	gt.Value(t, proc.calls.Load()).Equal(int64(2))
}

func TestHandler_BinaryFrame(t *testing.T) {
	conn := dial(t, startServer(t, &echoProcessor{}, ws.NewPeerSet()))

	gt.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"glyph":"b"}`))).Required()
	gt.Value(t, readReply(t, conn).Glyph).Equal("Γb")
}

func TestHandler_PeerTracking(t *testing.T) {
	peers := ws.NewPeerSet()
	url := startServer(t, &echoProcessor{}, peers)

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err).Required()
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err).Required()

	waitFor(t, func() bool { return peers.Count() == 2 })
	gt.Array(t, peers.List()).Length(2)

	gt.NoError(t, a.Close()).Required()
	waitFor(t, func() bool { return peers.Count() == 1 })

	gt.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))).Required()
	waitFor(t, func() bool { return peers.Count() == 0 })
	_ = b.Close()
}

func TestPeerSet(t *testing.T) {
	s := ws.NewPeerSet()
	gt.Value(t, s.Add("10.0.0.2:1000")).Equal(1)
	gt.Value(t, s.Add("10.0.0.1:1000")).Equal(2)
	gt.Value(t, s.Add("10.0.0.1:1000")).Equal(2)
	gt.Value(t, s.List()).Equal([]string{"10.0.0.1:1000", "10.0.0.2:1000"})
	gt.Value(t, s.Remove("10.0.0.2:1000")).Equal(1)
	gt.Value(t, s.Remove("unknown")).Equal(1)
	gt.Value(t, s.Count()).Equal(1)
}

func TestHandler_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	peers := ws.NewPeerSet()
	h := ws.New(&echoProcessor{}, peers)

	srv := httptest.NewUnstartedServer(h)
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitFor(t, func() bool { return peers.Count() == 1 })

	cancel()

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second))).Required()
	_, _, err := conn.ReadMessage()
	gt.Bool(t, websocket.IsCloseError(err, websocket.CloseGoingAway)).True()

	waitDone := make(chan struct{})
	go func() {
		h.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish")
	}
	gt.Value(t, peers.Count()).Equal(0)
}

func TestHandler_RefusesUpgradeAfterShutdown(t *testing.T) {
	t.Run("base context already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		peers := ws.NewPeerSet()
		h := ws.New(&echoProcessor{}, peers)

		srv := httptest.NewUnstartedServer(h)
		srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
		srv.Start()
		defer srv.Close()

		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		gt.Error(t, err).Is(websocket.ErrBadHandshake)
		gt.Value(t, resp).NotNil()
		gt.Value(t, resp.StatusCode).Equal(http.StatusServiceUnavailable)
		gt.Value(t, peers.Count()).Equal(0)

		h.Wait()
	})

	t.Run("handler already drained", func(t *testing.T) {
		peers := ws.NewPeerSet()
		h := ws.New(&echoProcessor{}, peers)
		srv := httptest.NewServer(h)
		defer srv.Close()

		h.Wait()

		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		gt.Error(t, err).Is(websocket.ErrBadHandshake)
		gt.Value(t, resp.StatusCode).Equal(http.StatusServiceUnavailable)
		gt.Value(t, peers.Count()).Equal(0)
	})
}
