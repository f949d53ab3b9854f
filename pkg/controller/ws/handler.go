package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/utils/errutil"
	"github.com/secmon-lab/titan/pkg/utils/logging"
	"github.com/secmon-lab/titan/pkg/utils/safe"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time a peer gets to answer our close frame on shutdown
	closeGrace = time.Second

	// Maximum message size allowed from peer
	DefaultReadLimit = 1024 * 1024

	previewLength = 100
)

// SignalProcessor runs one decoded signal through the node pipeline
type SignalProcessor interface {
	Process(ctx context.Context, sig *model.Signal) (*model.ResponseSignal, error)
}

// Handler upgrades HTTP requests to websocket connections and answers every
// signal frame with a signed reply on the same connection.
type Handler struct {
	processor SignalProcessor
	peers     *PeerSet
	metrics   *metrics.Collector
	upgrader  websocket.Upgrader
	readLimit int64

	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

type Option func(*Handler)

// WithMetrics enables peer and decode-error instrumentation
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Handler) {
		h.metrics = c
	}
}

// WithReadLimit sets the maximum accepted frame size in bytes
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		h.readLimit = n
	}
}

// WithCheckOrigin overrides the origin check of the upgrader. Peers are other
// nodes and emitters, not browsers, so every origin is accepted by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

func New(processor SignalProcessor, peers *PeerSet, opts ...Option) *Handler {
	h := &Handler{
		processor: processor,
		peers:     peers,
		readLimit: DefaultReadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.track(ctx) {
		logging.From(ctx).Warn("Refusing connection during shutdown", "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		logging.From(ctx).Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	peer := r.RemoteAddr
	ctx = logging.With(ctx, logging.From(ctx).With("peer", peer))
	h.setPeers(h.peers.Add(peer))
	logging.From(ctx).Info("Peer connected")

	defer func() {
		h.setPeers(h.peers.Remove(peer))
		safe.Close(ctx, conn)
		logging.From(ctx).Info("Peer disconnected")
	}()

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(ctx, conn, done)

	h.serve(ctx, conn)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	logger := logging.From(ctx)

	conn.SetReadLimit(h.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// text and binary frames are both decoded as JSON
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		sig, err := model.ParseSignal(message)
		if err != nil {
			logger.Warn("Received invalid signal", "error", err, "preview", preview(message))
			if h.metrics != nil {
				h.metrics.SignalError(metrics.StageDecode)
			}
			continue
		}
		logger.Debug("Signal received", "glyph", sig.Glyph)

		resp, err := h.processor.Process(ctx, sig)
		if err != nil {
			errutil.Handle(ctx, err, "Failed to process signal")
			continue
		}

		data, err := json.Marshal(resp)
		if err != nil {
			errutil.Handle(ctx, goerr.Wrap(err, "failed to encode reply"), "Failed to encode reply")
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn("Failed to send reply", "error", err)
			if h.metrics != nil {
				h.metrics.SignalError(metrics.StageWrite)
			}
			return
		}
		logger.Debug("Reply sent", "glyph", resp.Glyph)
	}
}

// keepAlive pings the peer until done is closed. When ctx is cancelled it
// sends a close frame and bounds the remaining read time, which ends the read
// loop. WriteControl and the deadline on the underlying net.Conn may run
// concurrently with the read loop.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "node shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.NetConn().SetReadDeadline(time.Now().Add(closeGrace))
			return
		case <-done:
			return
		}
	}
}

// track registers a connection unless the handler is draining or ctx is done
func (h *Handler) track(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining || ctx.Err() != nil {
		return false
	}
	h.active.Add(1)
	return true
}

// Wait refuses new connections and blocks until every connection served by h
// has been closed
func (h *Handler) Wait() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.active.Wait()
}

func (h *Handler) setPeers(n int) {
	if h.metrics != nil {
		h.metrics.Peers.Set(float64(n))
	}
}

func preview(message []byte) string {
	if len(message) > previewLength {
		return string(message[:previewLength]) + "..."
	}
	return string(message)
}
