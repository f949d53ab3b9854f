package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/utils/errutil"
)

// StatusSource provides read-only node snapshots
type StatusSource interface {
	Status() model.NodeStatus
}

// KeySource exposes the node public key
type KeySource interface {
	JWKS() (jwk.Set, error)
}

type Server struct {
	router  *chi.Mux
	status  StatusSource
	keys    KeySource
	metrics *metrics.Collector
}

type Options func(*Server)

func WithStatus(src StatusSource) Options {
	return func(s *Server) {
		s.status = src
	}
}

func WithKeys(src KeySource) Options {
	return func(s *Server) {
		s.keys = src
	}
}

func WithMetrics(c *metrics.Collector) Options {
	return func(s *Server) {
		s.metrics = c
	}
}

// New builds the node router. wsHandler serves the peer websocket endpoint.
func New(wsHandler http.Handler, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger(s.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/ws", wsHandler.ServeHTTP)
	// bare node address, as dialled by older emitters
	r.Get("/", wsHandler.ServeHTTP)
	r.Get("/healthz", healthHandler)

	if s.status != nil {
		r.Get("/status", statusHandler(s.status))
	}
	if s.keys != nil {
		r.Get("/identity", identityHandler(s.keys))
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok")) //nolint:errcheck // header already committed
}

// statusHandler serves the node counters as JSON
func statusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, src.Status())
	}
}

// identityHandler serves the node public key set so peers can verify reply signatures
func identityHandler(src KeySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := src.JWKS()
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to export node key"), http.StatusInternalServerError)
			return
		}
		writeJSON(w, r, set)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data) //nolint:errcheck // header already committed
}
