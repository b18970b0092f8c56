// Package admin exposes the dispatcher's operational surface over
// HTTP: health, Prometheus metrics, a point-in-time state dump, and a
// websocket feed of lifecycle events. None of it is on the dispatcher's
// hot path — every handler reads a snapshot or a fan-out subscription,
// never the dispatcher's own control-loop state directly, matching
// spec.md 5's single-owner-goroutine rule for dispatcher internals.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/helium/gateway-dispatcher/internal/events"
	"github.com/helium/gateway-dispatcher/internal/metrics"
	"github.com/rs/zerolog"
)

// StateProvider is the slice of *dispatcher.Dispatcher the admin server
// needs: a thread-safe state snapshot. Defined here (not imported from
// internal/dispatcher) to avoid a dependency cycle and to keep this
// package's surface minimal.
type StateProvider interface {
	State() any
}

// Server is the admin HTTP surface. Construct with New, then Serve on a
// listener (or use ListenAndServe for a self-managed one).
type Server struct {
	log      zerolog.Logger
	mux      chi.Router
	metrics  *metrics.Set
	events   *events.Bus
	state    StateProvider
	upgrader websocket.Upgrader
}

// New builds a Server. metricsSet, eventBus, and state may all be nil;
// the corresponding endpoints then report themselves unavailable rather
// than panicking.
func New(log zerolog.Logger, metricsSet *metrics.Set, eventBus *events.Bus, state StateProvider) *Server {
	s := &Server{
		log:     log.With().Str("component", "admin").Logger(),
		metrics: metricsSet,
		events:  eventBus,
		state:   state,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/debug/state", s.handleState)
	r.Get("/debug/events", s.handleEvents)
	s.mux = r
	return s
}

// Handler returns the admin server's http.Handler, for embedding in a
// larger mux or wrapping with additional middleware.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts a dedicated HTTP server for the admin surface
// on addr, returning once the server stops with an error (nil if it was
// closed via http.ErrServerClosed).
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	s.log.Info().Str("addr", addr).Msg("admin server listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not configured", http.StatusServiceUnavailable)
		return
	}
	s.metrics.WritePrometheus(w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.state == nil {
		http.Error(w, "state not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.state.State())
}

// handleEvents upgrades to a websocket and streams dispatcher lifecycle
// events as they occur, mirroring the teacher's
// stages/websocket.go server-mode broadcast: a slow client has events
// dropped for it, never the connection forcibly blocked.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "events not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)
	for ev := range sub {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug().Err(err).Msg("debug/events client disconnected")
			return
		}
	}
}

