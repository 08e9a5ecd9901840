// Package api exposes the scheduler's control surface over HTTP:
// status queries, force-hydration, pause/resume, metrics, and a
// WebSocket lifecycle event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
	"hydroflow/internal/history"
	"hydroflow/internal/scheduler"
)

type Server struct {
	r     *chi.Mux
	sched *scheduler.Scheduler
	hist  *history.Store
}

// Option tweaks server construction.
type Option func(*options)

type options struct {
	history *history.Store
	debug   bool
}

// WithHistory enables the /api/history routes over the given store.
func WithHistory(store *history.Store) Option {
	return func(o *options) { o.history = store }
}

// WithDebug mounts the pprof handlers.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

func NewServer(s *scheduler.Scheduler, opts ...Option) http.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	srv := &Server{r: r, sched: s, hist: o.history}

	r.Get("/health", srv.health)
	r.Get("/api/state", srv.state)
	r.Get("/api/metrics", srv.metrics)
	r.Get("/api/boundaries", srv.listBoundaries)
	r.Get("/api/boundaries/{id}", srv.getBoundary)
	r.Post("/api/boundaries/{id}/hydrate", srv.forceHydrate)
	r.Post("/api/boundaries/hydrate-all", srv.forceHydrateAll)
	r.Post("/api/scheduler/pause", srv.pause)
	r.Post("/api/scheduler/resume", srv.resume)
	r.Get("/api/events", srv.streamEvents)

	if o.history != nil {
		r.Get("/api/history", srv.listHistory)
	}

	if o.debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.sched.GetState())
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.sched.Metrics())
}

type boundaryResp struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	Replayed    int    `json:"replayed"`
	DurationMS  int64  `json:"duration_ms"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func toBoundaryResp(id domain.BoundaryID, st domain.Status) boundaryResp {
	resp := boundaryResp{
		ID:         id.String(),
		State:      string(st.State),
		Attempts:   st.Attempts,
		Replayed:   st.Replayed,
		DurationMS: st.Duration.Milliseconds(),
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.Format(timeFormat)
	}
	if !st.CompletedAt.IsZero() {
		resp.CompletedAt = st.CompletedAt.Format(timeFormat)
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) listBoundaries(w http.ResponseWriter, r *http.Request) {
	statuses := s.sched.Statuses()
	out := make([]boundaryResp, 0, len(statuses))
	for id, st := range statuses {
		out = append(out, toBoundaryResp(id, st))
	}
	writeJSON(w, 200, out)
}

func (s *Server) getBoundary(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseBoundaryID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	st, ok := s.sched.GetStatus(id)
	if !ok {
		http.Error(w, "not registered", 404)
		return
	}
	writeJSON(w, 200, toBoundaryResp(id, st))
}

func (s *Server) forceHydrate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseBoundaryID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.sched.ForceHydrate(id); err != nil {
		if errors.Is(err, scheduler.ErrNotRegistered) {
			http.Error(w, "not registered", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	st, _ := s.sched.GetStatus(id)
	writeJSON(w, 200, toBoundaryResp(id, st))
}

func (s *Server) forceHydrateAll(w http.ResponseWriter, r *http.Request) {
	s.sched.ForceHydrateAll()
	writeJSON(w, 200, s.sched.GetState())
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()
	writeJSON(w, 200, s.sched.GetState())
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()
	writeJSON(w, 200, s.sched.GetState())
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	attempts, err := s.hist.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, attempts)
}

// streamEvents pushes lifecycle events over a WebSocket until the
// client goes away. Slow clients are dropped rather than allowed to
// block the scheduler.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead keeps control frames serviced; its context cancels as
	// soon as the client goes away.
	ctx := conn.CloseRead(r.Context())

	ch := make(chan domain.Event, 64)
	cancel := s.sched.SubscribeAll(func(e domain.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

const writeTimeout = 5 * time.Second

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
