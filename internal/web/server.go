// Package web provides the HTTP status and control server for the sampler daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/sensor-sampler/internal/metrics"
	"github.com/sweeney/sensor-sampler/internal/status"
)

// commandTimeout bounds how long a control request waits for the driver loop.
const commandTimeout = 5 * time.Second

// Server serves the status page, channel control and live updates over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	hub        *Hub
	metrics    *metrics.Metrics
}

// Options wires optional collaborators into a Server. A nil Controller makes
// the channel endpoints read-only; a nil Hub disables /ws.
type Options struct {
	Controller Controller
	Hub        *Hub
	Metrics    *metrics.Metrics
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{
		tracker: tracker,
		ctrl:    opts.Controller,
		hub:     opts.Hub,
		metrics: opts.Metrics,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.Handle("/", s.metrics.WrapHandler("/", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.html", s.metrics.WrapHandler("/index.html", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.json", s.metrics.WrapHandler("/index.json", http.HandlerFunc(s.handleJSON))).Methods(http.MethodGet)

	r.Handle("/channels/{code}", s.metrics.WrapHandler("/channels/{code}", http.HandlerFunc(s.handleChannel))).Methods(http.MethodGet)
	r.Handle("/channels/{code}/power", s.metrics.WrapHandler("/channels/{code}/power", http.HandlerFunc(s.handlePower))).Methods(http.MethodPut)
	r.Handle("/channels/{code}/interval", s.metrics.WrapHandler("/channels/{code}/interval", http.HandlerFunc(s.handleInterval))).Methods(http.MethodPut)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", s.hub).Methods(http.MethodGet)
	}

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(log.Writer(), r),
	)
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.hub != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// channelCode extracts and checks the {code} route variable.
func channelCode(w http.ResponseWriter, r *http.Request) (byte, bool) {
	code := mux.Vars(r)["code"]
	if len(code) != 1 {
		writeError(w, http.StatusNotFound, ErrUnknownChannel)
		return 0, false
	}
	return code[0], true
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	code, ok := channelCode(w, r)
	if !ok {
		return
	}
	ch, ok := s.tracker.Snapshot().Channel(code)
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownChannel)
		return
	}
	writeJSON(w, http.StatusOK, status.ChannelToJSON(ch))
}

type powerRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	code, ok := channelCode(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"on": true|false}`))
		return
	}
	s.apply(w, r, code, func(ctx context.Context) error {
		return s.ctrl.SetPower(ctx, code, *req.On)
	})
}

type intervalRequest struct {
	Seconds uint32 `json:"seconds"`
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	code, ok := channelCode(w, r)
	if !ok {
		return
	}
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds == 0 {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"seconds": n} with n > 0`))
		return
	}
	s.apply(w, r, code, func(ctx context.Context) error {
		return s.ctrl.SetInterval(ctx, code, req.Seconds)
	})
}

// apply runs a control change and answers with the channel's state as the
// tracker reports it afterwards.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, code byte, fn func(context.Context) error) {
	if s.ctrl == nil {
		writeError(w, http.StatusMethodNotAllowed, errors.New("control disabled"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		switch {
		case errors.Is(err, ErrUnknownChannel):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, errors.New("driver loop did not respond"))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	ch, ok := s.tracker.Snapshot().Channel(code)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, status.ChannelToJSON(ch))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
