package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/christian-lee/talkback/internal/controller"
	"github.com/christian-lee/talkback/internal/history"
)

const sourceWeb = "web"

// Control is the controller surface the panel drives.
type Control interface {
	Submit(ev controller.Event) bool
	Status() controller.Status
}

// History serves past sessions and events. Optional.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Events(limit int) ([]history.Event, error)
}

// Server serves the control panel, its JSON API and /metrics.
type Server struct {
	ctrl     Control
	hist     History
	gatherer prometheus.Gatherer
	addr     string

	mu           sync.RWMutex
	username     string
	passwordHash string

	srv *http.Server
}

func NewServer(addr string, ctrl Control, hist History, gatherer prometheus.Gatherer) *Server {
	return &Server{ctrl: ctrl, hist: hist, gatherer: gatherer, addr: addr}
}

// UpdateAuth sets basic-auth credentials (hot reload). An empty username
// disables auth.
func (s *Server) UpdateAuth(username, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.passwordHash = passwordHash
	if username != "" {
		slog.Info("web auth enabled", "username", username)
	} else {
		slog.Info("web auth disabled (no username configured)")
	}
}

// Handler returns the routed panel.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requireAuth)

	r.Get("/", s.handleIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/press", s.handleEvent(controller.Press, controller.KeyRecord))
		r.Post("/release", s.handleEvent(controller.Release, controller.KeyRecord))
		r.Post("/mode", s.handleEvent(controller.Press, controller.KeyMode))
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("web control panel started", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web server error", "err", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		username, hash := s.username, s.passwordHash
		s.mu.RUnlock()

		if username == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="talkback"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleEvent(action controller.Action, key controller.Key) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev := controller.Event{Source: sourceWeb, Action: action, Key: key}
		if !s.ctrl.Submit(ev) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "controller not accepting events"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"queued": ev.String()})
	}
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.hist.Recent(r.Context(), limitParam(r, 20))
	if err != nil {
		slog.Error("load history", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Event{})
		return
	}
	events, err := s.hist.Events(limitParam(r, 50))
	if err != nil {
		slog.Error("load events", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "events unavailable"})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}
