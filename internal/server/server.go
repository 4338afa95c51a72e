// Package server exposes a read-only JSON view of a database's tables:
// structure, rows and fingerprints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/logger"
	"github.com/koustreak/reshape/internal/schema"
)

const (
	defaultLimit    = 100
	shutdownTimeout = 5 * time.Second
)

// Config tunes the server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRows caps the limit parameter of the rows endpoint.
	MaxRows int
}

// Server serves the inspector API over one migrator. Requests are
// serialized since a migrator is not safe for concurrent use.
type Server struct {
	cfg    Config
	m      schema.Migrator
	log    *logger.Logger
	mu     sync.Mutex
	router chi.Router
}

func New(m schema.Migrator, log *logger.Logger, cfg Config) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	s := &Server{cfg: cfg, m: m, log: log}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/tables", func(r chi.Router) {
		r.Get("/", s.handleTables)
		r.Route("/{table}", func(r chi.Router) {
			r.Get("/", s.handleTable)
			r.Get("/rows", s.handleRows)
			r.Get("/fingerprint", s.handleFingerprint)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, errs.New(errs.ErrKindNotFound, "no route for "+r.URL.Path))
	})
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.log.With().Str("addr", s.cfg.Addr).Logger().Info("inspector listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.Wrap(errs.ErrKindConnectionFailed, "listen on "+s.cfg.Addr, err)
	}
	return <-done
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.HTTPEvent().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// response is the envelope of every reply.
type response struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(kind))
	_ = json.NewEncoder(w).Encode(response{Error: &errorBody{Kind: kind.String(), Message: err.Error()}})
}

func statusOf(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
