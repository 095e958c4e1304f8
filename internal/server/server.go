// Package server exposes the pipeline over HTTP, with a WebSocket feed for
// run progress.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/types"
)

// Runner is the part of the orchestrator the server drives.
type Runner interface {
	Submit(ctx context.Context, ref pipeline.Ref, opts pipeline.Options) (string, error)
	Status(runID string) (pipeline.Status, error)
	Results(runID string) (pipeline.Results, error)
	Events(runID string, cursor int) ([]pipeline.Event, bool, error)
	Subscribe(ctx context.Context, runID string, cursor int) (<-chan pipeline.Event, error)
	Cancel(runID string) error
	Runs() []pipeline.Status
}

// ArtifactStore accepts uploads and resolves citations.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, data []byte, kind types.ArtifactKind, origin types.Origin, name string) (types.Artifact, error)
	Artifact(id string) (types.Artifact, bool)
	Span(id string) (types.EvidenceSpan, bool)
}

const (
	defaultMaxUpload = 8 << 20

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

type Server struct {
	runs      Runner
	store     ArtifactStore
	log       *zap.Logger
	router    chi.Router
	upgrader  websocket.Upgrader
	maxUpload int64
	pingEvery time.Duration
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = logging.OrNop(l).Named("server") }
}

// WithMaxUpload caps artifact upload bodies in bytes.
func WithMaxUpload(n int64) Option { return func(s *Server) { s.maxUpload = n } }

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// Without it any origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		allowed := map[string]bool{}
		for _, o := range origins {
			allowed[o] = true
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || allowed[o]
		}
	}
}

func New(runs Runner, store ArtifactStore, opts ...Option) *Server {
	s := &Server{
		runs:      runs,
		store:     store,
		log:       zap.NewNop(),
		maxUpload: defaultMaxUpload,
		pingEvery: pingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/artifacts", s.putArtifact)
	r.Route("/runs", func(api chi.Router) {
		api.Post("/", s.submit)
		api.Get("/", s.listRuns)
		api.Route("/{id}", func(run chi.Router) {
			run.Get("/", s.status)
			run.Get("/results", s.results)
			run.Post("/cancel", s.cancel)
			run.Get("/events", s.events)
			run.Post("/report", s.report)
		})
	})
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
// Open WebSocket feeds are closed with the context.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
