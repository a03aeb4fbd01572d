package collab

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	mcpserver "canvas/internal/mcp"
)

// Lister lists stored canvases.
type Lister interface {
	List(ctx context.Context) ([]domain.CanvasRecord, error)
}

// Approvals resolves destructive MCP actions waiting for a collaborator.
type Approvals interface {
	Pending() []mcpserver.PendingAction
	Approve(actionID string) bool
	Reject(actionID string) bool
}

type ServerOptions struct {
	// Token is the shared secret peers present as ?token= or a bearer
	// header. Empty disables authentication.
	Token string
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
	// Open prepares a canvas before its first peer joins, typically by
	// loading it from storage into the room.
	Open      func(ctx context.Context, canvasID string) error
	Canvases  Lister
	Approvals Approvals
	Logger    *log.Logger
}

// Server exposes a Hub over HTTP.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewServer(hub *Hub, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	s := &Server{hub: hub, opts: opts, logger: opts.Logger.WithPrefix("http")}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the router of the collaboration API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/collab/{canvasID}", s.handleCollab)
		r.Get("/canvases", s.handleListCanvases)
		r.Get("/canvases/{canvasID}", s.handleGetCanvas)
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.handleListApprovals)
			r.Post("/{actionID}/approve", s.handleResolve(true))
			r.Post("/{actionID}/reject", s.handleResolve(false))
		})
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("collab server shutdown: %w", err)
		}
		s.logger.Info("stopped")
		return nil
	case err, ok := <-serveErr:
		if !ok {
			return nil
		}
		return fmt.Errorf("collab server: %w", err)
	}
}

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	peers, _, _, _ := s.hub.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.hub.RoomCount(),
		"peers":  peers,
	})
}

func (s *Server) handleCollab(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")
	if s.opts.Open != nil {
		if err := s.opts.Open(r.Context(), canvasID); err != nil {
			s.logger.Error("open canvas failed", "canvas", canvasID, "err", err)
			writeError(w, err)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	newPeer(s.hub, s.hub.Room(canvasID), conn).start()
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	if s.opts.Canvases == nil {
		writeJSON(w, http.StatusOK, s.hub.RoomIDs())
		return
	}
	records, err := s.opts.Canvases.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")
	if s.opts.Open != nil {
		if err := s.opts.Open(r.Context(), canvasID); err != nil {
			writeError(w, err)
			return
		}
	}
	room := s.hub.Room(canvasID)
	doc, err := room.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      canvasID,
		"version": room.Version(),
		"peers":   room.Peers(),
		"doc":     doc,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.opts.Approvals == nil {
		writeJSON(w, http.StatusOK, []mcpserver.PendingAction{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Approvals.Pending())
}

func (s *Server) handleResolve(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actionID := chi.URLParam(r, "actionID")
		if s.opts.Approvals == nil {
			writeError(w, cerrors.New(cerrors.ErrCodeUnsupported, "approvals are not enabled"))
			return
		}
		resolve := s.opts.Approvals.Reject
		if approve {
			resolve = s.opts.Approvals.Approve
		}
		if !resolve(actionID) {
			writeError(w, cerrors.New(cerrors.ErrCodeNotFound, "action %s not found", actionID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ── Middleware ─────────────────────────────────────────────

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			s.logger.Warn("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, cerrors.New(cerrors.ErrCodeUnauthorized, "invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

// ── helpers ──────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch cerrors.GetCode(err) {
	case cerrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case cerrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case cerrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case cerrors.ErrCodeUnsupported:
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]string{
		"error": cerrors.UserMessage(err),
		"code":  string(cerrors.GetCode(err)),
	})
}
