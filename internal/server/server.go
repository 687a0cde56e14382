// Package server exposes the three HTTP surfaces of the exchange: the SOAP
// receive endpoint for counterparts, the pull-based sync API for subscribers
// and the loopback-only operator API.
package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bdosoa/bdosoa/internal/engine"
	"github.com/bdosoa/bdosoa/internal/store"
)

// Config tunes the HTTP surfaces.
type Config struct {
	// SyncPageLimit caps how many pending tasks one sync poll returns.
	SyncPageLimit int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{SyncPageLimit: 1000}
}

// Server wires the HTTP handlers to the stores and the engine.
type Server struct {
	stores *store.Stores
	engine *engine.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates a server.
func New(stores *store.Stores, eng *engine.Engine, cfg Config, logger *slog.Logger) *Server {
	if cfg.SyncPageLimit <= 0 {
		cfg.SyncPageLimit = DefaultConfig().SyncPageLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{stores: stores, engine: eng, cfg: cfg, logger: logger}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "SOAPAction"},
	}))

	r.Post("/spg/{spid}/{token}", s.handleSOAP)

	r.Get("/sync/{spid}/{token}", s.handleSyncGet)
	r.Delete("/sync/{spid}/{token}", s.handleSyncAck)

	r.Route("/api", func(r chi.Router) {
		r.Use(loopbackOnly)
		r.Post("/queue:flush", s.handleFlushQueue)
		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{messageId}", s.handleGetMessage)
		r.Post("/providers", s.handleCreateProvider)
		r.Get("/providers", s.handleListProviders)
		r.Post("/providers/{spid}:enable", s.handleSetProviderEnabled(true))
		r.Post("/providers/{spid}:disable", s.handleSetProviderEnabled(false))
		r.Post("/sync-clients", s.handleCreateSyncClient)
		r.Get("/sync-clients", s.handleListSyncClients)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	return r
}

// loopbackOnly rejects operator API calls that do not originate from the
// local host. The operator API has no credentials of its own.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeError(w, http.StatusForbidden, "operator API is loopback only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.stores.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
