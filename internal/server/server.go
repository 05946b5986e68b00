// Package server wires the keygate HTTP surface: router, middleware chain,
// and graceful lifecycle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/octopushq/keygate/internal/config"
	"github.com/octopushq/keygate/internal/handler"
	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/openapi"
	"github.com/octopushq/keygate/internal/server/middleware"
	"github.com/octopushq/keygate/internal/service"
	"github.com/octopushq/keygate/internal/store"
)

// Services bundles the domain services the server exposes.
type Services struct {
	Auth      *service.AuthService
	Keys      *service.KeyService
	Audit     *service.AuditService
	Bootstrap *service.BootstrapService
}

// Server is the top-level HTTP server for keygate. It owns the Chi router and
// the graceful shutdown sequence; the store and services are injected.
type Server struct {
	cfg        *config.Config
	version    string
	router     chi.Router
	store      *store.Store
	svcs       Services
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg *config.Config, version string, st *store.Store, svcs Services, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		version: version,
		store:   st,
		svcs:    svcs,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORS.Origins,
		AllowedMethods:   s.cfg.Server.CORS.Methods,
		AllowedHeaders:   []string{"Accept", "Content-Type", s.cfg.Auth.APIKeyHeader, "X-Requested-With"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(s.cfg.RateLimit.GlobalPerMinute))
	}

	// --- Health checks and API documentation (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	keyHandler := handler.NewAPIKeyHandler(s.svcs.Keys)
	auditHandler := handler.NewAuditHandler(s.svcs.Audit)
	bootstrapHandler := handler.NewBootstrapHandler(s.svcs.Bootstrap, s.cfg.Auth.MasterKey)

	r.Route("/api/v1", func(r chi.Router) {

		// Bootstrap is the only unauthenticated mutation; it shares the
		// key-creation budget so an empty store cannot be hammered.
		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(middleware.RateLimit(s.cfg.RateLimit.KeyCreatePerMinute))
			}
			r.Get("/bootstrap", bootstrapHandler.Status)
			r.Post("/bootstrap", bootstrapHandler.Bootstrap)
		})

		// Key management requires the admin scope. The auth bucket is keyed
		// by source address so a client cycling through guessed secrets
		// shares one budget. Limiters sit in front of the authenticator so
		// throttled requests never reach the evaluator and leave no audit
		// entry.
		r.Route("/api-keys", func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(middleware.RateLimit(s.cfg.RateLimit.AuthPerMinute))
			}
			r.Use(middleware.Authenticate(s.svcs.Auth, s.cfg.Auth.APIKeyHeader, model.ScopeAdmin))

			r.Get("/", keyHandler.List)
			r.Get("/expiring", keyHandler.ListExpiring)
			r.Post("/cleanup-expired", keyHandler.CleanupExpired)
			r.Get("/audit-logs", auditHandler.List)

			r.Group(func(r chi.Router) {
				if s.cfg.RateLimit.Enabled {
					r.Use(middleware.RateLimit(s.cfg.RateLimit.KeyCreatePerMinute))
				}
				r.Post("/", keyHandler.Create)
			})

			r.Route("/{keyID}", func(r chi.Router) {
				r.Get("/", keyHandler.Get)
				r.Patch("/", keyHandler.Update)
				r.Delete("/", keyHandler.Delete)
				r.Post("/deactivate", keyHandler.Deactivate)
				r.Post("/rotate", keyHandler.Rotate)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the key store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the generated API document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	baseURL := "http://" + r.Host
	if r.TLS != nil {
		baseURL = "https://" + r.Host
	}
	doc := openapi.Generate(baseURL, s.cfg.Auth.APIKeyHeader, s.version)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Server.ListenAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "tls", s.cfg.Server.TLS.Enabled)
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeoutDuration())
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
