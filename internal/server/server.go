// Package server exposes the relay and catalog over HTTP: the JSON API used
// by clients and the minimal HTML surface the user walks through.
package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/internal/catalog"
	"github.com/alexschratzi/Suni/internal/config"
	"github.com/alexschratzi/Suni/internal/relay"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// serviceName identifies this service in health responses.
const serviceName = "suni-relay"

//go:embed templates/*.html
var templateFS embed.FS

// Server wires the HTTP surface to the relay orchestrator and the catalog.
type Server struct {
	logger      *zap.Logger
	cfg         config.ServerConfig
	cacheMaxAge int

	relay   *relay.Orchestrator
	catalog *catalog.Service
	tmpl    *template.Template

	httpServer *http.Server
}

// New builds the server and its route table.
func New(
	logger *zap.Logger,
	cfg config.ServerConfig,
	catalogCfg config.CatalogConfig,
	orch *relay.Orchestrator,
	cat *catalog.Service,
) *Server {
	s := &Server{
		logger:      logger.Named("server"),
		cfg:         cfg,
		cacheMaxAge: catalogCfg.CacheMaxAge,
		relay:       orch,
		catalog:     cat,
		tmpl:        template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		// Writes stay open for the duration of a login attempt, so this is
		// far above the usual few seconds.
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wired route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /auth/start", s.handleAuthStart)
	mux.HandleFunc("GET /auth/relay", s.handleRelayForm)
	mux.HandleFunc("POST /auth/perform", s.handleAuthPerform)

	mux.HandleFunc("POST /connections/complete", s.handleConnectionComplete)
	mux.HandleFunc("GET /connections/{connectionID}/status", s.handleConnectionStatus)

	mux.HandleFunc("GET /v1/countries", s.handleCountries)
	mux.HandleFunc("GET /v1/universities", s.handleUniversities)
	mux.HandleFunc("GET /v1/programs", s.handlePrograms)
	mux.HandleFunc("GET /v1/unis/{uniID}/config", s.handleUniConfig)
	mux.HandleFunc("GET /v1/unis/{uniID}/links", s.handleUniLinks)

	return s.withCORS(s.withRequestLog(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Listen))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// -- Middleware --

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// -- Response helpers --

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	s.writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
