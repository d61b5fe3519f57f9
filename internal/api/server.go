// Package api exposes the reconciliation service over HTTP.
//
// Every route lives under /api/v1 and speaks JSON, except exports which
// stream CSV or XLSX. Handlers pass the request context to the service, so a
// client that disconnects mid-write rolls the store transaction back.
// Failures are written as the ReconcilerError that caused them with the
// status code of its category.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Config holds the HTTP server settings
type Config struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	AllowedOrigins  []string      `json:"allowed_origins" mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		RequestTimeout:  60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.RequestTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// Server is the HTTP surface of one reconciliation service
type Server struct {
	router  chi.Router
	service *reconciler.Service
	config  *Config
	logger  logger.Logger
}

// NewServer builds the router for service
func NewServer(service *reconciler.Service, config *Config) (*Server, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_service", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "server", config.Addr, err)
	}

	s := &Server{
		service: service,
		config:  config,
		logger:  logger.GetGlobalLogger().WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the chi router
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "server.addr", s.config.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/results", s.handleResults)

		r.Get("/exceptions", s.handleListExceptions)
		r.Post("/exceptions/auto-resolve", s.handleAutoResolve)
		r.Post("/exceptions/{lineID}/resolve", s.handleResolve)
		r.Post("/exceptions/{lineID}/reopen", s.handleReopen)

		r.Get("/policy-rules", s.handleListPolicyRules)
		r.Post("/policy-rules", s.handleSetPolicyRule)
		r.Get("/policy-rules/{source}/versions", s.handlePolicyRuleVersions)

		r.Get("/split-rules", s.handleListSplitRules)
		r.Post("/split-rules", s.handleCreateSplitRule)
		r.Post("/split-rules/what-if", s.handleWhatIf)
		r.Put("/split-rules/{ruleID}", s.handleUpdateSplitRule)
		r.Delete("/split-rules/{ruleID}", s.handleDeleteSplitRule)
		r.Get("/split-rules/{ruleID}/versions", s.handleSplitRuleVersions)

		r.Get("/adjustments", s.handleListAdjustments)
		r.Post("/adjustments", s.handleCreateAdjustment)
		r.Put("/adjustments/{adjID}", s.handleUpdateAdjustment)
		r.Delete("/adjustments/{adjID}", s.handleDeleteAdjustment)

		r.Get("/netting", s.handleNetting)
		r.Get("/producers", s.handleProducers)
		r.Get("/accruals", s.handleAccruals)
		r.Get("/journal", s.handleJournal)
		r.Post("/journal/post", s.handlePostJournal)
		r.Get("/audit", s.handleAudit)
		r.Get("/compare", s.handleCompare)
		r.Get("/exports/{name}", s.handleExport)
		r.Get("/aging", s.handleAging)
		r.Get("/scorecard", s.handleScorecard)
		r.Get("/revenue", s.handleRevenue)
		r.Get("/bank-transactions", s.handleBankTransactions)
		r.Get("/close-status", s.handleCloseStatus)
		r.Get("/lines/{lineID}", s.handleLineDetail)
	})

	return r
}

// requestLogger logs one line per request through the component logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log := s.logger.WithFields(logger.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			log.Warn("Request failed")
			return
		}
		log.Debug("Request served")
	})
}
