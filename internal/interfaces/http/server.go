// Package http exposes the budget approval workflow over a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/application/service"
	"github.com/garyjia/budget-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports component health for the /health endpoint
type HealthFunc func() (healthy bool, details interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string

	// ShutdownTimeout bounds graceful shutdown; 10s when zero
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		Mode:         gin.ReleaseMode,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",

		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the application services the server exposes
type Dependencies struct {
	Workflow workflow.WorkflowEngine
	Query    service.QueryService
	Exporter port.ReportExporter

	// Metrics is mounted at MetricsPath when set
	Metrics http.Handler

	// Health defaults to always healthy when nil
	Health HealthFunc
}

// requestIDHeader carries the correlation ID of an API call
const requestIDHeader = "X-Request-ID"

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// route binds one API path to its handler
type route struct {
	method  string
	path    string
	handler func(*Handlers, *gin.Context)
}

// apiRoutes lists the /api/v1 surface: intake, the approval chain and reporting
var apiRoutes = []route{
	{http.MethodPost, "/requests", (*Handlers).SubmitRequest},
	{http.MethodGet, "/requests", (*Handlers).ListRequests},
	{http.MethodGet, "/requests/:id", (*Handlers).GetRequest},
	{http.MethodPost, "/requests/:id/forward", (*Handlers).ForwardRequest},
	{http.MethodPost, "/requests/:id/approvals/:stage", (*Handlers).ApproveRequest},
	{http.MethodPost, "/requests/:id/reject", (*Handlers).RejectRequest},
	{http.MethodGet, "/summary", (*Handlers).Summary},
	{http.MethodGet, "/reports/requests.xlsx", (*Handlers).ExportRequests},
}

// NewServer builds the router for deps. Mode defaults to gin's release mode.
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	gin.SetMode(config.Mode)

	s := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	s.router.Use(gin.Recovery(), requestID(), s.accessLog())
	s.mount()
	return s
}

// requestID reuses the caller's X-Request-ID or assigns a fresh one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog logs every call once it has been served; 5xx responses are
// logged as errors.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"request_id", c.GetString(requestIDHeader),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request failed", kv...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

func (s *Server) mount() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil && s.config.MetricsPath != "" {
		s.router.GET(s.config.MetricsPath, gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1")
	for _, r := range apiRoutes {
		serve := r.handler
		api.Handle(r.method, r.path, func(c *gin.Context) { serve(h, c) })
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	grace := s.config.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
