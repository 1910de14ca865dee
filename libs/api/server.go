package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/health"
)

// Server is the broker's HTTP and WebSocket surface.
type Server struct {
	config   *Config
	router   *gin.Engine
	server   *http.Server
	logger   *zap.Logger
	handlers *Handlers
	health   *health.Health
}

// Config holds the API server configuration
type Config struct {
	Host string
	Port int

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	EnableCORS     bool
	AllowedOrigins []string

	EnableMetrics bool
	MetricsPath   string
}

// DefaultConfig returns a default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		EnableMetrics:   true,
		MetricsPath:     "/metrics",
	}
}

// NewServer creates the API server.
func NewServer(config *Config, handlers *Handlers, checks *health.Health, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(logger))
	if config.EnableCORS {
		router.Use(corsMiddleware(config.AllowedOrigins))
	}

	s := &Server{
		config:   config,
		router:   router,
		logger:   logger,
		handlers: handlers,
		health:   checks,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.RequestTimeout,
		WriteTimeout: config.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.config.EnableMetrics {
		s.router.GET(s.config.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Push transport
	s.router.GET("/ws", s.handlers.HandleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		intents := v1.Group("/intents")
		{
			intents.POST("", s.handlers.CreateIntent)
			intents.GET("", s.handlers.ListOpenIntents)
			intents.GET("/:id", s.handlers.GetIntent)
			intents.GET("/:id/bids", s.handlers.GetBids)
			intents.POST("/:id/bids", s.handlers.SubmitBid)
			intents.POST("/:id/close", s.handlers.ForceCloseBidding)
			intents.POST("/:id/ack", s.handlers.AcknowledgeAssignment)
			intents.POST("/:id/result", s.handlers.ReportResult)
			intents.POST("/:id/failure", s.handlers.ReportFailure)
		}

		providers := v1.Group("/providers")
		{
			providers.POST("", s.handlers.RegisterProvider)
			providers.GET("", s.handlers.ListProviders)
			providers.GET("/:id", s.handlers.GetProvider)
			providers.POST("/:id/heartbeat", s.handlers.Heartbeat)
		}

		paymentsGroup := v1.Group("/payments")
		{
			paymentsGroup.GET("/:intentId/settlement", s.handlers.GetSettlement)
			paymentsGroup.GET("/:intentId/escrow", s.handlers.GetEscrow)
		}

		v1.GET("/stats", s.handlers.GetStats)
	}
}

// handleHealth aggregates the component health checks.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	results := s.health.Check(ctx)
	status := http.StatusOK
	overall := health.StatusHealthy
	for _, r := range results {
		if r.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
			overall = health.StatusUnhealthy
			break
		}
		if r.Status == health.StatusDegraded {
			overall = health.StatusDegraded
		}
	}
	c.JSON(status, gin.H{"status": overall, "components": results})
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.server.Addr),
		zap.Bool("metrics", s.config.EnableMetrics),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
