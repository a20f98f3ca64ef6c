package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AutoTrader/pkg/http/middleware"
	applogger "AutoTrader/pkg/logger"
)

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	CORSOrigins   []string
	MetricsPath   string
	Registerer    prometheus.Registerer
	Gatherer      prometheus.Gatherer
	SlowThreshold time.Duration
}

// Server wraps an Echo instance.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *applogger.Logger
}

// NewServer builds the Echo app and registers handlers. When a gatherer is
// configured its metrics are served at MetricsPath.
func NewServer(log *applogger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		MetricsPath:   "/metrics",
		SlowThreshold: time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if log == nil {
		log = applogger.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestLogging(log))
	if cfg.Gatherer != nil {
		e.Use(middleware.Metrics(cfg.Registerer, log, cfg.SlowThreshold))
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.ReadOnlyCORS(cfg.CORSOrigins))
	}

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	return &Server{echo: e, config: cfg, log: log}
}

// Start listens in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	go func() {
		s.log.Info("http server listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server", applogger.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func WithHost(host string) ServerOption {
	return func(c *ServerConfig) { c.Host = host }
}

func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = port }
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// WithMetrics instruments every route into reg and serves g at path.
func WithMetrics(reg prometheus.Registerer, g prometheus.Gatherer, path string) ServerOption {
	return func(c *ServerConfig) {
		c.Registerer = reg
		c.Gatherer = g
		if path != "" {
			c.MetricsPath = path
		}
	}
}

func WithCORS(origins ...string) ServerOption {
	return func(c *ServerConfig) { c.CORSOrigins = origins }
}
