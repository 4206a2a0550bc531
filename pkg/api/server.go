// Package api exposes the swarm over HTTP: starting runs, reading session
// buffers and streaming their changes over WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/swarm/internal/observability"
	"github.com/harun/swarm/pkg/capability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

const (
	// DefaultStreamInterval is how often a stream checks its buffer for changes
	DefaultStreamInterval = 500 * time.Millisecond
	serviceName           = "swarm-api"
)

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Runs           RunController
	Buffers        BufferReader
	Registry       *capability.Registry
	RateLimit      float64 // start requests per second; <= 0 disables limiting
	Burst          int
	StreamInterval time.Duration
	Logger         zerolog.Logger
}

// Server is the HTTP surface of the swarm
type Server struct {
	addr           string
	runs           RunController
	buffers        BufferReader
	registry       *capability.Registry
	limiter        *rate.Limiter
	streamInterval time.Duration
	logger         zerolog.Logger

	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	streams  *streamRegistry

	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run controller is required")
	}
	if cfg.Buffers == nil {
		return nil, fmt.Errorf("buffer reader is required")
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultStreamInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s := &Server{
		addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		runs:           cfg.Runs,
		buffers:        cfg.Buffers,
		registry:       cfg.Registry,
		limiter:        limiter,
		streamInterval: cfg.StreamInterval,
		logger:         cfg.Logger,
		streams:        newStreamRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.engine = s.routes()

	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	apiGroup := router.Group("/api")
	apiGroup.POST("/swarm/start", s.rateLimit(), s.handleStart)
	apiGroup.GET("/swarm/tools", s.handleTools)
	apiGroup.POST("/swarm/:id/abort", s.handleAbort)
	apiGroup.GET("/swarm/:id/stream", s.handleStream)
	apiGroup.GET("/debug/swarm", s.handleDebug)

	return router
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes open streams and gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("streams", s.streams.Len()).Msg("Shutting down API server")
	s.streams.CloseAll()

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			observability.RecordStartRejected("rate_limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many start requests",
				Code:  CodeRateLimited,
			})
			return
		}
		c.Next()
	}
}
