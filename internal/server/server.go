package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
	"sophia/internal/pattern"
	"sophia/internal/swarm"
)

// Config configures the HTTP API server.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		// Streaming endpoints manage their own deadlines.
		WriteTimeout: 0,
	}
}

// Server exposes the pipeline over HTTP.
type Server struct {
	service    *swarm.Service
	store      pattern.Store
	breakers   *sophiaerrors.BreakerSet
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	config     Config
	logger     logging.Logger
	startTime  time.Time
}

func New(service *swarm.Service, store pattern.Store, breakers *sophiaerrors.BreakerSet, cfg Config, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		service:  service,
		store:    store,
		breakers: breakers,
		engine:   engine,
		config:   cfg,
		logger:   logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	s.routes()
	if breakers != nil {
		RegisterBreakerMetrics(breakers)
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/tasks", s.handleSubmitTask)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/tasks/:id/events", s.handleTaskEvents)
		api.GET("/patterns", s.handleQueryPatterns)
		api.GET("/breakers", s.handleBreakers)
	}
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
