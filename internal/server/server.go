// Package server exposes the voice pipeline, the reminder sweep, and the
// change feed over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"murmur/internal/events"
	"murmur/internal/logging"
	"murmur/internal/pipeline"
	"murmur/internal/reminder"
	"murmur/internal/task"
)

// Processor is the slice of the pipeline the HTTP surface drives.
type Processor interface {
	Process(ctx context.Context, audio []byte, aggressive bool) (*pipeline.Result, error)
	Accept(ctx context.Context, runID string) (*pipeline.Result, error)
	Retry(ctx context.Context, runID string, aggressive bool) (*pipeline.Result, error)
	Cancel(runID string) error
}

// SweepRunner triggers one sweep pass on demand.
type SweepRunner interface {
	Sweep(ctx context.Context) (*reminder.Report, error)
}

// TaskLister serves the client cache seed.
type TaskLister interface {
	ListTasks(ctx context.Context) ([]task.Task, error)
}

// Config tunes the HTTP server.
type Config struct {
	Addr         string
	AllowOrigins []string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wires the gin engine over the domain services.
type Server struct {
	processor Processor
	sweeper   SweepRunner
	tasks     TaskLister
	bus       *events.Bus
	logger    logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time

	wg sync.WaitGroup
}

// New builds the server and registers all routes.
func New(cfg Config, processor Processor, sweeper SweepRunner, tasks TaskLister,
	bus *events.Bus, logger logging.Logger) *Server {

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 || cfg.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}

	s := &Server{
		processor: processor,
		sweeper:   sweeper,
		tasks:     tasks,
		bus:       bus,
		logger:    logging.OrNop(logger),
		engine:    engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/tasks", s.handleListTasks)
	api.GET("/events", s.handleEvents)

	voice := api.Group("/voice")
	{
		voice.POST("/process", s.handleVoiceProcess)
		voice.POST("/runs/:id/accept", s.handleAccept)
		voice.POST("/runs/:id/retry", s.handleRetry)
		voice.POST("/runs/:id/cancel", s.handleCancel)
	}

	api.POST("/actions/sweep", s.handleSweep)

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and waits for websocket pumps.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}
