// Package rest provides the status REST server for the optimization engine:
// run progress, worker-pool statistics, and the latest optimization report.
package rest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/internal/processor"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// Server exposes engine state over HTTP. State is pushed into the server by
// the driving loop; the server itself never triggers work.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	proc   *processor.DistributedProcessor
	log    logger.Logger

	mu         sync.RWMutex
	lastBatch  *types.HarnessResult
	lastReport *types.OptimizationReport
	batchCount int
	startedAt  time.Time
}

// NewServer creates a new status server.
func NewServer(cfg *config.ServerConfig, proc *processor.DistributedProcessor, log logger.Logger) *Server {
	s := &Server{
		config:    cfg,
		proc:      proc,
		log:       logger.OrNop(log),
		startedAt: time.Now(),
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	s.app.Use(fiberrecover.New())
	if cfg.EnableCORS {
		s.app.Use(cors.New())
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	v1 := s.app.Group("/api/v1")
	v1.Get("/progress", s.handleProgress)
	v1.Get("/statistics", s.handleStatistics)
	v1.Get("/report", s.handleReport)
	v1.Get("/batches/latest", s.handleLatestBatch)

	if s.config.EnableWebSocket {
		s.setupWebSocketRoutes()
	}
}

// Start starts the server in a background goroutine.
func (s *Server) Start() error {
	if s.config.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	go func() {
		s.log.Info("[rest] listening on %s", s.config.Address)
		if err := s.app.Listen(s.config.Address); err != nil {
			s.log.Error("[rest] server stopped: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// RecordBatch stores the latest batch result for the REST surface.
func (s *Server) RecordBatch(batch *types.HarnessResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBatch = batch
	s.batchCount++
}

// RecordReport stores the latest optimization report.
func (s *Server) RecordReport(report *types.OptimizationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = report
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.JSON(fiber.Map{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).String(),
		"batches": s.batchCount,
	})
}

func (s *Server) handleProgress(c *fiber.Ctx) error {
	if s.proc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no processor attached"})
	}
	return c.JSON(s.proc.GetProgress())
}

func (s *Server) handleStatistics(c *fiber.Ctx) error {
	if s.proc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no processor attached"})
	}
	return c.JSON(s.proc.GetStatistics())
}

func (s *Server) handleReport(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReport == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no report available yet"})
	}
	return c.JSON(s.lastReport)
}

func (s *Server) handleLatestBatch(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBatch == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no batch available yet"})
	}
	return c.JSON(s.lastBatch)
}

// App returns the underlying fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}
