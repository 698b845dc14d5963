// Package api provides PailFlow's public HTTP surface (§6): bot join/status,
// generic workflow invocation, and the health check.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/orchestrator"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/version"
	"github.com/pailflow/pailflow/pkg/workflow"
)

// Server wires PailFlow's gin router to the workflow engine, the
// orchestrator (for status lookups), the ledger, and the store.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      *workflow.Engine
	orch        *orchestrator.Orchestrator
	ledger      *accounting.Ledger
	store       persistence.Adapter
	verify      KeyVerifier
	meetBaseURL string
}

// Config carries Server's dependencies and the auth-verification setting.
type Config struct {
	Engine       *workflow.Engine
	Orchestrator *orchestrator.Orchestrator
	Ledger       *accounting.Ledger
	Store        persistence.Adapter
	Verify       KeyVerifier
	MeetBaseURL  string
}

// NewServer builds the router and registers every route in the HTTP
// surface. Mirrors the teacher's gin.Default() + method-per-route style.
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:      cfg.Engine,
		orch:        cfg.Orchestrator,
		ledger:      cfg.Ledger,
		store:       cfg.Store,
		verify:      cfg.Verify,
		meetBaseURL: cfg.MeetBaseURL,
	}
	if s.verify == nil {
		s.verify = NoopVerifier{}
	}

	router := gin.Default()
	router.Use(securityHeaders())
	router.GET("/health", s.Health)
	router.GET("/meet/:room_name", s.MeetPage)

	v1 := router.Group("/v1")
	v1.Use(BearerAuth(s.verify))
	v1.POST("/bots/join", s.JoinBot)
	v1.GET("/bots/:bot_id/status", s.BotStatus)
	v1.POST("/workflows/:name/execute", s.ExecuteWorkflow)

	s.router = router
	return s
}

// Handler exposes the underlying gin engine for tests and http.Server wiring.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server on addr, blocking until it exits.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Health implements GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "pailflow",
		Version: version.Full(),
	})
}

// MeetPage implements GET /meet/{room_name}. Serving the real hosted
// meeting page is out of core scope; this returns a minimal placeholder
// a real frontend build would replace.
func (s *Server) MeetPage(c *gin.Context) {
	roomName := c.Param("room_name")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(
		"<!doctype html><title>PailFlow</title><body>Meeting room: "+roomName+"</body>"))
}
