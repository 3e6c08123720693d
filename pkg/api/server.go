// Package api exposes the run engine over HTTP: agent discovery, run
// creation with sync/async/stream response projections, await resume,
// cancellation and session reads.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/acp/pkg/server"
)

// HeaderRunID echoes the run id on every run creation and resume
// response, regardless of mode.
const HeaderRunID = "Run-ID"

// Server is the HTTP surface over one Engine.
type Server struct {
	engine *server.Engine
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router. The caller starts it with Start or mounts
// Handler under its own listener.
func NewServer(engine *server.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	s := &Server{engine: engine, router: router}

	router.GET("/ping", s.ping)
	router.GET("/agents", s.listAgents)
	router.GET("/agents/:name", s.readAgent)
	router.POST("/runs", s.createRun)
	router.GET("/runs/:run_id", s.readRun)
	router.GET("/runs/:run_id/events", s.listRunEvents)
	router.POST("/runs/:run_id", s.resumeRun)
	router.POST("/runs/:run_id/cancel", s.cancelRun)
	router.GET("/sessions/:session_id", s.readSession)

	return s
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
