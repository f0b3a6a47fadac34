// Package api exposes the agent service over HTTP: chat and task streams as
// SSE, the terminal as a WebSocket, and the remaining surface as JSON. All
// handlers are thin; domain behavior lives in the packages they call.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/agentloop"
	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/monitor"
	"github.com/opsforge/opsforge/pkg/orchestrator"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/terminal"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

// Config wires a Server. ServerVault opens server credentials for handlers
// that dial SSH themselves (approve). Planner and PlanModel drive task
// planning; a nil Planner disables POST /api/agent/tasks/plan.
type Config struct {
	Loop         *agentloop.Loop
	Dispatcher   *dispatch.Dispatcher
	Catalog      *tools.Catalog
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Monitor      *monitor.Collector
	Relay        *terminal.Relay
	Store        store.Store
	ServerVault  *vault.Vault
	Planner      llm.Client
	PlanModel    string
	Logger       *slog.Logger
}

// Server is the HTTP front of the agent service.
type Server struct {
	echo *echo.Echo
	srv  *http.Server

	loop         *agentloop.Loop
	dispatcher   *dispatch.Dispatcher
	catalog      *tools.Catalog
	orchestrator *orchestrator.Orchestrator
	bus          *events.Bus
	monitor      *monitor.Collector
	relay        *terminal.Relay
	store        store.Store
	serverVault  *vault.Vault
	planner      llm.Client
	planModel    string
	logger       *slog.Logger
}

// NewServer builds a Server and registers its routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	planModel := cfg.PlanModel
	if planModel == "" {
		planModel = llm.DefaultModel
	}

	e := echo.New()
	s := &Server{
		echo:         e,
		loop:         cfg.Loop,
		dispatcher:   cfg.Dispatcher,
		catalog:      cfg.Catalog,
		orchestrator: cfg.Orchestrator,
		bus:          cfg.Bus,
		monitor:      cfg.Monitor,
		relay:        cfg.Relay,
		store:        cfg.Store,
		serverVault:  cfg.ServerVault,
		planner:      cfg.Planner,
		planModel:    planModel,
		logger:       logger,
	}
	s.srv = &http.Server{
		Handler: e,
		// SSE and WebSocket routes hold connections open; only the header
		// read gets a deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(requestLogger(s.logger))
	e.Use(securityHeaders())

	e.GET("/healthz", s.healthHandler)
	e.GET("/ws/terminal", s.terminalHandler)

	agent := e.Group("/api/agent")
	agent.POST("/chat", s.chatHandler)
	agent.POST("/approve", s.approveHandler)
	agent.GET("/tools", s.listToolsHandler)
	agent.GET("/monitor/:serverId", s.monitorHandler)

	agent.POST("/tasks/plan", s.planTaskHandler)
	agent.POST("/tasks", s.createTaskHandler)
	agent.GET("/tasks", s.listTasksHandler)
	agent.GET("/tasks/:id", s.getTaskHandler)
	agent.POST("/tasks/:id/execute", s.executeTaskHandler)
	agent.POST("/tasks/:id/steps/:sid/approve", s.approveStepHandler)
	agent.POST("/tasks/:id/pause", s.pauseTaskHandler)
	agent.POST("/tasks/:id/resume", s.resumeTaskHandler)
	agent.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	agent.POST("/tasks/:id/rollback", s.rollbackTaskHandler)
}

// Serve accepts connections on ln until Shutdown. The caller owns the
// listener so bind failures can be distinguished from serve failures.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown closes terminal sessions and drains in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.relay != nil {
		s.relay.CloseAll()
	}
	return s.srv.Shutdown(ctx)
}
