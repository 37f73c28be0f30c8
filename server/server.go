// Package server exposes the orchestration core over HTTP: application
// actions, generation-pipeline callbacks, notification listing and the live
// notification stream, plus metrics and health.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/internal/ratelimit"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/rollback"
	"github.com/teranos/jobpulse/workflow"
)

const (
	// MaxClientMessageQueueSize is the size of per-client notification queues
	MaxClientMessageQueueSize = 64
	// ShutdownTimeout is how long to wait for in-flight requests on Stop
	ShutdownTimeout = 15 * time.Second
)

// Core is the orchestration surface the handlers drive
type Core interface {
	AcceptApplication(ctx context.Context, req orchestrator.AcceptRequest) (*orchestrator.AcceptResult, error)
	Regenerate(ctx context.Context, userID, applicationID string) (*workflow.Run, error)
	Rollback(ctx context.Context, applicationID string) (*rollback.Result, error)
	GetApplication(ctx context.Context, id string) (*application.Application, error)
	HandleGenerationCallback(ctx context.Context, u orchestrator.GenerationUpdate) error

	SubscribeToNotifications(userID string, cb notify.Callback) func()
	GetActiveConnectionCount() int
	ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*notify.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	CountUnread(ctx context.Context, userID string) (int, error)

	DispatcherStats() timer.Stats
	Ping(ctx context.Context) error
}

// Server is the jobpulse HTTP server
type Server struct {
	core     Core
	cfg      am.ServerConfig
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   *zap.SugaredLogger

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[*Client]bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server over core with routes registered
func New(core Core, cfg am.ServerConfig, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		core:    core,
		cfg:     cfg,
		limiter: ratelimit.NewLimiter(cfg.RequestsPerMinute),
		mux:     http.NewServeMux(),
		logger:  log.Named("server"),
		clients: make(map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = s.newUpgrader()
	s.setupHTTPRoutes()
	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.requestLogger(s.mux)
}

// ClientCount returns the number of connected notification streams
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// atCapacity reports whether count streams fill server.max_clients
func (s *Server) atCapacity(count int) bool {
	return s.cfg.MaxClients > 0 && count >= s.cfg.MaxClients
}

func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.atCapacity(len(s.clients)) || s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = true
	return true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
