package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	auditx "github.com/tanpawarit/voice-agent-orchestrator/agent/audit"
	bridgex "github.com/tanpawarit/voice-agent-orchestrator/agent/bridge"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	directoryx "github.com/tanpawarit/voice-agent-orchestrator/agent/directory"
	eventbusx "github.com/tanpawarit/voice-agent-orchestrator/agent/eventbus"
	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
)

// Agents is the orchestrator surface the HTTP routes use.
type Agents interface {
	List() []contractx.AgentInfo
	Subscribe(conn eventbusx.Conn, fullList bool) func()
}

// CallHandler bridges one telephony media stream.
type CallHandler interface {
	Serve(ctx context.Context, media bridgex.MediaConn) error
}

// Chatter answers text chat messages.
type Chatter interface {
	Send(ctx context.Context, conversationID, message string) (string, error)
	Reset(conversationID string)
}

// EventLog reads back the agent events recorded for a call.
type EventLog interface {
	ByCall(ctx context.Context, callID string, limit int) ([]auditx.EventRecord, error)
}

// Users registers phone numbers against wallet addresses.
type Users interface {
	Upsert(ctx context.Context, phone, wallet string) (*directoryx.User, error)
}

// Deps carries the routes' collaborators. Agents and Calls are required; a
// nil optional dependency turns its routes into 404 or 503 answers.
type Deps struct {
	Agents Agents
	Calls  CallHandler
	Chat   Chatter
	Store  statex.Store
	Events EventLog
	Users  Users
}

type Server struct {
	cfg      Config
	deps     Deps
	engine   *gin.Engine
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	// ctx outlives requests so hijacked websocket handlers stop on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	log zerolog.Logger
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Agents == nil {
		return nil, errors.New("agents are required")
	}
	if deps.Calls == nil {
		return nil, errors.New("call handler is required")
	}
	if cfg.SimulateTimeout <= 0 {
		cfg.SimulateTimeout = 4 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
		ctx:    ctx,
		cancel: cancel,
		log:    log.Logger.With().Str("component", "server").Logger(),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close stops websocket handlers started through Handler.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), corsPolicy(s.cfg.CORSOrigins))

	r.GET("/healthz", s.healthz)
	r.Any("/incoming-call", s.incomingCall)
	r.GET("/agents", s.listAgents)
	r.GET("/calls/:id", s.getCall)
	r.GET("/calls/:id/events", s.callEvents)
	r.POST("/users", s.registerUser)
	r.POST("/chat-message", s.chatMessage)
	r.DELETE("/chat/:id", s.resetChat)
	r.POST("/simulate-call", s.simulateCall)

	r.GET("/media-stream", s.mediaStream)
	r.GET("/orchestrator-stream", s.observerStream(false))
	r.GET("/agent-stream", s.observerStream(true))

	return r
}
