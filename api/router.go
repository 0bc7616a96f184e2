package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/engine"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/session"
)

// Orchestrator is the part of *engine.Engine the API drives.
type Orchestrator interface {
	Sessions() []session.Info
	Session(id string) (session.Info, []core.Message, error)
	StartConversation(ctx context.Context, participant string, agents []string) (session.Info, error)
	StartGroup(ctx context.Context, agents []string) (session.Info, error)
	StartAmbient(ctx context.Context, agents []string) (session.Info, error)
	EndSession(id string) error
	JoinConversation(sessionID, participant string) error
	LeaveConversation(participant string) error
	AddAgent(ctx context.Context, sessionID, name string) error
	RemoveAgent(ctx context.Context, sessionID, name string) error
	RequestTurn(sessionID string) error
	HandleMessage(ctx context.Context, participant, text string) error
	HandleProximity(ctx context.Context, participant string, nearby []string) (engine.ProximityResult, error)
	AddAgentMessage(ctx context.Context, agent, text string) error
	SetMuted(agent string, muted bool)
	Muted(agent string) bool
	Settings() engine.Settings
	SetChatEnabled(enabled bool)
	SetAmbientEnabled(enabled bool)
}

var _ Orchestrator = (*engine.Engine)(nil)

// Options configures the router.
type Options struct {
	// Websocket serves GET /ws when set.
	Websocket http.Handler
	Logger    logging.Logger
}

// NewRouter builds the HTTP handler for eng.
func NewRouter(eng Orchestrator, optFns ...func(o *Options)) *gin.Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{eng: eng}
	logger := logging.With(opts.Logger, "component", "api")

	r := gin.New()
	r.Use(requestIDMiddleware(), recoveryMiddleware(logger), loggingMiddleware(logger))
	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, CodeNotFound, "route not found")
	})

	r.GET("/healthz", h.health)

	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.listSessions)
		sessions.POST("", h.startConversation)
		sessions.POST("/group", h.startGroup)
		sessions.POST("/ambient", h.startAmbient)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.endSession)
		sessions.POST("/:id/agents", h.addAgent)
		sessions.DELETE("/:id/agents/:name", h.removeAgent)
		sessions.POST("/:id/participants", h.joinSession)
		sessions.POST("/:id/turns", h.requestTurn)
	}

	participants := r.Group("/participants/:id")
	{
		participants.POST("/messages", h.participantMessage)
		participants.POST("/proximity", h.proximity)
		participants.DELETE("/session", h.leaveSession)
	}

	agents := r.Group("/agents/:name")
	{
		agents.POST("/messages", h.agentMessage)
		agents.PUT("/mute", h.mute)
	}

	r.GET("/settings", h.getSettings)
	r.PUT("/settings", h.putSettings)

	if opts.Websocket != nil {
		r.GET("/ws", gin.WrapH(opts.Websocket))
	}
	return r
}
