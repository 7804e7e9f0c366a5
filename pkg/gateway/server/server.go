// Package server is the HTTP and websocket surface: platform webhooks
// in, user questions in, meeting events out.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/hub"
	"github.com/murmurhq/murmur/pkg/core/session"
)

// MeetingAgent is the slice of the agent the HTTP surface drives.
type MeetingAgent interface {
	HandleMeetingStarted(meetingID string) error
	HandleMeetingEnded(meetingID string)
	PlanQuestion(ctx context.Context, meetingID string, ask core.AskRequest) (core.AskPlan, error)
}

// RelayControl starts and stops per-meeting media relays.
type RelayControl interface {
	Start(ctx context.Context, meetingID, mediaURL string) error
	Stop(meetingID string)
	Active(meetingID string) bool
}

// SessionStore reads session snapshots for the status endpoint.
type SessionStore interface {
	Get(meetingID string) (session.Session, bool)
}

// Options holds the server's dependencies.
type Options struct {
	Agent    MeetingAgent
	Relays   RelayControl
	Sessions SessionStore
	Hub      *hub.Hub

	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	Logger *slog.Logger
}

// Server routes the gateway's endpoints.
type Server struct {
	echo     *echo.Echo
	agent    MeetingAgent
	relays   RelayControl
	sessions SessionStore
	hub      *hub.Hub

	wsPingInterval time.Duration
	wsWriteTimeout time.Duration

	logger *slog.Logger
}

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WSPingInterval <= 0 {
		opts.WSPingInterval = 20 * time.Second
	}
	if opts.WSWriteTimeout <= 0 {
		opts.WSWriteTimeout = 5 * time.Second
	}

	s := &Server{
		echo:           e,
		agent:          opts.Agent,
		relays:         opts.Relays,
		sessions:       opts.Sessions,
		hub:            opts.Hub,
		wsPingInterval: opts.WSPingInterval,
		wsWriteTimeout: opts.WSWriteTimeout,
		logger:         logger.With("component", "gateway"),
	}

	e.GET("/healthz", s.handleHealth)
	e.POST("/webhooks/recall", s.handleRecallWebhook)
	e.POST("/meetings/:id/ask", s.handleAsk)
	e.GET("/meetings/:id", s.handleMeetingStatus)
	e.GET("/meetings/:id/events", s.handleEvents)

	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
