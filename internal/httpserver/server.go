package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"voiceloop/internal/chat"
	"voiceloop/internal/conversation"
)

// Orchestrator is the slice of the conversation orchestrator the HTTP
// surface drives.
type Orchestrator interface {
	EnableConversation() error
	DisableConversation()
	RecordOnce() error
	PlayLatestReply() error
	Status() conversation.Status
}

// HistorySource exposes the chat transcript for the UI.
type HistorySource interface {
	History() []chat.Exchange
}

// Server exposes the voice loop over HTTP: mode toggles, manual record and
// replay triggers, status polling and a websocket event feed.
type Server struct {
	echo    *echo.Echo
	orch    Orchestrator
	history HistorySource
	hub     *Hub
}

func New(orch Orchestrator, history HistorySource, hub *Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, orch: orch, history: history, hub: hub}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.echo.GET("/status", s.status)
	s.echo.GET("/history", s.getHistory)
	s.echo.POST("/conversation/enable", s.enable)
	s.echo.POST("/conversation/disable", s.disable)
	s.echo.POST("/record", s.record)
	s.echo.POST("/play", s.play)
	s.echo.GET("/ws", s.events)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) getHistory(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusOK, []chat.Exchange{})
	}
	history := s.history.History()
	if history == nil {
		history = []chat.Exchange{}
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) enable(c echo.Context) error {
	if err := s.orch.EnableConversation(); err != nil {
		return s.orchError(c, err)
	}
	return c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) disable(c echo.Context) error {
	s.orch.DisableConversation()
	return c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) record(c echo.Context) error {
	if err := s.orch.RecordOnce(); err != nil {
		return s.orchError(c, err)
	}
	return c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) play(c echo.Context) error {
	if err := s.orch.PlayLatestReply(); err != nil {
		return s.orchError(c, err)
	}
	return c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) events(c echo.Context) error {
	return s.hub.Serve(c.Response(), c.Request())
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) orchError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrUnsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrBusy), errors.Is(err, conversation.ErrModeActive):
		status = http.StatusConflict
	case errors.Is(err, conversation.ErrNothingToPlay):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}
