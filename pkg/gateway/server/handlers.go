package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/murmurhq/murmur/pkg/core"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "murmur",
	})
}

// RecallWebhook is the platform notification payload.
type RecallWebhook struct {
	Type           string `json:"type"`
	MeetingID      string `json:"meetingId"`
	MediaSocketURL string `json:"mediaSocketUrl,omitempty"`
}

// handleRecallWebhook processes meeting lifecycle notifications. The
// platform retries on non-2xx, so processing failures are logged and
// acknowledged rather than surfaced.
func (s *Server) handleRecallWebhook(c echo.Context) error {
	var ev RecallWebhook
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook body"})
	}
	if ev.MeetingID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "meetingId is required"})
	}

	switch ev.Type {
	case "meeting.started":
		if err := s.agent.HandleMeetingStarted(ev.MeetingID); err != nil {
			if errors.Is(err, core.ErrDuplicateSession) {
				s.logger.Warn("duplicate meeting start ignored", "meeting_id", ev.MeetingID)
			} else {
				s.logger.Error("meeting start failed", "meeting_id", ev.MeetingID, "error", err)
			}
		}

	case "media.ready":
		if ev.MediaSocketURL == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "mediaSocketUrl is required"})
		}
		if err := s.relays.Start(c.Request().Context(), ev.MeetingID, ev.MediaSocketURL); err != nil {
			s.logger.Error("relay start failed", "meeting_id", ev.MeetingID, "error", err)
		}

	case "meeting.ended":
		s.relays.Stop(ev.MeetingID)
		s.agent.HandleMeetingEnded(ev.MeetingID)

	default:
		s.logger.Warn("unknown webhook event", "type", ev.Type, "meeting_id", ev.MeetingID)
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

type askRequest struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

func (s *Server) handleAsk(c echo.Context) error {
	meetingID := c.Param("id")

	var req askRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}
	priority := core.Priority(req.Priority)
	if req.Priority == "" {
		priority = core.PriorityPolite
	}
	if !priority.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "priority must be polite, interrupt, or next-turn"})
	}

	plan, err := s.agent.PlanQuestion(c.Request().Context(), meetingID, core.AskRequest{Text: req.Text, Priority: priority})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownSession):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session for meeting"})
		default:
			s.logger.Error("question planning failed", "meeting_id", meetingID, "error", err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "question planning failed"})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"meetingId": meetingID,
		"plan":      plan,
	})
}

func (s *Server) handleMeetingStatus(c echo.Context) error {
	meetingID := c.Param("id")

	sess, ok := s.sessions.Get(meetingID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown meeting"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session":     sess,
		"relayActive": s.relays.Active(meetingID),
	})
}
