package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/murmurhq/murmur/pkg/core/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents upgrades to a websocket subscribed to the meeting's
// event feed. Frames are JSON events; subscription starts now, with no
// backfill of earlier events.
func (s *Server) handleEvents(c echo.Context) error {
	meetingID := c.Param("id")

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "meeting_id", meetingID, "error", err)
		return err
	}

	sub := s.hub.Subscribe(meetingID)

	go s.readPump(ws, func() { s.hub.Unsubscribe(sub) })
	go s.writePump(ws, sub)

	return nil
}

// readPump discards inbound frames; its job is to notice the peer
// going away and release the subscription.
func (s *Server) readPump(ws *websocket.Conn, unsubscribe func()) {
	defer func() {
		unsubscribe()
		ws.Close()
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub events as JSON frames and keeps the
// connection alive with pings.
func (s *Server) writePump(ws *websocket.Conn, sub *hub.Subscription) {
	ticker := time.NewTicker(s.wsPingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			ws.SetWriteDeadline(time.Now().Add(s.wsWriteTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
