package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sophia/internal/swarm"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleTaskEvents streams a task's pipeline events over a websocket until
// the task reaches a terminal state or the client disconnects.
func (s *Server) handleTaskEvents(c *gin.Context) {
	taskID := c.Param("id")
	if _, ok := s.service.Get(taskID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed for task %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	events, cancel := s.service.Subscribe()
	defer cancel()

	// Re-read after subscribing: a task that finished in the gap would
	// otherwise never produce an event for this connection.
	record, _ := s.service.Get(taskID)
	if record.State.Terminal() {
		final := swarm.Event{TaskID: taskID, Type: swarm.EventDone, State: record.State, At: time.Now()}
		if record.State == swarm.StateAborted {
			final.Type = swarm.EventAborted
			if record.Outcome != nil {
				final.Message = record.Outcome.AbortReason
			}
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteJSON(final)
		return
	}

	// Drain client frames so close messages are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.TaskID != taskID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == swarm.EventDone || ev.Type == swarm.EventAborted {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
