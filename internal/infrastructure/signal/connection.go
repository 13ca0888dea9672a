package signal

import (
	"sync"
	"time"

	"syncroom/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// connection is one admitted participant socket. All writes go through send
// and are performed by writePump.
type connection struct {
	ws            *websocket.Conn
	roomID        domain.RoomID
	participantID domain.ParticipantID
	connID        domain.ConnectionID

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
}

func newConnection(ws *websocket.Conn, self domain.Participant, roomID domain.RoomID, buffer int, limiter *rate.Limiter) *connection {
	return &connection{
		ws:            ws,
		roomID:        roomID,
		participantID: self.ID,
		connID:        self.ConnectionID,
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		limiter:       limiter,
	}
}

// enqueue never blocks. A full buffer means the peer stopped reading, so the
// connection is closed instead of stalling the room.
func (c *connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *connection) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			// Flush what was queued before the close, e.g. a fatal error.
			if !c.drain(writeTimeout) {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) drain(writeTimeout time.Duration) bool {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return false
			}
		default:
			return true
		}
	}
}
