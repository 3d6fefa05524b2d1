package signal

import (
	"context"
	"sync"
	"time"

	"greenearth/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	msgState    = "state"
	msgGetState = "get_state"
	msgLeave    = "leave"
	msgEvent    = "event"
	msgError    = "error"
)

// clientMessage is what browsers send on the event socket.
type clientMessage struct {
	Type       string `json:"type"`
	IsMuted    *bool  `json:"is_muted,omitempty"`
	IsVideoOff *bool  `json:"is_video_off,omitempty"`
}

type serverMessage struct {
	Type    string                `json:"type"`
	Event   *domain.CallEvent     `json:"event,omitempty"`
	State   *domain.CallViewState `json:"state,omitempty"`
	Message string                `json:"message,omitempty"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	key     clientKey
	send    chan serverMessage
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
	flush     chan struct{}
	flushOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, key clientKey) *client {
	return &client{
		hub:     h,
		conn:    conn,
		key:     key,
		send:    make(chan serverMessage, h.cfg.SendBuffer),
		limiter: newLimiter(h.cfg),
		done:    make(chan struct{}),
		flush:   make(chan struct{}),
	}
}

// enqueue reports false when the send buffer is full or the socket is gone.
func (c *client) enqueue(msg serverMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.hub.unregister(c)
	})
}

// closeAfterFlush lets the writer drain queued messages before closing.
func (c *client) closeAfterFlush() {
	c.flushOnce.Do(func() { close(c.flush) })
}

func (c *client) readPump(commands CallCommands) {
	leaving := false
	defer func() {
		if !leaving {
			c.close()
		}
	}()

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Infow("Event socket read failed", "call_id", c.key.callID, "user_id", c.key.userID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.enqueue(serverMessage{Type: msgError, Message: "rate limit exceeded"})
			continue
		}

		state, err := c.hub.handle(context.Background(), commands, c, msg)
		if err != nil {
			c.hub.logger.Debugw("Event socket message rejected", "call_id", c.key.callID, "user_id", c.key.userID, "type", msg.Type, "error", err)
			c.enqueue(serverMessage{Type: msgError, Message: err.Error()})
			continue
		}
		if msg.Type == msgLeave {
			leaving = true
			c.closeAfterFlush()
			return
		}
		if state != nil {
			c.enqueue(serverMessage{Type: msgState, State: state})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-c.flush:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
					c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg serverMessage) error {
	data, err := encode(msg)
	if err != nil {
		c.hub.logger.Errorw("Failed to encode event", "type", msg.Type, "error", err)
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
