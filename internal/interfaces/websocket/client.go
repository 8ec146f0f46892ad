package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"appraisal-backend/internal/domain/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send pongs and
	// the occasional control frame, so this stays small.
	maxMessageSize = 4 * 1024
)

// client owns one WebSocket connection and its bus subscription.
type client struct {
	id     string
	conn   *websocket.Conn
	events <-chan events.Event
	stream EventStream
	logger *zap.Logger
}

// readPump drains inbound frames to keep pong handling alive. The relay
// is one-way; anything the client sends besides control frames is
// ignored.
func (c *client) readPump() {
	defer func() {
		c.stream.UnsubscribeWebSocket(c.id)
		c.conn.Close()
		c.logger.Debug("read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards bus events to the peer and keeps the connection
// alive with pings. It exits when the bus closes the subscription
// channel or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write pump stopped")
	}()

	for {
		select {
		case event, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The bus closed the subscription.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := c.writeEvent(event); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}

			// Flush whatever else is already queued before going back to
			// the select.
			n := len(c.events)
			for i := 0; i < n; i++ {
				event, ok := <-c.events
				if !ok {
					return
				}
				if err := c.writeEvent(event); err != nil {
					c.logger.Warn("websocket write failed", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("event serialization failed",
			zap.String("eventID", event.ID),
			zap.Error(err),
		)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
