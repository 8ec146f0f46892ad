// Package websocket streams bus events to connected clients. Each
// connection gets its own buffered channel from the bus; a client that
// cannot keep up loses events rather than slowing the bus down.
package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"appraisal-backend/internal/domain/events"
)

// EventStream is the bus surface the relay depends on.
type EventStream interface {
	SubscribeWebSocket(connectionID string) <-chan events.Event
	UnsubscribeWebSocket(connectionID string)
}

// Relay upgrades HTTP requests and pipes bus events to the peer.
type Relay struct {
	stream   EventStream
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRelay creates a relay. A nil checkOrigin allows all origins, which
// suits development; production deployments should pass a real check.
func NewRelay(stream EventStream, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Relay{
		stream: stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and streams events until the peer
// disconnects or the bus shuts down.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed",
			zap.String("remoteAddr", req.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	connectionID := uuid.New().String()
	c := &client{
		id:     connectionID,
		conn:   conn,
		events: r.stream.SubscribeWebSocket(connectionID),
		stream: r.stream,
		logger: r.logger.With(zap.String("connectionID", connectionID)),
	}

	go c.writePump()
	go c.readPump()

	r.logger.Info("websocket connection established",
		zap.String("connectionID", connectionID),
		zap.String("remoteAddr", req.RemoteAddr),
	)
}
