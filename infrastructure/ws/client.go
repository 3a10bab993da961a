package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 256
)

// UserClient is one authenticated websocket connection. A user with several
// devices has several clients.
type UserClient struct {
	UserId string

	hub  IHub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// closed is guarded by the hub's mutex.
	closed bool
}

func NewUserClient(hub IHub, conn *websocket.Conn, userId string, log zerolog.Logger) *UserClient {
	return &UserClient{
		UserId: userId,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		log:    log.With().Str("user_id", userId).Logger(),
	}
}

// Send queues a frame for this connection only.
func (c *UserClient) Send(message []byte) bool {
	return c.hub.SendToClient(c, message)
}

// ReadPump reads frames and hands each one to handle, sequentially. It
// unregisters the client when the connection ends.
func (c *UserClient) ReadPump(handle func(client *UserClient, payload []byte)) {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		// Any frame proves liveness, not only pong control frames.
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		handle(c, payload)
	}
}

// WritePump drains the send queue and pings the peer. It exits when the hub
// closes the queue or a write fails.
func (c *UserClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
