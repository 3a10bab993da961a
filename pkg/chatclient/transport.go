package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"loventia/internal/entity"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is one physical connection to the gateway. ReadEvent is called from a
// single goroutine and WriteEvent calls are serialized by the manager; Close
// may be called at any time and must unblock ReadEvent.
type Conn interface {
	ReadEvent() (entity.Event, error)
	WriteEvent(event entity.Event) error
	Close() error
}

// Dialer opens a Conn, presenting token during the handshake. It returns an
// error wrapping ErrUnauthorized when the gateway refuses the credential.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// WebsocketDialer dials the gateway with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadEvent() (entity.Event, error) {
	var event entity.Event
	err := c.conn.ReadJSON(&event)
	return event, err
}

func (c *websocketConn) WriteEvent(event entity.Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return c.conn.WriteJSON(event)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
