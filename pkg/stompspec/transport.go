package stompspec

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single transport connection carrying one STOMP frame per message.
// Implementations do not need to be safe for concurrent writers; the Client
// serializes all writes.
type Conn interface {
	// ReadMessage blocks until the next message arrives
	ReadMessage() ([]byte, error)

	// WriteMessage writes a single message
	WriteMessage(data []byte) error

	// Close closes the connection
	Close() error
}

// Dialer establishes transport connections. Injectable so tests can run
// against an in-memory transport.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials STOMP-over-WebSocket endpoints using gorilla/websocket
type WebSocketDialer struct {
	// HandshakeTimeout bounds the WebSocket handshake (default 10s)
	HandshakeTimeout time.Duration
}

// DialContext implements the Dialer interface
func (d *WebSocketDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp"},
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla websocket connection to the Conn interface
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	// Best effort close frame; the peer may already be gone
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
