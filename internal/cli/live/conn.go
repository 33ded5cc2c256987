// Package live holds the CLI side of a duel websocket session.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codeduel/internal/duel/gateway"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is an open duel session.
type Conn struct {
	conn   *websocket.Conn
	events chan gateway.ServerMessage

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial opens wsURL with a bearer token.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s failed: HTTP %d", wsURL, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s failed: %w", wsURL, err)
	}
	c := &Conn{
		conn:   ws,
		events: make(chan gateway.ServerMessage, 32),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields server frames until the session ends.
func (c *Conn) Events() <-chan gateway.ServerMessage {
	return c.events
}

// Done is closed when the session ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the read loop stopped.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes one frame.
func (c *Conn) Send(msg gateway.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame failed: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send frame failed: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		var msg gateway.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.events <- msg
	}
}
