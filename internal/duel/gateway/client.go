package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeduel/internal/duel/machine"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type client struct {
	gw     *Gateway
	conn   *websocket.Conn
	duelID string
	userID string
	ctx    context.Context

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) reply(msg ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error(c.ctx, "encode reply failed", zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readLoop handles inbound frames until the socket fails, then reports the disconnect.
func (c *client) readLoop() {
	defer func() {
		c.close()
		if c.gw.hub.unregister(c) {
			c.gw.disconnect(c)
		}
	}()
	cfg := c.gw.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(c.ctx, "socket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(errorMessage(c.duelID, "", appErr.Wrapf(err, appErr.InvalidFormat, "malformed message")))
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg ClientMessage) {
	var ev machine.Event
	switch msg.Type {
	case TypeJoinDuel:
		ev = machine.Join{UserID: c.userID}
	case TypeReadyUp:
		ev = machine.Ready{UserID: c.userID}
	case TypeReconnect:
		ev = machine.Reconnect{UserID: c.userID}
	case TypeSubmitSolution:
		var p SubmitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.reply(errorMessage(c.duelID, msg.RequestID, appErr.Wrapf(err, appErr.InvalidFormat, "malformed submit payload")))
			return
		}
		ev = machine.Submit{UserID: c.userID, Code: p.Code, Language: p.Language}
	case TypePing:
		c.gw.duels.Touch(c.duelID)
		c.reply(ServerMessage{Type: TypePong, DuelID: c.duelID, RequestID: msg.RequestID})
		return
	default:
		c.reply(errorMessage(c.duelID, msg.RequestID, appErr.Newf(appErr.InvalidParams, "unknown message type %q", msg.Type)))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.gw.cfg.DispatchTimeout)
	defer cancel()
	if err := c.gw.duels.Dispatch(ctx, c.duelID, ev); err != nil {
		if !appErr.IsProtocol(err) {
			logger.Warn(c.ctx, "duel event failed", zap.String("event", ev.Name()), zap.Error(err))
		}
		c.reply(errorMessage(c.duelID, msg.RequestID, err))
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *client) writeLoop() {
	cfg := c.gw.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(cfg.WriteWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}
