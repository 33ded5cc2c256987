// Package gateway carries duel traffic between player sockets and the registry.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	commonmw "codeduel/internal/common/http/middleware"
	"codeduel/internal/duel/machine"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Duels is the registry surface the gateway needs.
type Duels interface {
	Dispatch(ctx context.Context, duelID string, ev machine.Event) error
	Get(duelID string) (*model.Duel, error)
	Touch(duelID string)
}

// Config tunes socket handling.
type Config struct {
	SendBuffer      int           `yaml:"sendBuffer"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes"`
	WriteWait       time.Duration `yaml:"writeWait"`
	PongWait        time.Duration `yaml:"pongWait"`
	PingInterval    time.Duration `yaml:"pingInterval"`
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`
	// AllowedOrigins lists accepted Origin headers; empty accepts any.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 128 << 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 5 * time.Second
	}
}

// Gateway upgrades duel connections and routes their frames.
type Gateway struct {
	cfg      Config
	hub      *Hub
	duels    Duels
	verifier TokenVerifier
	upgrader websocket.Upgrader
}

func New(cfg Config, hub *Hub, duels Duels, verifier TokenVerifier) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{cfg: cfg, hub: hub, duels: duels, verifier: verifier}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ServeWS handles GET /ws/duels/:id. The token comes from the token query
// parameter or a bearer Authorization header.
func (g *Gateway) ServeWS(c *gin.Context) {
	duelID := c.Param("id")
	ident, err := g.verifier.Verify(c.Request.Context(), tokenFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	snap, err := g.duels.Get(duelID)
	if err != nil {
		response.Error(c, err)
		return
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := logger.WithUser(logger.WithDuel(context.Background(), duelID), ident.UserID)
	cl := &client{
		gw:     g,
		conn:   conn,
		duelID: duelID,
		userID: ident.UserID,
		ctx:    ctx,
		send:   make(chan []byte, g.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	g.hub.register(cl)
	logger.Info(ctx, "player socket opened")
	cl.reply(fromOutbound(model.StateChanged(snap)))

	go cl.writeLoop()
	go cl.readLoop()
}

func (g *Gateway) disconnect(c *client) {
	ctx, cancel := context.WithTimeout(c.ctx, g.cfg.DispatchTimeout)
	defer cancel()
	err := g.duels.Dispatch(ctx, c.duelID, machine.Disconnect{UserID: c.userID})
	switch {
	case err == nil:
		logger.Info(c.ctx, "player socket closed")
	case appErr.Is(err, appErr.NotParticipant), appErr.Is(err, appErr.DuelNotFound):
	default:
		logger.Warn(c.ctx, "report disconnect failed", zap.Error(err))
	}
}

func tokenFrom(c *gin.Context) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	return commonmw.BearerToken(c.GetHeader("Authorization"))
}
