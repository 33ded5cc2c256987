package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"codeduel/internal/duel/model"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Hub tracks open sockets per duel and broadcasts duel events to them.
type Hub struct {
	mu    sync.RWMutex
	duels map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{duels: make(map[string]map[*client]struct{})}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.duels[c.duelID]
	if !ok {
		set = make(map[*client]struct{})
		h.duels[c.duelID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c and reports whether its user has no other socket on the duel.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.duels[c.duelID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.duels, c.duelID)
	}
	for other := range set {
		if other.userID == c.userID {
			return false
		}
	}
	return true
}

// Connections returns the number of open sockets on a duel.
func (h *Hub) Connections(duelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.duels[duelID])
}

// Publish encodes ev once and queues it on every socket of the duel.
// A socket whose queue is full is closed rather than allowed to stall the duel.
func (h *Hub) Publish(ctx context.Context, ev model.Outbound) {
	payload, err := json.Marshal(fromOutbound(ev))
	if err != nil {
		logger.Error(ctx, "encode outbound event failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.duels[ev.DuelID]))
	for c := range h.duels[ev.DuelID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if !c.enqueue(payload) {
			logger.Warn(ctx, "socket too slow, closing", zap.String("user_id", c.userID))
			c.close()
		}
	}
}
