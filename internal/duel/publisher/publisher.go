// Package publisher delivers outbound duel events to their destinations.
package publisher

import (
	"context"

	"codeduel/internal/duel/model"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sink receives outbound events. Publish must not block for long; it runs on
// the duel's event loop.
type Sink interface {
	Publish(ctx context.Context, ev model.Outbound)
}

// Fanout delivers every event to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev model.Outbound) {
	for _, sink := range f {
		publishSafe(ctx, sink, ev)
	}
}

func publishSafe(ctx context.Context, sink Sink, ev model.Outbound) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "event sink panicked", zap.String("type", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	sink.Publish(ctx, ev)
}
