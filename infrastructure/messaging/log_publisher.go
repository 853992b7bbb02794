// Package messaging holds event publication adapters. The log publisher is
// the local-mode stand-in for EventBridge: it records what would have been
// published without leaving the process.
package messaging

import (
	"context"

	"graphledger-backend/domain/events"

	"go.uber.org/zap"
)

// LogPublisher writes published events to the application log
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that only logs
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs a single event
func (p *LogPublisher) Publish(ctx context.Context, env events.Envelope) error {
	return p.PublishBatch(ctx, []events.Envelope{env})
}

// PublishBatch logs each event in the batch
func (p *LogPublisher) PublishBatch(ctx context.Context, envs []events.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, env := range envs {
		p.logger.Info("event published",
			zap.String("event_id", env.EventID),
			zap.String("subject", env.Subject()),
			zap.Uint64("sequence", env.Sequence))
	}
	return nil
}
