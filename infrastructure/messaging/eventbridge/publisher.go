// Package eventbridge publishes committed log events to AWS EventBridge for
// downstream consumers. Publication is fan-out only; the durable log remains
// the source of truth, so a failed publish never rolls back an append.
package eventbridge

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// EventBridge limits PutEvents to 10 entries per call
const maxBatchSize = 10

// RetryConfig bounds the publish retry loop
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryConfig returns the default publish retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Publisher sends sealed envelopes to an EventBridge bus
type Publisher struct {
	client  *eventbridge.Client
	busName string
	source  string
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPublisher creates an EventBridge publisher
func NewPublisher(client *eventbridge.Client, busName string, retry RetryConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventbridge-publisher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Publisher{
		client:  client,
		busName: busName,
		source:  events.SourceBackend,
		retry:   retry,
		breaker: breaker,
		logger:  logger,
	}
}

// Publish sends a single event
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	return p.PublishBatch(ctx, []events.Envelope{env})
}

// PublishBatch sends envelopes in EventBridge-sized chunks. Each chunk is
// retried with backoff; exhaustion surfaces as a PublishFailed error the
// caller can treat as non-fatal.
func (p *Publisher) PublishBatch(ctx context.Context, envs []events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	for i := 0; i < len(envs); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(envs) {
			end = len(envs)
		}
		if err := p.publishWithRetry(ctx, envs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishWithRetry(ctx context.Context, batch []events.Envelope) error {
	var lastErr error

	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.putEvents(ctx, batch)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.retry.MaxAttempts-1 {
			delay := p.backoffDelay(attempt)
			p.logger.Warn("retrying event publication",
				zap.Int("attempt", attempt+1),
				zap.Int("batch_size", len(batch)),
				zap.Duration("backoff", delay),
				zap.Error(err))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return pkgerrors.NewUnavailable(pkgerrors.CodePublishFailed,
		"event publication exhausted retries", lastErr)
}

func (p *Publisher) backoffDelay(attempt int) time.Duration {
	delay := float64(p.retry.BaseDelay) * math.Pow(p.retry.BackoffFactor, float64(attempt))
	if max := float64(p.retry.MaxDelay); delay > max {
		delay = max
	}
	// Jitter spreads synchronized retries apart
	jitter := delay * p.retry.JitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(delay + jitter)
}

// eventDetail is the bus-facing shape of a published event. It carries the
// chain hashes alongside the payload so consumers can verify ordering and
// integrity without reading the log.
type eventDetail struct {
	EventID      string          `json:"event_id"`
	AggregateID  string          `json:"aggregate_id"`
	Sequence     uint64          `json:"sequence"`
	ContentHash  string          `json:"content_hash"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func marshalDetail(env events.Envelope) (string, error) {
	raw, err := json.Marshal(eventDetail{
		EventID:      env.EventID,
		AggregateID:  env.AggregateID,
		Sequence:     env.Sequence,
		ContentHash:  env.ContentHash,
		PreviousHash: env.PreviousHash,
		Payload:      env.Payload,
	})
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to marshal event detail for "+env.EventID)
	}
	return string(raw), nil
}

func (p *Publisher) putEvents(ctx context.Context, batch []events.Envelope) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, env := range batch {
		detail, err := marshalDetail(env)
		if err != nil {
			return err
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(env.EventType),
			Detail:       aws.String(detail),
			Time:         aws.Time(env.Timestamp),
			Resources:    []string{"arn:graphledger::" + env.AggregateID},
		})
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return pkgerrors.Wrap(err, "PutEvents call failed")
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("event rejected by the bus",
					zap.String("event_id", batch[i].EventID),
					zap.String("event_type", batch[i].EventType),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)))
			}
		}
		return pkgerrors.NewUnavailable(pkgerrors.CodePublishFailed,
			"the bus rejected part of the batch", nil)
	}

	p.logger.Debug("events published",
		zap.Int("count", len(entries)),
		zap.String("bus", p.busName))
	return nil
}
