// Package bridge connects synchronous callers to the asynchronous core:
// commands enter through a bounded queue that applies backpressure, and
// events leave through a bounded buffer that sheds oldest-first when
// consumers fall behind. Both bounds are explicit; nothing here grows
// without limit.
package bridge

import (
	"context"
	"sync"
	"time"

	"graphledger-backend/application/commands"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"
	"graphledger-backend/pkg/observability"

	"go.uber.org/zap"
)

// CommandFunc executes one command against the write side
type CommandFunc func(ctx context.Context) (*commands.CommandResult, error)

type commandOutcome struct {
	result *commands.CommandResult
	err    error
}

type pendingCommand struct {
	ctx     context.Context
	run     CommandFunc
	outcome chan commandOutcome
}

// Health reports the bridge's live state
type Health struct {
	Running        bool   `json:"running"`
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	BufferedEvents int    `json:"buffered_events"`
	BufferCapacity int    `json:"buffer_capacity"`
	DroppedEvents  uint64 `json:"dropped_events"`
}

// Bridge is the async boundary between callers and the event-sourced core
type Bridge struct {
	queue         chan pendingCommand
	submitTimeout time.Duration

	mu        sync.Mutex
	buffer    []events.Envelope
	bufferCap int
	dropped   uint64
	arrival   chan struct{}

	running bool
	runMu   sync.Mutex

	metrics *observability.Collector
	logger  *zap.Logger
}

// New creates a bridge with the given queue and buffer bounds
func New(queueSize, bufferSize int, submitTimeout time.Duration, metrics *observability.Collector, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if submitTimeout <= 0 {
		submitTimeout = time.Second
	}
	return &Bridge{
		queue:         make(chan pendingCommand, queueSize),
		submitTimeout: submitTimeout,
		buffer:        make([]events.Envelope, 0, bufferSize),
		bufferCap:     bufferSize,
		arrival:       make(chan struct{}, 1),
		metrics:       metrics,
		logger:        logger,
	}
}

// Run consumes the command queue with the given worker count until ctx is
// done. Commands already queued when ctx ends are failed, not dropped
// silently.
func (b *Bridge) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}

	b.runMu.Lock()
	b.running = true
	b.runMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx)
		}()
	}
	wg.Wait()

	b.runMu.Lock()
	b.running = false
	b.runMu.Unlock()
}

func (b *Bridge) worker(ctx context.Context) {
	for {
		select {
		case pending := <-b.queue:
			b.execute(pending)
		case <-ctx.Done():
			b.failRemaining(ctx.Err())
			return
		}
	}
}

func (b *Bridge) execute(pending pendingCommand) {
	result, err := pending.run(pending.ctx)
	pending.outcome <- commandOutcome{result: result, err: err}
	if b.metrics != nil {
		b.metrics.BridgeCommands.Inc()
	}
}

func (b *Bridge) failRemaining(cause error) {
	for {
		select {
		case pending := <-b.queue:
			pending.outcome <- commandOutcome{
				err: pkgerrors.NewUnavailable(pkgerrors.CodeConsumerDisconnected,
					"bridge shut down before the command ran", cause),
			}
		default:
			return
		}
	}
}

// Submit enqueues a command and blocks until it completes. A full queue
// applies backpressure for up to the submit timeout, then rejects.
func (b *Bridge) Submit(ctx context.Context, run CommandFunc) (*commands.CommandResult, error) {
	pending := pendingCommand{
		ctx:     ctx,
		run:     run,
		outcome: make(chan commandOutcome, 1),
	}

	timer := time.NewTimer(b.submitTimeout)
	defer timer.Stop()

	select {
	case b.queue <- pending:
	case <-timer.C:
		return nil, pkgerrors.NewUnavailable(pkgerrors.CodeConsumerDisconnected,
			"command queue is full", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case outcome := <-pending.outcome:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OfferEvent hands an event to the outbound buffer. When the buffer is
// full the oldest event is dropped and counted; consumers that need every
// event recover from the durable log, not from this buffer.
func (b *Bridge) OfferEvent(env events.Envelope) {
	b.mu.Lock()
	if len(b.buffer) >= b.bufferCap {
		copy(b.buffer, b.buffer[1:])
		b.buffer = b.buffer[:len(b.buffer)-1]
		b.dropped++
		if b.metrics != nil {
			b.metrics.BridgeEventsDropped.Inc()
		}
		b.logger.Warn("dropping oldest buffered event",
			zap.Uint64("total_dropped", b.dropped))
	}
	b.buffer = append(b.buffer, env)
	b.mu.Unlock()

	select {
	case b.arrival <- struct{}{}:
	default:
	}
}

// DrainEvents returns up to maxBatch buffered events, waiting up to
// batchTimeout for the first one. An empty slice means the timeout passed
// with nothing to deliver.
func (b *Bridge) DrainEvents(ctx context.Context, maxBatch int, batchTimeout time.Duration) ([]events.Envelope, error) {
	if maxBatch <= 0 {
		maxBatch = 100
	}

	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	for {
		if batch := b.takeBatch(maxBatch); len(batch) > 0 {
			return batch, nil
		}

		select {
		case <-b.arrival:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Bridge) takeBatch(maxBatch int) []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) == 0 {
		return nil
	}
	n := len(b.buffer)
	if n > maxBatch {
		n = maxBatch
	}

	batch := make([]events.Envelope, n)
	copy(batch, b.buffer[:n])
	remaining := copy(b.buffer, b.buffer[n:])
	b.buffer = b.buffer[:remaining]
	return batch
}

// Health reports queue depth, buffer occupancy, and drop counts
func (b *Bridge) Health() Health {
	b.runMu.Lock()
	running := b.running
	b.runMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		Running:        running,
		QueueDepth:     len(b.queue),
		QueueCapacity:  cap(b.queue),
		BufferedEvents: len(b.buffer),
		BufferCapacity: b.bufferCap,
		DroppedEvents:  b.dropped,
	}
}
