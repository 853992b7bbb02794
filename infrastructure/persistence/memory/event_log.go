package memory

import (
	"context"
	"sync"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"

	"go.uber.org/zap"
)

// EventLog is an in-memory implementation of the durable log, used by tests
// and single-process deployments. It provides the same ordering guarantees
// as the DynamoDB implementation: strictly monotonic per-aggregate
// sequences, at-least-once ordered delivery, and an idempotency-token
// duplicate-suppression window for retried appends.
type EventLog struct {
	mu   sync.Mutex
	cond *sync.Cond

	// entries is the global append order; streams indexes it per aggregate.
	// Per-aggregate sequences are contiguous from 1, so stream position n-1
	// holds sequence n.
	entries []events.Envelope
	streams map[string][]int

	sequences  map[string]uint64
	idem       map[string]idemEntry
	idemWindow time.Duration

	logger *zap.Logger
}

type idemEntry struct {
	aggregateID string
	eventID     string
	contentHash string
	sequence    uint64
	expiresAt   time.Time
}

// NewEventLog creates an in-memory event log with the given duplicate
// suppression window
func NewEventLog(idemWindow time.Duration, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idemWindow <= 0 {
		idemWindow = 5 * time.Minute
	}

	log := &EventLog{
		streams:    make(map[string][]int),
		sequences:  make(map[string]uint64),
		idem:       make(map[string]idemEntry),
		idemWindow: idemWindow,
		logger:     logger,
	}
	log.cond = sync.NewCond(&log.mu)
	return log
}

// Append durably appends the envelope and reports where it landed
func (l *EventLog) Append(ctx context.Context, env events.Envelope, opts ports.AppendOptions) (ports.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.AppendResult{}, err
	}
	if !env.Verify() {
		return ports.AppendResult{}, pkgerrors.NewCorruption(pkgerrors.CodeHashMismatch,
			"refusing to append event "+env.EventID+": content hash does not match payload")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if opts.IdempotencyKey != "" {
		if entry, ok := l.idem[opts.IdempotencyKey]; ok && now.Before(entry.expiresAt) {
			// Retried append: hand back the original identity, store nothing
			return ports.AppendResult{
				Sequence:    entry.sequence,
				Duplicate:   true,
				AggregateID: entry.aggregateID,
				EventID:     entry.eventID,
				ContentHash: entry.contentHash,
			}, nil
		}
	}

	current := l.sequences[env.AggregateID]
	if opts.ExpectedLastSequence != nil && *opts.ExpectedLastSequence != current {
		return ports.AppendResult{}, pkgerrors.NewConflict(pkgerrors.CodeConcurrencyConflict,
			"aggregate "+env.AggregateID+" advanced past the expected sequence")
	}

	seq := current + 1
	env.Sequence = seq

	l.entries = append(l.entries, env)
	l.streams[env.AggregateID] = append(l.streams[env.AggregateID], len(l.entries)-1)
	l.sequences[env.AggregateID] = seq

	if opts.IdempotencyKey != "" {
		l.idem[opts.IdempotencyKey] = idemEntry{
			aggregateID: env.AggregateID,
			eventID:     env.EventID,
			contentHash: env.ContentHash,
			sequence:    seq,
			expiresAt:   now.Add(l.idemWindow),
		}
		l.pruneIdemLocked(now)
	}

	l.cond.Broadcast()
	return ports.AppendResult{
		Sequence:    seq,
		AggregateID: env.AggregateID,
		EventID:     env.EventID,
		ContentHash: env.ContentHash,
	}, nil
}

// Read returns up to limit events for an aggregate with sequence > after
func (l *EventLog) Read(ctx context.Context, aggregateID string, after uint64, limit int) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[aggregateID]
	if after >= uint64(len(stream)) {
		return nil, nil
	}

	indexes := stream[after:]
	if limit > 0 && len(indexes) > limit {
		indexes = indexes[:limit]
	}

	out := make([]events.Envelope, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, l.entries[idx])
	}
	return out, nil
}

// ReadTimeWindow returns events recorded in [start, end) matching filter
func (l *EventLog) ReadTimeWindow(ctx context.Context, start, end time.Time, filter string, limit int) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter == "" {
		filter = events.SubjectAll()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []events.Envelope
	for _, env := range l.entries {
		if env.Timestamp.Before(start) || !env.Timestamp.Before(end) {
			continue
		}
		if !events.MatchSubject(filter, env.Subject()) {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LastSequence returns the aggregate's high-water mark
func (l *EventLog) LastSequence(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequences[aggregateID], nil
}

// Subscribe delivers matching events in order starting at the given position
func (l *EventLog) Subscribe(ctx context.Context, filter string, start ports.StartPosition) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter == "" {
		filter = events.SubjectAll()
	}

	l.mu.Lock()
	sub := &subscription{
		log:    l,
		filter: filter,
		start:  start,
		ch:     make(chan events.Envelope),
		done:   make(chan struct{}),
	}
	if start.Policy == ports.ReplayLatest {
		sub.pos = len(l.entries)
	}
	l.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.fail(ctx.Err())
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (l *EventLog) pruneIdemLocked(now time.Time) {
	for key, entry := range l.idem {
		if now.After(entry.expiresAt) {
			delete(l.idem, key)
		}
	}
}

// subscription is a cursor over the log's global append order. The cursor
// never blocks appends; slow consumers only delay their own channel.
type subscription struct {
	log    *EventLog
	filter string
	start  ports.StartPosition
	pos    int

	ch   chan events.Envelope
	done chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Events returns the delivery channel
func (s *subscription) Events() <-chan events.Envelope {
	return s.ch
}

// Err reports why the subscription ended
func (s *subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close cancels the subscription and releases the cursor
func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake the pump if it is waiting for new entries
		s.log.mu.Lock()
		s.log.cond.Broadcast()
		s.log.mu.Unlock()
	})
}

func (s *subscription) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.Close()
}

func (s *subscription) pump() {
	defer close(s.ch)

	for {
		s.log.mu.Lock()
		for s.pos >= len(s.log.entries) {
			if s.isDone() {
				s.log.mu.Unlock()
				return
			}
			s.log.cond.Wait()
		}
		env := s.log.entries[s.pos]
		s.pos++
		s.log.mu.Unlock()

		if s.isDone() {
			return
		}
		if !s.wants(env) {
			continue
		}

		select {
		case s.ch <- env:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) wants(env events.Envelope) bool {
	if !events.MatchSubject(s.filter, env.Subject()) {
		return false
	}
	switch s.start.Policy {
	case ports.ReplayAfterSequence:
		return env.Sequence > s.start.AfterSequence
	case ports.ReplayByTime:
		return !env.Timestamp.Before(s.start.StartTime)
	default:
		return true
	}
}
