// Package fetch implements transactional batch retrieval: reading a
// verified slice of the event log as one unit of work. A fetch that hits
// its event cap or deadline returns a partial transaction, never an error;
// a fetch that fails chain verification returns a corruption error.
package fetch

import (
	"context"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"
	"graphledger-backend/pkg/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// readPageSize bounds individual log reads inside a transaction
const readPageSize = 200

// Request describes one fetch transaction
type Request struct {
	AggregateID string

	// Policy selects the starting point. ReplayAfterSequence requires an
	// Anchor recording the hash at the resume watermark so the tail can be
	// verified without re-reading history.
	Policy ports.ReplayPolicy
	Anchor *events.ChainAnchor

	// MaxEvents and Timeout override the fetcher defaults when positive
	MaxEvents int
	Timeout   time.Duration
}

// Metadata records how a transaction was assembled
type Metadata struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Policy    ports.ReplayPolicy `json:"policy"`
	Filter    string             `json:"filter,omitempty"`

	// Partial marks a transaction truncated by its event cap or deadline.
	// The events present are still verified and usable; the caller resumes
	// with an after_sequence fetch anchored on the last event.
	Partial bool `json:"partial"`

	// CorruptAggregates lists aggregates excluded from a time-window fetch
	// because their sub-chain failed verification
	CorruptAggregates []string `json:"corrupt_aggregates,omitempty"`
}

// Transaction is a verified, atomic view of a log slice. Events within a
// transaction are contiguous per aggregate and already chain-verified.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	AggregateID   string            `json:"aggregate_id,omitempty"`
	FirstSequence uint64            `json:"first_sequence"`
	LastSequence  uint64            `json:"last_sequence"`
	Events        []events.Envelope `json:"events"`
	Metadata      Metadata          `json:"metadata"`
}

// Fetcher assembles fetch transactions from the durable log
type Fetcher struct {
	log       ports.EventLog
	maxEvents int
	timeout   time.Duration
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewFetcher creates a fetcher with default caps
func NewFetcher(log ports.EventLog, maxEvents int, timeout time.Duration, metrics *observability.Collector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		log:       log,
		maxEvents: maxEvents,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// FetchTransaction reads one aggregate's events according to the request
// policy and verifies the slice before returning it.
func (f *Fetcher) FetchTransaction(ctx context.Context, req Request) (*Transaction, error) {
	if req.AggregateID == "" {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeAggregateNotFound, "aggregate ID is required")
	}

	maxEvents := req.MaxEvents
	if maxEvents <= 0 || maxEvents > f.maxEvents {
		maxEvents = f.maxEvents
	}
	timeout := req.Timeout
	if timeout <= 0 || timeout > f.timeout {
		timeout = f.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if f.metrics != nil {
		f.metrics.FetchesStarted.Inc()
	}

	var after uint64
	switch req.Policy {
	case ports.ReplayFromBeginning, "":
	case ports.ReplayAfterSequence:
		if req.Anchor == nil {
			return nil, pkgerrors.NewValidation(pkgerrors.CodeChainBroken,
				"resuming after a sequence requires the chain anchor at that sequence")
		}
		after = req.Anchor.Sequence
	case ports.ReplayLatest:
		return f.emptyTransaction(ctx, req)
	default:
		return nil, pkgerrors.NewValidation(pkgerrors.CodeChainBroken,
			"unsupported replay policy "+string(req.Policy))
	}

	batch, partial, err := f.readCapped(ctx, req.AggregateID, after, maxEvents)
	if err != nil {
		return nil, err
	}

	if req.Policy == ports.ReplayAfterSequence {
		err = events.VerifyChainFrom(*req.Anchor, batch)
	} else {
		err = events.VerifyChain(batch)
	}
	if err != nil {
		f.countCorruption(err)
		return nil, err
	}

	txn := &Transaction{
		TransactionID: uuid.New().String(),
		AggregateID:   req.AggregateID,
		Events:        batch,
		Metadata: Metadata{
			FetchedAt: time.Now().UTC(),
			Policy:    req.Policy,
			Partial:   partial,
		},
	}
	if len(batch) > 0 {
		txn.FirstSequence = batch[0].Sequence
		txn.LastSequence = batch[len(batch)-1].Sequence
	}

	if partial && f.metrics != nil {
		f.metrics.FetchesPartial.Inc()
	}
	return txn, nil
}

// readCapped pages through the stream until the cap, the end, or the
// deadline. Hitting the deadline truncates rather than fails: events read
// so far still form a verifiable prefix.
func (f *Fetcher) readCapped(ctx context.Context, aggregateID string, after uint64, maxEvents int) ([]events.Envelope, bool, error) {
	var out []events.Envelope

	for len(out) < maxEvents {
		pageSize := readPageSize
		if remaining := maxEvents - len(out); remaining < pageSize {
			pageSize = remaining
		}

		page, err := f.log.Read(ctx, aggregateID, after, pageSize)
		if err != nil {
			if ctx.Err() != nil && len(out) > 0 {
				return out, true, nil
			}
			return nil, false, err
		}
		if len(page) == 0 {
			return out, false, nil
		}

		out = append(out, page...)
		after = page[len(page)-1].Sequence

		if ctx.Err() != nil {
			break
		}
	}

	// Full when the stream ends exactly at the cap
	more, err := f.log.Read(context.WithoutCancel(ctx), aggregateID, after, 1)
	if err != nil {
		return out, true, nil
	}
	return out, len(more) > 0, nil
}

func (f *Fetcher) emptyTransaction(ctx context.Context, req Request) (*Transaction, error) {
	last, err := f.log.LastSequence(ctx, req.AggregateID)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TransactionID: uuid.New().String(),
		AggregateID:   req.AggregateID,
		FirstSequence: last,
		LastSequence:  last,
		Metadata: Metadata{
			FetchedAt: time.Now().UTC(),
			Policy:    ports.ReplayLatest,
		},
	}, nil
}

// FetchTimeWindow reads events across aggregates recorded in [start, end)
// whose subject matches filter. Each aggregate's sub-chain is verified
// independently; a corrupt aggregate is excluded and reported in the
// metadata instead of poisoning the whole transaction.
func (f *Fetcher) FetchTimeWindow(ctx context.Context, start, end time.Time, filter string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.metrics != nil {
		f.metrics.FetchesStarted.Inc()
	}

	batch, err := f.log.ReadTimeWindow(ctx, start, end, filter, f.maxEvents)
	if err != nil {
		return nil, err
	}

	byAggregate := make(map[string][]events.Envelope)
	order := make([]string, 0)
	for _, env := range batch {
		if _, seen := byAggregate[env.AggregateID]; !seen {
			order = append(order, env.AggregateID)
		}
		byAggregate[env.AggregateID] = append(byAggregate[env.AggregateID], env)
	}

	var kept []events.Envelope
	var corrupt []string
	for _, aggregateID := range order {
		subChain := byAggregate[aggregateID]
		if err := verifyWindowSlice(subChain); err != nil {
			f.countCorruption(err)
			f.logger.Warn("excluding corrupt aggregate from time-window fetch",
				zap.String("aggregate_id", aggregateID),
				zap.Error(err))
			corrupt = append(corrupt, aggregateID)
			continue
		}
		kept = append(kept, subChain...)
	}

	txn := &Transaction{
		TransactionID: uuid.New().String(),
		Events:        kept,
		Metadata: Metadata{
			FetchedAt:         time.Now().UTC(),
			Policy:            ports.ReplayByTime,
			Filter:            filter,
			Partial:           len(batch) >= f.maxEvents,
			CorruptAggregates: corrupt,
		},
	}
	if len(kept) > 0 {
		txn.FirstSequence = kept[0].Sequence
		txn.LastSequence = kept[len(kept)-1].Sequence
	}
	return txn, nil
}

// verifyWindowSlice checks a window cut of one aggregate's chain. The cut
// may start mid-chain, so linkage is only enforced between events that are
// sequence-adjacent inside the slice; every event's own hash must hold.
func verifyWindowSlice(slice []events.Envelope) error {
	for i, env := range slice {
		if !env.Verify() {
			return pkgerrors.NewCorruption(pkgerrors.CodeHashMismatch,
				"event "+env.EventID+" content hash does not match its payload")
		}
		if i == 0 {
			continue
		}
		prev := slice[i-1]
		if env.Sequence == prev.Sequence+1 && env.PreviousHash != prev.ContentHash {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken,
				"event "+env.EventID+" does not link to its predecessor")
		}
		if env.Sequence <= prev.Sequence {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken,
				"event "+env.EventID+" is out of order in its stream")
		}
	}
	return nil
}

func (f *Fetcher) countCorruption(err error) {
	if f.metrics == nil {
		return
	}
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodeHashMismatch):
		f.metrics.ChainCorruptions.WithLabelValues("hash_mismatch").Inc()
	case pkgerrors.HasCode(err, pkgerrors.CodeChainBroken):
		f.metrics.ChainCorruptions.WithLabelValues("chain_broken").Inc()
	}
}
