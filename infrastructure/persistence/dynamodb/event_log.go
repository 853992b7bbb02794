package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	eventSKPrefix    = "EVENT#"
	snapshotSK       = "SNAPSHOT#LATEST"
	idempotencyPK    = "IDEMPOTENCY#"
	logPartition     = "LOG"
	defaultTimeIndex = "gsi-log-time"
	appendAttempts   = 5
)

// EventLog implements the durable log on a single DynamoDB table.
//
// Key layout:
//
//	PK = AGGREGATE#<aggregateID>  SK = EVENT#<seq, zero padded to 20>
//	PK = AGGREGATE#<aggregateID>  SK = SNAPSHOT#LATEST
//	PK = IDEMPOTENCY#<key>        SK = APPEND
//
// The gsi-log-time index (GSI1PK = LOG, GSI1SK = TS#<RFC3339Nano>#<eventID>)
// orders all events by recording time for cross-aggregate window reads.
type EventLog struct {
	client        *dynamodb.Client
	tableName     string
	timeIndexName string
	idemTTL       time.Duration
	pollInterval  time.Duration
	logger        *zap.Logger
}

// EventLogConfig tunes the DynamoDB event log
type EventLogConfig struct {
	TableName          string
	TimeIndexName      string
	IdempotencyTTL     time.Duration
	SubscriptionPollMS int
}

// NewEventLog creates a DynamoDB-backed event log
func NewEventLog(client *dynamodb.Client, cfg EventLogConfig, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.SubscriptionPollMS <= 0 {
		cfg.SubscriptionPollMS = 250
	}
	if cfg.TimeIndexName == "" {
		cfg.TimeIndexName = defaultTimeIndex
	}

	return &EventLog{
		client:        client,
		tableName:     cfg.TableName,
		timeIndexName: cfg.TimeIndexName,
		idemTTL:       cfg.IdempotencyTTL,
		pollInterval:  time.Duration(cfg.SubscriptionPollMS) * time.Millisecond,
		logger:        logger,
	}
}

// eventRecord is the persisted shape of an envelope
type eventRecord struct {
	PK           string            `dynamodbav:"PK"`
	SK           string            `dynamodbav:"SK"`
	GSI1PK       string            `dynamodbav:"GSI1PK"`
	GSI1SK       string            `dynamodbav:"GSI1SK"`
	EventID      string            `dynamodbav:"EventID"`
	AggregateID  string            `dynamodbav:"AggregateID"`
	EventType    string            `dynamodbav:"EventType"`
	Sequence     uint64            `dynamodbav:"Sequence"`
	Payload      string            `dynamodbav:"Payload"`
	ContentHash  string            `dynamodbav:"ContentHash"`
	PreviousHash string            `dynamodbav:"PreviousHash"`
	Timestamp    string            `dynamodbav:"Timestamp"`
	Metadata     map[string]string `dynamodbav:"Metadata,omitempty"`
}

type idempotencyRecord struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	AggregateID string `dynamodbav:"AggregateID"`
	EventID     string `dynamodbav:"EventID"`
	ContentHash string `dynamodbav:"ContentHash"`
	Sequence    uint64 `dynamodbav:"Sequence"`
	TTL         int64  `dynamodbav:"TTL"`
}

func aggregatePK(aggregateID string) string {
	return "AGGREGATE#" + aggregateID
}

func eventSK(sequence uint64) string {
	return fmt.Sprintf("%s%020d", eventSKPrefix, sequence)
}

func timeSK(ts time.Time, eventID string) string {
	return "TS#" + ts.UTC().Format(time.RFC3339Nano) + "#" + eventID
}

func toRecord(env events.Envelope) eventRecord {
	return eventRecord{
		PK:           aggregatePK(env.AggregateID),
		SK:           eventSK(env.Sequence),
		GSI1PK:       logPartition,
		GSI1SK:       timeSK(env.Timestamp, env.EventID),
		EventID:      env.EventID,
		AggregateID:  env.AggregateID,
		EventType:    env.EventType,
		Sequence:     env.Sequence,
		Payload:      string(env.Payload),
		ContentHash:  env.ContentHash,
		PreviousHash: env.PreviousHash,
		Timestamp:    env.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:     env.Metadata,
	}
}

func fromRecord(record eventRecord) (events.Envelope, error) {
	ts, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return events.Envelope{}, pkgerrors.Wrap(err, "invalid timestamp on stored event "+record.EventID)
	}

	return events.Envelope{
		EventID:      record.EventID,
		AggregateID:  record.AggregateID,
		EventType:    record.EventType,
		Payload:      json.RawMessage(record.Payload),
		Sequence:     record.Sequence,
		Timestamp:    ts,
		ContentHash:  record.ContentHash,
		PreviousHash: record.PreviousHash,
		Metadata:     record.Metadata,
	}, nil
}

// Append durably appends the envelope and reports where it landed. The
// sequence slot is claimed with a conditional put, so concurrent writers
// can never both land on the same sequence; the loser retries on the next
// slot unless the caller pinned ExpectedLastSequence.
func (l *EventLog) Append(ctx context.Context, env events.Envelope, opts ports.AppendOptions) (ports.AppendResult, error) {
	if !env.Verify() {
		return ports.AppendResult{}, pkgerrors.NewCorruption(pkgerrors.CodeHashMismatch,
			"refusing to append event "+env.EventID+": content hash does not match payload")
	}

	if opts.IdempotencyKey != "" {
		original, found, err := l.lookupIdempotency(ctx, opts.IdempotencyKey)
		if err != nil {
			return ports.AppendResult{}, err
		}
		if found {
			return original, nil
		}
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		last, err := l.LastSequence(ctx, env.AggregateID)
		if err != nil {
			return ports.AppendResult{}, err
		}
		if opts.ExpectedLastSequence != nil && *opts.ExpectedLastSequence != last {
			return ports.AppendResult{}, pkgerrors.NewConflict(pkgerrors.CodeConcurrencyConflict,
				"aggregate "+env.AggregateID+" advanced past the expected sequence")
		}

		env.Sequence = last + 1
		av, err := attributevalue.MarshalMap(toRecord(env))
		if err != nil {
			return ports.AppendResult{}, pkgerrors.Wrap(err, "failed to marshal event record")
		}

		_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(l.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				if opts.ExpectedLastSequence != nil {
					return ports.AppendResult{}, pkgerrors.NewConflict(pkgerrors.CodeConcurrencyConflict,
						"aggregate "+env.AggregateID+" advanced past the expected sequence")
				}
				// Another writer claimed the slot, retry on the next one
				continue
			}
			return ports.AppendResult{}, pkgerrors.Wrap(err, "failed to append event")
		}

		if opts.IdempotencyKey != "" {
			l.storeIdempotency(ctx, opts.IdempotencyKey, env)
		}
		return ports.AppendResult{
			Sequence:    env.Sequence,
			AggregateID: env.AggregateID,
			EventID:     env.EventID,
			ContentHash: env.ContentHash,
		}, nil
	}

	return ports.AppendResult{}, pkgerrors.NewConflict(pkgerrors.CodeConcurrencyConflict,
		"gave up appending to aggregate "+env.AggregateID+" after repeated sequence contention")
}

func (l *EventLog) lookupIdempotency(ctx context.Context, key string) (ports.AppendResult, bool, error) {
	resp, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: idempotencyPK + key},
			"SK": &types.AttributeValueMemberS{Value: "APPEND"},
		},
	})
	if err != nil {
		return ports.AppendResult{}, false, pkgerrors.Wrap(err, "failed to check idempotency key")
	}
	if resp.Item == nil {
		return ports.AppendResult{}, false, nil
	}

	var record idempotencyRecord
	if err := attributevalue.UnmarshalMap(resp.Item, &record); err != nil {
		return ports.AppendResult{}, false, pkgerrors.Wrap(err, "failed to unmarshal idempotency record")
	}
	if time.Now().Unix() > record.TTL {
		// Expired but not yet reaped by DynamoDB TTL
		return ports.AppendResult{}, false, nil
	}
	return ports.AppendResult{
		Sequence:    record.Sequence,
		Duplicate:   true,
		AggregateID: record.AggregateID,
		EventID:     record.EventID,
		ContentHash: record.ContentHash,
	}, true, nil
}

// storeIdempotency records the stored event's identity for duplicate
// suppression. Failures here are logged, not returned: the event is already
// durable.
func (l *EventLog) storeIdempotency(ctx context.Context, key string, env events.Envelope) {
	record := idempotencyRecord{
		PK:          idempotencyPK + key,
		SK:          "APPEND",
		AggregateID: env.AggregateID,
		EventID:     env.EventID,
		ContentHash: env.ContentHash,
		Sequence:    env.Sequence,
		TTL:         time.Now().Add(l.idemTTL).Unix(),
	}

	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		l.logger.Warn("failed to marshal idempotency record", zap.Error(err))
		return
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return
		}
		l.logger.Warn("failed to store idempotency record",
			zap.String("aggregate_id", env.AggregateID),
			zap.Uint64("sequence", env.Sequence),
			zap.Error(err))
	}
}

// Read returns up to limit events for an aggregate with sequence > after
func (l *EventLog) Read(ctx context.Context, aggregateID string, after uint64, limit int) ([]events.Envelope, error) {
	var out []events.Envelope
	var startKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :sk_start AND :sk_end"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":       &types.AttributeValueMemberS{Value: aggregatePK(aggregateID)},
				":sk_start": &types.AttributeValueMemberS{Value: eventSK(after + 1)},
				":sk_end":   &types.AttributeValueMemberS{Value: eventSKPrefix + "99999999999999999999"},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		}
		if limit > 0 {
			remaining := limit - len(out)
			input.Limit = aws.Int32(int32(remaining))
		}

		resp, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to query events for aggregate "+aggregateID)
		}

		for _, item := range resp.Items {
			var record eventRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, pkgerrors.Wrap(err, "failed to unmarshal event record")
			}
			env, err := fromRecord(record)
			if err != nil {
				return nil, err
			}
			out = append(out, env)
		}

		if resp.LastEvaluatedKey == nil || (limit > 0 && len(out) >= limit) {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	return out, nil
}

// ReadTimeWindow returns events recorded in [start, end) matching filter
func (l *EventLog) ReadTimeWindow(ctx context.Context, start, end time.Time, filter string, limit int) ([]events.Envelope, error) {
	if filter == "" {
		filter = events.SubjectAll()
	}

	var out []events.Envelope
	var startKey map[string]types.AttributeValue

	for {
		resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			IndexName:              aws.String(l.timeIndexName),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK BETWEEN :ts_start AND :ts_end"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":       &types.AttributeValueMemberS{Value: logPartition},
				":ts_start": &types.AttributeValueMemberS{Value: "TS#" + start.UTC().Format(time.RFC3339Nano)},
				// end exclusivity is enforced on the parsed timestamp below
				":ts_end": &types.AttributeValueMemberS{Value: "TS#" + end.UTC().Format(time.RFC3339Nano) + "#~"},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to query event time window")
		}

		for _, item := range resp.Items {
			var record eventRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, pkgerrors.Wrap(err, "failed to unmarshal event record")
			}
			env, err := fromRecord(record)
			if err != nil {
				return nil, err
			}
			if !env.Timestamp.Before(end) {
				continue
			}
			if !events.MatchSubject(filter, env.Subject()) {
				continue
			}
			out = append(out, env)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}

		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	return out, nil
}

// LastSequence returns the aggregate's current high-water mark
func (l *EventLog) LastSequence(ctx context.Context, aggregateID string) (uint64, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk_prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":        &types.AttributeValueMemberS{Value: aggregatePK(aggregateID)},
			":sk_prefix": &types.AttributeValueMemberS{Value: eventSKPrefix},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read last sequence for aggregate "+aggregateID)
	}
	if len(resp.Items) == 0 {
		return 0, nil
	}

	var record eventRecord
	if err := attributevalue.UnmarshalMap(resp.Items[0], &record); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to unmarshal event record")
	}
	return record.Sequence, nil
}

// Subscribe delivers matching events by polling the time index. Polling
// trades latency for the simplicity of not running DynamoDB Streams in
// every environment; the interval is configurable.
func (l *EventLog) Subscribe(ctx context.Context, filter string, start ports.StartPosition) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter == "" {
		filter = events.SubjectAll()
	}

	var since time.Time
	switch start.Policy {
	case ports.ReplayLatest:
		since = time.Now().UTC()
	case ports.ReplayByTime:
		since = start.StartTime
	default:
		// from_beginning and after_sequence scan from the epoch; the
		// sequence cut is applied per event below
	}

	sub := &pollSubscription{
		log:    l,
		filter: filter,
		start:  start,
		since:  since,
		seen:   make(map[string]struct{}),
		ch:     make(chan events.Envelope),
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

// pollSubscription tails the time index with a moving watermark. Events
// sharing the watermark timestamp are deduplicated by event ID so a poll
// boundary never drops or double-delivers.
type pollSubscription struct {
	log    *EventLog
	filter string
	start  ports.StartPosition
	since  time.Time
	seen   map[string]struct{}

	ch   chan events.Envelope
	done chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *pollSubscription) Events() <-chan events.Envelope { return s.ch }

func (s *pollSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *pollSubscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *pollSubscription) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.Close()
}

func (s *pollSubscription) run(ctx context.Context) {
	defer close(s.ch)

	ticker := time.NewTicker(s.log.pollInterval)
	defer ticker.Stop()

	for {
		if !s.poll(ctx) {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case <-s.done:
			return
		}
	}
}

func (s *pollSubscription) poll(ctx context.Context) bool {
	end := time.Now().UTC().Add(time.Second)
	batch, err := s.log.ReadTimeWindow(ctx, s.since, end, s.filter, 0)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(ctx.Err())
		} else {
			s.fail(err)
		}
		return false
	}

	for _, env := range batch {
		if _, dup := s.seen[env.EventID]; dup {
			continue
		}
		if !s.wants(env) {
			s.remember(env)
			continue
		}

		select {
		case s.ch <- env:
			s.remember(env)
		case <-ctx.Done():
			s.fail(ctx.Err())
			return false
		case <-s.done:
			return false
		}
	}
	return true
}

// remember advances the watermark and keeps IDs only for events at the
// watermark timestamp, bounding the dedup set.
func (s *pollSubscription) remember(env events.Envelope) {
	if env.Timestamp.After(s.since) {
		s.since = env.Timestamp
		s.seen = map[string]struct{}{env.EventID: {}}
		return
	}
	s.seen[env.EventID] = struct{}{}
}

func (s *pollSubscription) wants(env events.Envelope) bool {
	if s.start.Policy == ports.ReplayAfterSequence && env.Sequence <= s.start.AfterSequence {
		return false
	}
	return true
}
