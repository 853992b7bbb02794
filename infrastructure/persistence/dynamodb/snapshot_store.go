package dynamodb

import (
	"context"
	"time"

	"graphledger-backend/application/ports"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SnapshotStore persists aggregate snapshots next to their event stream.
// Each aggregate keeps a single SNAPSHOT#LATEST item; saving supersedes the
// previous one in place.
type SnapshotStore struct {
	client    *dynamodb.Client
	tableName string
	retention time.Duration
}

// NewSnapshotStore creates a DynamoDB-backed snapshot store
func NewSnapshotStore(client *dynamodb.Client, tableName string, retention time.Duration) *SnapshotStore {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &SnapshotStore{
		client:    client,
		tableName: tableName,
		retention: retention,
	}
}

type snapshotRecord struct {
	PK                string `dynamodbav:"PK"`
	SK                string `dynamodbav:"SK"`
	FormatVersion     int    `dynamodbav:"FormatVersion"`
	AggregateID       string `dynamodbav:"AggregateID"`
	Version           int    `dynamodbav:"Version"`
	SequenceWatermark uint64 `dynamodbav:"SequenceWatermark"`
	ChainHash         string `dynamodbav:"ChainHash"`
	CompressedState   []byte `dynamodbav:"CompressedState"`
	CreatedAt         string `dynamodbav:"CreatedAt"`
	TTL               int64  `dynamodbav:"TTL"`
}

// Save persists a snapshot, superseding any earlier one
func (s *SnapshotStore) Save(ctx context.Context, snapshot *ports.Snapshot) error {
	record := snapshotRecord{
		PK:                aggregatePK(snapshot.AggregateID),
		SK:                snapshotSK,
		FormatVersion:     snapshot.FormatVersion,
		AggregateID:       snapshot.AggregateID,
		Version:           snapshot.Version,
		SequenceWatermark: snapshot.SequenceWatermark,
		ChainHash:         snapshot.ChainHash,
		CompressedState:   snapshot.CompressedState,
		CreatedAt:         snapshot.CreatedAt.UTC().Format(time.RFC3339Nano),
		TTL:               time.Now().Add(s.retention).Unix(),
	}

	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal snapshot")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to save snapshot for aggregate "+snapshot.AggregateID)
	}
	return nil
}

// Latest returns the most recent snapshot for an aggregate, nil when none exists
func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*ports.Snapshot, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: aggregatePK(aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: snapshotSK},
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get snapshot for aggregate "+aggregateID)
	}
	if resp.Item == nil {
		return nil, nil
	}

	var record snapshotRecord
	if err := attributevalue.UnmarshalMap(resp.Item, &record); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal snapshot")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, record.CreatedAt)
	if err != nil {
		return nil, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot for aggregate "+aggregateID+" has an invalid timestamp")
	}

	return &ports.Snapshot{
		FormatVersion:     record.FormatVersion,
		AggregateID:       record.AggregateID,
		Version:           record.Version,
		SequenceWatermark: record.SequenceWatermark,
		ChainHash:         record.ChainHash,
		CompressedState:   record.CompressedState,
		CreatedAt:         createdAt,
	}, nil
}

// Delete removes the aggregate's snapshot
func (s *SnapshotStore) Delete(ctx context.Context, aggregateID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: aggregatePK(aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: snapshotSK},
		},
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to delete snapshot for aggregate "+aggregateID)
	}
	return nil
}
