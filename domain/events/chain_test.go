package events

import (
	"encoding/json"
	"testing"
	"time"

	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash_Deterministic(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

	h1 := ComputeHash([]byte(`{"a":1}`), "prev", "agg-1", TypeNodeAdded, ts)
	h2 := ComputeHash([]byte(`{"a":1}`), "prev", "agg-1", TypeNodeAdded, ts)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}

func TestComputeHash_NoAmbiguousEncoding(t *testing.T) {
	ts := time.Now().UTC()

	// Without length prefixes these two inputs would concatenate to the
	// same byte stream
	h1 := ComputeHash([]byte("ab"), "c", "agg", TypeNodeAdded, ts)
	h2 := ComputeHash([]byte("a"), "bc", "agg", TypeNodeAdded, ts)
	assert.NotEqual(t, h1, h2)

	h3 := ComputeHash([]byte("x"), "p", "agg-1", TypeNodeAdded, ts)
	h4 := ComputeHash([]byte("x"), "p", "agg-1", TypeNodeRemoved, ts)
	assert.NotEqual(t, h3, h4)
}

func TestComputeHash_TimestampSensitive(t *testing.T) {
	ts := time.Now().UTC()

	h1 := ComputeHash([]byte("x"), "", "agg", TypeNodeAdded, ts)
	h2 := ComputeHash([]byte("x"), "", "agg", TypeNodeAdded, ts.Add(time.Nanosecond))
	assert.NotEqual(t, h1, h2)
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("agg-1", GraphCreated{GraphID: "agg-1", Name: "test"}, "")
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "agg-1", env.AggregateID)
	assert.Equal(t, TypeGraphCreated, env.EventType)
	assert.Empty(t, env.PreviousHash)
	assert.True(t, env.Verify())
	assert.Equal(t, "event.store.agg-1.graph.created", env.Subject())

	headers := env.Headers()
	assert.Equal(t, env.ContentHash, headers[HeaderContentHash])
	assert.Equal(t, env.AggregateID, headers[HeaderAggregateID])
}

func TestNewEnvelope_RequiresAggregateID(t *testing.T) {
	_, err := NewEnvelope("", GraphCreated{Name: "test"}, "")
	assert.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestEnvelope_DecodePayload(t *testing.T) {
	env, err := NewEnvelope("agg-1", NodeAdded{NodeID: "n1", Label: "first"}, "prev")
	require.NoError(t, err)

	payload, err := env.DecodePayload()
	require.NoError(t, err)

	added, ok := payload.(*NodeAdded)
	require.True(t, ok)
	assert.Equal(t, "n1", added.NodeID)
	assert.Equal(t, "first", added.Label)
}

func TestEnvelope_DecodePayload_UnknownType(t *testing.T) {
	env := Envelope{EventType: "graph.exploded", Payload: json.RawMessage(`{}`)}

	_, err := env.DecodePayload()
	assert.Error(t, err)
}

// buildChain seals n envelopes into a valid chain with sequences 1..n
func buildChain(t *testing.T, aggregateID string, n int) []Envelope {
	t.Helper()

	chain := make([]Envelope, 0, n)
	previous := ""
	for i := 0; i < n; i++ {
		env, err := NewEnvelope(aggregateID, NodeAdded{NodeID: "n", Label: "node"}, previous)
		require.NoError(t, err)
		env.Sequence = uint64(i + 1)
		chain = append(chain, env)
		previous = env.ContentHash
	}
	return chain
}

func TestVerifyChain_Valid(t *testing.T) {
	chain := buildChain(t, "agg-1", 5)
	assert.NoError(t, VerifyChain(chain))
}

func TestVerifyChain_Empty(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
}

func TestVerifyChain_TamperedPayload(t *testing.T) {
	chain := buildChain(t, "agg-1", 3)

	// Tamper with the payload but keep the original header hash
	chain[1].Payload = json.RawMessage(`{"node_id":"evil","label":"tampered"}`)

	err := VerifyChain(chain)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeHashMismatch))
	assert.Contains(t, err.Error(), chain[1].EventID)
}

func TestVerifyChain_MissingEvent(t *testing.T) {
	chain := buildChain(t, "agg-1", 4)

	// Drop the second event: the third no longer links to the first
	broken := append([]Envelope{chain[0]}, chain[2:]...)

	err := VerifyChain(broken)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChainBroken))
}

func TestVerifyChain_Reordered(t *testing.T) {
	chain := buildChain(t, "agg-1", 3)
	chain[1], chain[2] = chain[2], chain[1]

	err := VerifyChain(chain)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChainBroken))
}

func TestVerifyChainFrom_Anchor(t *testing.T) {
	chain := buildChain(t, "agg-1", 10)

	// Resuming after sequence 5 verifies against the hash recorded for event 5
	anchor := ChainAnchor{Sequence: 5, Hash: chain[4].ContentHash}
	assert.NoError(t, VerifyChainFrom(anchor, chain[5:]))

	// A wrong anchor hash is a broken link
	err := VerifyChainFrom(ChainAnchor{Sequence: 5, Hash: "bogus"}, chain[5:])
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChainBroken))
}

func TestVerifyHeaders(t *testing.T) {
	chain := buildChain(t, "agg-1", 3)

	headers := make([]map[string]string, 0, len(chain))
	for _, env := range chain {
		headers = append(headers, env.Headers())
	}
	assert.NoError(t, VerifyHeaders("", headers))

	headers[2][HeaderPreviousHash] = "bogus"
	err := VerifyHeaders("", headers)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChainBroken))
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		subject string
		want    bool
	}{
		{"exact match", "event.store.g1.graph.created", "event.store.g1.graph.created", true},
		{"single token wildcard", "event.store.g1.*", "event.store.g1.created", true},
		{"wildcard does not span tokens", "event.store.g1.*", "event.store.g1.graph.created", false},
		{"tail wildcard", "event.store.>", "event.store.g1.graph.created", true},
		{"tail wildcard needs a tail", "event.store.>", "event.store", false},
		{"aggregate wildcard", "event.store.*.graph.created", "event.store.g2.graph.created", true},
		{"mismatch", "event.store.g1.>", "event.store.g2.graph.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchSubject(tt.filter, tt.subject))
		})
	}
}

func TestSubjectForAggregate_MatchesEveryEventType(t *testing.T) {
	filter := SubjectForAggregate("g1")

	// Event type constants are dotted, so they occupy two subject tokens
	for _, eventType := range []string{
		TypeGraphCreated,
		TypeNodeAdded,
		TypeNodeRemoved,
		TypeNodeStateChanged,
		TypeNodesConnected,
	} {
		assert.True(t, MatchSubject(filter, SubjectFor("g1", eventType)), eventType)
	}

	assert.False(t, MatchSubject(filter, SubjectFor("g2", TypeGraphCreated)))
}
