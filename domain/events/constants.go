package events

import "strings"

// Event sources - These define where events originate from
const (
	// SourceBackend is the primary backend service source
	SourceBackend = "graphledger.backend"

	// SourceProjector is the read-model projector worker source
	SourceProjector = "graphledger.projector"
)

// Event types - These define the types of events in the system
const (
	// Graph events
	TypeGraphCreated = "graph.created"

	// Node events
	TypeNodeAdded        = "graph.node_added"
	TypeNodeRemoved      = "graph.node_removed"
	TypeNodeStateChanged = "graph.node_state_changed"

	// Edge events
	TypeNodesConnected = "graph.nodes_connected"
)

// Transport headers accompanying each persisted event. They duplicate
// envelope fields so consumers can verify and route on headers alone,
// without deserializing the payload.
const (
	HeaderContentHash  = "Content-Hash"
	HeaderPreviousHash = "Previous-Hash"
	HeaderAggregateID  = "Aggregate-Id"
	HeaderEventType    = "Event-Type"
	HeaderIdempotency  = "Idempotency-Key"
)

// Subject naming: event.store.<aggregate-id>.<event-type>
const subjectPrefix = "event.store"

// SubjectFor builds the per-aggregate subject for an event type
func SubjectFor(aggregateID, eventType string) string {
	return subjectPrefix + "." + aggregateID + "." + eventType
}

// SubjectForAggregate builds the wildcard subject covering every event
// type of one aggregate. Event types are dotted and span multiple tokens,
// so the tail wildcard is required here.
func SubjectForAggregate(aggregateID string) string {
	return subjectPrefix + "." + aggregateID + ".>"
}

// SubjectAll matches every event in the store
func SubjectAll() string {
	return subjectPrefix + ".>"
}

// MatchSubject reports whether subject matches the filter. Filters use
// NATS-style tokens: "*" matches exactly one token, ">" matches the rest.
func MatchSubject(filter, subject string) bool {
	if filter == subject {
		return true
	}

	ft := strings.Split(filter, ".")
	st := strings.Split(subject, ".")

	for i, token := range ft {
		if token == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if token != "*" && token != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}
