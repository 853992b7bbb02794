package events

import (
	"fmt"

	pkgerrors "graphledger-backend/pkg/errors"
)

// ChainAnchor is the known chain position verification resumes from, e.g.
// the hash recorded at a snapshot's sequence watermark. The zero value
// anchors at the beginning of the chain.
type ChainAnchor struct {
	Sequence uint64
	Hash     string
}

// VerifyChain walks an ordered slice of envelopes for a single aggregate
// and checks hash continuity. It fails fast on the first offending event:
// HashMismatch when a payload no longer reproduces its recorded hash,
// ChainBroken when the link to the previous event is missing or reordered.
func VerifyChain(envelopes []Envelope) error {
	return VerifyChainFrom(ChainAnchor{}, envelopes)
}

// VerifyChainFrom verifies continuity starting at a known anchor. Used when
// resuming after a snapshot, where the first envelope must link to the hash
// recorded at the watermark rather than to an empty previous hash.
func VerifyChainFrom(anchor ChainAnchor, envelopes []Envelope) error {
	expectedPrevious := anchor.Hash
	lastSequence := anchor.Sequence

	for i := range envelopes {
		env := &envelopes[i]

		if !env.Verify() {
			return pkgerrors.NewCorruption(pkgerrors.CodeHashMismatch,
				fmt.Sprintf("event %s (seq %d) content hash does not match its payload", env.EventID, env.Sequence))
		}

		if env.PreviousHash != expectedPrevious {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken,
				fmt.Sprintf("event %s (seq %d) links to %q, expected %q", env.EventID, env.Sequence, env.PreviousHash, expectedPrevious))
		}

		if env.Sequence != 0 && env.Sequence <= lastSequence {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken,
				fmt.Sprintf("event %s out of order: seq %d after %d", env.EventID, env.Sequence, lastSequence))
		}

		expectedPrevious = env.ContentHash
		if env.Sequence != 0 {
			lastSequence = env.Sequence
		}
	}

	return nil
}

// VerifyHeaders checks hash continuity using transport headers only, without
// deserializing payloads. It cannot detect payload tampering (that requires
// recomputing the content hash) but catches gaps and reordering cheaply.
func VerifyHeaders(anchorHash string, headers []map[string]string) error {
	expectedPrevious := anchorHash

	for i, h := range headers {
		if h[HeaderPreviousHash] != expectedPrevious {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken,
				fmt.Sprintf("header %d links to %q, expected %q", i, h[HeaderPreviousHash], expectedPrevious))
		}
		expectedPrevious = h[HeaderContentHash]
	}

	return nil
}
