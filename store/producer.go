package store

import "time"

// ProducerState tracks the epoch and sequence for an idempotent producer,
// keyed by producer id within a single stream's producer table (spec §3,
// §4.D).
type ProducerState struct {
	Epoch       int64
	LastSeq     int64
	LastUpdated time.Time
}

// ProducerDecisionKind is the outcome of validating a producer's
// (epoch, seq) pair against its recorded state. It never mutates anything;
// §4.G commits the corresponding state update only after the payload itself
// has been successfully processed.
type ProducerDecisionKind int

const (
	ProducerAccepted ProducerDecisionKind = iota
	ProducerDuplicate
	ProducerStaleEpoch
	ProducerInvalidEpochSeq
	ProducerSequenceGap
)

// ProducerDecision is the pure result of validateProducer: what happened,
// plus whatever detail each outcome carries for the HTTP response.
type ProducerDecision struct {
	Kind         ProducerDecisionKind
	CurrentEpoch int64 // set on ProducerStaleEpoch
	ExpectedSeq  int64 // set on ProducerSequenceGap
	ReceivedSeq  int64 // set on ProducerSequenceGap
	LastSeq      int64 // set on ProducerAccepted / ProducerDuplicate
	NextState    *ProducerState // non-nil iff Kind == ProducerAccepted
}

// validateProducer implements the table in spec §4.D. It is a pure function:
// state is read-only, and the caller is responsible for committing NextState
// into the producer table only once the append itself has succeeded.
func validateProducer(state *ProducerState, epoch, seq int64, now time.Time) ProducerDecision {
	if state == nil {
		if seq != 0 {
			return ProducerDecision{Kind: ProducerSequenceGap, ExpectedSeq: 0, ReceivedSeq: seq}
		}
		return ProducerDecision{
			Kind:    ProducerAccepted,
			LastSeq: 0,
			NextState: &ProducerState{
				Epoch:       epoch,
				LastSeq:     0,
				LastUpdated: now,
			},
		}
	}

	if epoch < state.Epoch {
		return ProducerDecision{Kind: ProducerStaleEpoch, CurrentEpoch: state.Epoch}
	}

	if epoch > state.Epoch {
		if seq != 0 {
			return ProducerDecision{Kind: ProducerInvalidEpochSeq}
		}
		return ProducerDecision{
			Kind:    ProducerAccepted,
			LastSeq: 0,
			NextState: &ProducerState{
				Epoch:       epoch,
				LastSeq:     0,
				LastUpdated: now,
			},
		}
	}

	// epoch == state.Epoch
	if seq <= state.LastSeq {
		return ProducerDecision{Kind: ProducerDuplicate, LastSeq: state.LastSeq}
	}

	if seq == state.LastSeq+1 {
		return ProducerDecision{
			Kind:    ProducerAccepted,
			LastSeq: seq,
			NextState: &ProducerState{
				Epoch:       epoch,
				LastSeq:     seq,
				LastUpdated: now,
			},
		}
	}

	return ProducerDecision{Kind: ProducerSequenceGap, ExpectedSeq: state.LastSeq + 1, ReceivedSeq: seq}
}
