package store

import (
	"testing"
	"time"
)

func TestValidateProducerTable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    *ProducerState
		epoch    int64
		seq      int64
		wantKind ProducerDecisionKind
	}{
		{name: "absent, seq 0 accepted", state: nil, epoch: 0, seq: 0, wantKind: ProducerAccepted},
		{name: "absent, seq nonzero gap", state: nil, epoch: 0, seq: 3, wantKind: ProducerSequenceGap},
		{
			name:     "lower epoch stale",
			state:    &ProducerState{Epoch: 2, LastSeq: 5},
			epoch:    1,
			seq:      0,
			wantKind: ProducerStaleEpoch,
		},
		{
			name:     "higher epoch seq 0 accepted",
			state:    &ProducerState{Epoch: 1, LastSeq: 9},
			epoch:    2,
			seq:      0,
			wantKind: ProducerAccepted,
		},
		{
			name:     "higher epoch nonzero seq invalid",
			state:    &ProducerState{Epoch: 1, LastSeq: 9},
			epoch:    2,
			seq:      1,
			wantKind: ProducerInvalidEpochSeq,
		},
		{
			name:     "same epoch duplicate at last seq",
			state:    &ProducerState{Epoch: 1, LastSeq: 5},
			epoch:    1,
			seq:      5,
			wantKind: ProducerDuplicate,
		},
		{
			name:     "same epoch duplicate below last seq",
			state:    &ProducerState{Epoch: 1, LastSeq: 5},
			epoch:    1,
			seq:      2,
			wantKind: ProducerDuplicate,
		},
		{
			name:     "same epoch next seq accepted",
			state:    &ProducerState{Epoch: 1, LastSeq: 5},
			epoch:    1,
			seq:      6,
			wantKind: ProducerAccepted,
		},
		{
			name:     "same epoch gap",
			state:    &ProducerState{Epoch: 1, LastSeq: 5},
			epoch:    1,
			seq:      8,
			wantKind: ProducerSequenceGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateProducer(tt.state, tt.epoch, tt.seq, now)
			if got.Kind != tt.wantKind {
				t.Fatalf("expected %v, got %v (%+v)", tt.wantKind, got.Kind, got)
			}
			if got.Kind == ProducerAccepted && got.NextState == nil {
				t.Fatalf("accepted decision must carry NextState")
			}
			if got.Kind != ProducerAccepted && got.NextState != nil {
				t.Fatalf("non-accepted decision must not carry NextState")
			}
		})
	}
}

func TestValidateProducerIsPure(t *testing.T) {
	state := &ProducerState{Epoch: 1, LastSeq: 5}
	_ = validateProducer(state, 1, 6, time.Now())
	if state.LastSeq != 5 || state.Epoch != 1 {
		t.Fatalf("validateProducer must not mutate its input state")
	}
}
