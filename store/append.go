package store

import "time"

// AppendOptions carries the per-request options of a POST (spec §4.G).
type AppendOptions struct {
	Seq         string // Stream-Seq header, compared lexicographically
	ContentType string // Content-Type header, validated against the stream's
	Close       bool   // Stream-Closed: true - close after this append

	ProducerID    string
	ProducerEpoch *int64
	ProducerSeq   *int64
}

// HasAnyProducerHeader reports whether any of the three producer headers
// were supplied.
func (o AppendOptions) HasAnyProducerHeader() bool {
	return o.ProducerID != "" || o.ProducerEpoch != nil || o.ProducerSeq != nil
}

// HasAllProducerHeaders reports whether all three producer headers were
// supplied together, as the protocol requires (spec §4.G step 3).
func (o AppendOptions) HasAllProducerHeaders() bool {
	return o.ProducerID != "" && o.ProducerEpoch != nil && o.ProducerSeq != nil
}

// AppendResult is what Append reports back to the HTTP adapter so it can
// pick the right status/headers (spec §4.J's status table). A few fields are
// also populated alongside a non-nil error - CurrentEpoch with ErrStaleEpoch,
// ExpectedSeq and ReceivedSeq with ErrProducerSeqGap, Offset and StreamClosed
// with ErrStreamClosed - since each carries response detail the caller needs
// even though the append itself was rejected.
type AppendResult struct {
	Offset         Offset
	ProducerResult ProducerDecisionKind
	CurrentEpoch   int64
	ExpectedSeq    int64
	ReceivedSeq    int64
	LastSeq        int64
	StreamClosed   bool
	CloseOnly      bool // true: no message was committed, only a close
}

// Append implements the append engine (spec §4.G): validate, flatten,
// commit, wake waiters, optionally close - all under the stream's own
// mutex, in the exact order the spec requires so that a failed validation
// never mutates producer state or the message vector.
func (st *Store) Append(path string, data []byte, opts AppendOptions) (AppendResult, error) {
	if opts.HasAnyProducerHeader() && !opts.HasAllProducerHeaders() {
		return AppendResult{}, ErrPartialProducer
	}
	if opts.HasAllProducerHeaders() && opts.ProducerID == "" {
		return AppendResult{}, ErrBadRequest
	}

	s, err := st.Acquire(path)
	if err != nil {
		return AppendResult{}, err
	}
	defer st.Release(s)

	now := st.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	return appendLocked(s, data, opts, false, now)
}

// appendLocked performs the append engine's work assuming s.mu is already
// held (or, for the initial PUT body, that s is not yet published to any
// other goroutine). allowEmptyJSONArray is true only for that initial-body
// case (spec §4.C: "error if array is empty unless this is the initial
// append during stream creation").
func appendLocked(s *Stream, data []byte, opts AppendOptions, allowEmptyJSONArray bool, now time.Time) (AppendResult, error) {
	// Step 1: closed-stream handling, including idempotent replay of the
	// close itself.
	if s.closed {
		if opts.HasAllProducerHeaders() && s.closedBy != nil &&
			s.closedBy.ProducerID == opts.ProducerID &&
			s.closedBy.Epoch == *opts.ProducerEpoch &&
			s.closedBy.Seq == *opts.ProducerSeq {
			return AppendResult{
				Offset:         s.currentOffset,
				ProducerResult: ProducerDuplicate,
				LastSeq:        s.closedBy.Seq,
				StreamClosed:   true,
			}, nil
		}
		return AppendResult{Offset: s.currentOffset, StreamClosed: true}, ErrStreamClosed
	}

	// Step 2: content-type check.
	if opts.ContentType != "" && !ContentTypeMatches(s.contentType, opts.ContentType) {
		return AppendResult{}, ErrContentTypeMismatch
	}

	// Step 3: producer validation (pure; does not mutate s.producers yet).
	var decision ProducerDecision
	hasProducer := opts.HasAllProducerHeaders()
	if hasProducer {
		var state *ProducerState
		if s.producers != nil {
			state = s.producers[opts.ProducerID]
		}
		decision = validateProducer(state, *opts.ProducerEpoch, *opts.ProducerSeq, now)
		switch decision.Kind {
		case ProducerDuplicate:
			return AppendResult{
				Offset:         s.currentOffset,
				ProducerResult: ProducerDuplicate,
				LastSeq:        decision.LastSeq,
				StreamClosed:   s.closed,
			}, nil
		case ProducerStaleEpoch:
			return AppendResult{CurrentEpoch: decision.CurrentEpoch}, ErrStaleEpoch
		case ProducerInvalidEpochSeq:
			return AppendResult{}, ErrInvalidEpochSeq
		case ProducerSequenceGap:
			return AppendResult{
				ExpectedSeq: decision.ExpectedSeq,
				ReceivedSeq: decision.ReceivedSeq,
			}, ErrProducerSeqGap
		}
	}

	// Step 4: Stream-Seq ordering check (lexicographic, per spec §3's
	// "last_seq is the highest Stream-Seq header value seen... string-
	// ordered").
	if opts.Seq != "" && s.lastSeq != "" && opts.Seq <= s.lastSeq {
		return AppendResult{}, ErrSequenceConflict
	}

	// Edge case: empty body + close=true is a close-only request. It still
	// runs the producer/seq checks above, but skips JSON flattening and the
	// message-vector commit.
	closeOnly := len(data) == 0 && opts.Close
	if len(data) == 0 && !opts.Close {
		return AppendResult{}, ErrEmptyBody
	}

	var newOffset Offset
	if closeOnly {
		newOffset = s.currentOffset
	} else {
		// Step 5: JSON flattening (if applicable) happens before any
		// mutation, so a validation failure here leaves the stream
		// untouched.
		var fragments [][]byte
		if IsJSONContentType(s.contentType) {
			frags, err := processJSONAppend(data, allowEmptyJSONArray)
			if err != nil {
				return AppendResult{}, err
			}
			fragments = frags
		} else {
			fragments = [][]byte{data}
		}

		// Step 6: commit.
		offset := s.currentOffset
		for _, frag := range fragments {
			offset = offset.Add(uint64(len(frag)))
			s.messages = append(s.messages, Message{
				Data:      frag,
				Offset:    offset,
				Timestamp: now,
			})
		}
		newOffset = offset
		s.currentOffset = newOffset
	}

	if opts.Seq != "" {
		s.lastSeq = opts.Seq
	}
	if hasProducer && decision.NextState != nil {
		if s.producers == nil {
			s.producers = make(map[string]*ProducerState)
		}
		s.producers[opts.ProducerID] = decision.NextState
	}
	if opts.Close {
		s.closed = true
		if hasProducer {
			s.closedBy = &ClosedBy{
				ProducerID: opts.ProducerID,
				Epoch:      *opts.ProducerEpoch,
				Seq:        *opts.ProducerSeq,
			}
		}
	}

	// Step 7: wake waiters.
	s.cond.Broadcast()

	result := AppendResult{
		Offset:       newOffset,
		StreamClosed: s.closed,
		CloseOnly:    closeOnly,
	}
	if hasProducer {
		result.ProducerResult = ProducerAccepted
		result.LastSeq = decision.LastSeq
	}
	return result, nil
}
