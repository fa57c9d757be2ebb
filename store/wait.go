package store

import (
	"context"
	"sync/atomic"
	"time"
)

// Wait implements the wait engine / long-poll (spec §4.I). If offset "now"
// was requested, isNow resolves it against the stream's tail at the moment
// Wait is entered - not at the moment the caller parsed the query string -
// so a message committed between request-parse and Wait-entry is still
// waited for rather than immediately satisfying the read.
//
// hasData reports whether the call returned because new data arrived
// (true) or because of a timeout (false, with StreamClosed from the
// stream's own state). A closed stream short-circuits to an empty,
// up-to-date, closed result without ever calling cond.Wait.
func (st *Store) Wait(ctx context.Context, path string, offset Offset, isNow bool, timeout time.Duration) (result ReadResult, hasData bool, err error) {
	s, err := st.Acquire(path)
	if err != nil {
		return ReadResult{}, false, err
	}
	defer st.Release(s)

	baseline := offset

	s.mu.Lock()
	if isNow {
		baseline = s.currentOffset
	}
	s.mu.Unlock()

	// A background watcher turns ctx cancellation/deadline-exceeded and the
	// long-poll timeout into a Broadcast, since sync.Cond.Wait cannot itself
	// observe either. This is the standard escape hatch for combining a
	// condition variable with a deadline (spec §9's "standard predicate-loop
	// idiom" extended to support cancellation).
	timer := st.clock.Timer(timeout)
	defer timer.Stop()
	var timedOut int32
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-timer.C:
			atomic.StoreInt32(&timedOut, 1)
		case <-watchDone:
			return
		}
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if hasNewData(s, baseline) {
			res, _ := readLocked(s, baseline, false)
			return res, true, nil
		}
		if s.closed {
			return ReadResult{NextOffset: s.currentOffset, UpToDate: true, StreamClosed: true}, false, nil
		}
		if s.isDeleted() {
			return ReadResult{}, false, ErrStreamNotFound
		}
		if atomic.LoadInt32(&timedOut) == 1 || ctx.Err() != nil {
			return ReadResult{NextOffset: s.currentOffset, UpToDate: true, StreamClosed: s.closed}, false, nil
		}
		s.cond.Wait()
	}
}

func hasNewData(s *Stream, baseline Offset) bool {
	if len(s.messages) == 0 {
		return false
	}
	return s.messages[len(s.messages)-1].Offset.GreaterThan(baseline)
}
