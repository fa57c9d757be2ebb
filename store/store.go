// Package store implements the durable-streams stream store: the in-memory
// log data structure, its offset algebra, and the append/read/wait engines
// that operate on it (spec §2 components A-I).
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	iclock "github.com/durable-streams/dstreamd/internal/clock"
)

// Business error kinds (spec §7). The durablestreams package translates the
// ones this package returns into HTTP statuses. ErrInvalidTTL,
// ErrTTLAndExpiresSet and ErrLiveRequiresOffset are never returned here: the
// HTTP adapter performs those request checks itself.
var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrConfigMismatch      = errors.New("stream configuration mismatch")
	ErrContentTypeMismatch = errors.New("content type mismatch")
	ErrEmptyBody           = errors.New("empty body not allowed")
	ErrInvalidOffset       = errors.New("invalid offset")
	ErrInvalidTTL          = errors.New("invalid Stream-TTL")
	ErrTTLAndExpiresSet    = errors.New("Stream-TTL and Stream-Expires-At are mutually exclusive")
	ErrLiveRequiresOffset  = errors.New("live read requires an offset")
	ErrEmptyJSONArray      = errors.New("empty JSON array not allowed")
	ErrInvalidJSON         = errors.New("invalid JSON")
	ErrStreamClosed        = errors.New("stream is closed")
	ErrSequenceConflict    = errors.New("Stream-Seq is not strictly increasing")
	ErrBadRequest          = errors.New("bad request")

	ErrStaleEpoch      = errors.New("producer epoch is stale")
	ErrInvalidEpochSeq = errors.New("new epoch must start at sequence 0")
	ErrProducerSeqGap  = errors.New("producer sequence gap detected")
	ErrPartialProducer = errors.New("all producer headers must be provided together, or none")
)

// CreateOptions are the parameters of a PUT (spec §4.F).
type CreateOptions struct {
	ContentType string
	TTLSeconds  *int64
	ExpiresAt   *time.Time
	InitialData []byte
	Closed      bool
}

// defaultShardCount is a fixed power-of-two bucket count for the store's
// hash(path) sharding (spec §3/§4.F). It is fixed rather than configurable
// because the spec models sharding as an implementation-internal
// concurrency optimization, not a protocol-visible knob.
const defaultShardCount = 64

type shard struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// Store is the sharded map from path to Stream described in spec §3/§4.F.
// Sharding is by hash(path) into a fixed bucket count; each shard has its
// own reader-writer lock covering only the hash lookup/insert/delete, never
// a stream's own mutation (spec §5).
type Store struct {
	shards []*shard
	mask   uint64
	clock  iclock.Clock
}

// NewStore constructs a Store using the real wall clock.
func NewStore() *Store {
	return NewStoreWithClock(iclock.New())
}

// NewStoreWithClock constructs a Store using the given clock, primarily for
// deterministic TTL/expiry tests.
func NewStoreWithClock(clk iclock.Clock) *Store {
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{streams: make(map[string]*Stream)}
	}
	return &Store{
		shards: shards,
		mask:   uint64(defaultShardCount - 1),
		clock:  clk,
	}
}

func (st *Store) shardFor(path string) *shard {
	h := xxhash.Sum64String(path)
	return st.shards[h&st.mask]
}

// Create implements spec §4.F Create: idempotent on a matching existing
// stream, 409-worthy (ErrConfigMismatch) on a mismatching one, otherwise
// allocates a new Stream and optionally performs its initial append.
//
// The returned bool is true iff a new stream was allocated.
func (st *Store) Create(path string, opts CreateOptions) (*Stream, bool, error) {
	now := st.clock.Now()
	sh := st.shardFor(path)

	sh.mu.Lock()
	if existing, ok := sh.streams[path]; ok {
		if existing.isExpired(now) {
			delete(sh.streams, path)
		} else if existing.configMatches(opts) {
			sh.mu.Unlock()
			return existing, false, nil
		} else {
			sh.mu.Unlock()
			return nil, false, ErrConfigMismatch
		}
	}
	sh.mu.Unlock()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	s := newStream(path, contentType, opts.TTLSeconds, opts.ExpiresAt, now)

	if len(opts.InitialData) > 0 {
		if _, err := appendLocked(s, opts.InitialData, AppendOptions{}, true, now); err != nil {
			return nil, false, err
		}
	}
	if opts.Closed {
		s.closed = true
	}

	sh.mu.Lock()
	// Re-check: another goroutine may have raced us to create the same
	// path between the unlock above and this lock. The stream inserted first
	// wins: a later creator with a matching config gets that stream back
	// idempotently, and a mismatching one still 409s.
	if existing, ok := sh.streams[path]; ok {
		if existing.isExpired(now) {
			sh.streams[path] = s
			sh.mu.Unlock()
			return s, true, nil
		}
		if existing.configMatches(opts) {
			sh.mu.Unlock()
			return existing, false, nil
		}
		sh.mu.Unlock()
		return nil, false, ErrConfigMismatch
	}
	sh.streams[path] = s
	sh.mu.Unlock()

	return s, true, nil
}

// Acquire resolves path to its live Stream, incrementing its reference
// count so it will not be freed out from under the caller by a concurrent
// Delete (spec §5's reference-counted-handle option). Callers must call
// Release exactly once when done. An expired stream is lazily collected
// here and reported as ErrStreamNotFound.
func (st *Store) Acquire(path string) (*Stream, error) {
	now := st.clock.Now()
	sh := st.shardFor(path)

	sh.mu.RLock()
	s, ok := sh.streams[path]
	if ok && !s.isExpired(now) {
		s.acquire()
		sh.mu.RUnlock()
		return s, nil
	}
	sh.mu.RUnlock()

	if ok {
		// Expired: drop it under the write lock, but only if nobody beat
		// us to it or already replaced it with a fresh stream.
		sh.mu.Lock()
		removed := false
		if cur, stillThere := sh.streams[path]; stillThere && cur == s {
			delete(sh.streams, path)
			removed = true
		}
		sh.mu.Unlock()
		if removed {
			s.markDeleted()
		}
	}
	return nil, ErrStreamNotFound
}

// Release releases a reference taken by Acquire.
func (st *Store) Release(s *Stream) {
	s.release()
}

// Has reports whether path names a live (non-expired) stream.
func (st *Store) Has(path string) bool {
	s, err := st.Acquire(path)
	if err != nil {
		return false
	}
	st.Release(s)
	return true
}

// Delete removes path from the store and wakes any waiters blocked on it,
// per spec §4.F and §5 ("DELETE broadcasts the condition to let waiters
// unblock promptly"). It does not wait for acquired handles to be released;
// those callers simply finish their current operation against a stream that
// is no longer reachable by new lookups.
func (st *Store) Delete(path string) error {
	sh := st.shardFor(path)

	sh.mu.Lock()
	s, ok := sh.streams[path]
	if !ok {
		sh.mu.Unlock()
		return ErrStreamNotFound
	}
	delete(sh.streams, path)
	sh.mu.Unlock()

	s.markDeleted()
	return nil
}

// Close releases any resources held by the store. The in-memory store holds
// none beyond Go's own GC, but the method exists so Store satisfies the same
// shape the teacher's Store interface exposed, and so a future persistent
// implementation has a place to flush/close file handles.
func (st *Store) Close() error {
	return nil
}

// Count returns the number of stream entries currently tracked across all
// shards, including any not-yet-lazily-collected expired ones. It is used
// only for the durablestreams_streams gauge (spec §4.K) and is therefore
// allowed to be an approximate, momentary count rather than a linearized
// one.
func (st *Store) Count() int {
	total := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		total += len(sh.streams)
		sh.mu.RUnlock()
	}
	return total
}

// Snapshot resolves path and copies out its current metadata. It is a
// convenience wrapper around Acquire/Snapshot/Release for callers (the HTTP
// adapter) that only need a point-in-time read of stream metadata.
func (st *Store) Snapshot(path string) (Snapshot, error) {
	s, err := st.Acquire(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer st.Release(s)
	return s.Snapshot(), nil
}

// Now returns the store's current time reading, for callers that need a
// timestamp from the same clock the store uses for TTL/expiry decisions.
func (st *Store) Now() time.Time {
	return st.clock.Now()
}
