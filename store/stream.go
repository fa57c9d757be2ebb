package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message is an immutable committed record in a stream's log (spec §3).
// Offset is the stream's tail *after* this message was committed, not
// before - so messages[i].Offset is what a reader compares its own cursor
// against to decide whether message i is new.
type Message struct {
	Data      []byte
	Offset    Offset
	Timestamp time.Time
}

// ClosedBy records which idempotent-producer request sealed a stream, so a
// retried close request can be recognized and answered as a duplicate
// instead of stream_closed (spec §4.G step 1).
type ClosedBy struct {
	ProducerID string
	Epoch      int64
	Seq        int64
}

// Stream is one durable log: metadata, the message vector, the producer
// table, close state, and the condition variable waiters block on. Every
// mutation of these fields happens under mu; Cond is backed by the same
// mutex, so signalling a waiter and mutating state is a single atomic
// section from an observer's point of view (spec §4.E, §5).
type Stream struct {
	mu   sync.Mutex
	cond *sync.Cond

	path        string
	contentType string

	messages      []Message
	currentOffset Offset
	lastSeq       string // last Stream-Seq header value, compared lexicographically

	ttlSeconds *int64
	expiresAt  *time.Time
	createdAt  time.Time

	closed   bool
	closedBy *ClosedBy

	producers map[string]*ProducerState

	// refCount counts the callers currently holding this Stream through
	// Store.Acquire (spec §5, option (b) of "Stream lifetime vs. waiters").
	// Nothing reads it: Delete always removes the store's entry and
	// broadcasts immediately, and Go's garbage collector keeps a Stream
	// alive for as long as any caller still holds a pointer to it.
	refCount int32
	deleted  int32 // 1 once removed from the store
}

func newStream(path, contentType string, ttlSeconds *int64, expiresAt *time.Time, createdAt time.Time) *Stream {
	s := &Stream{
		path:          path,
		contentType:   contentType,
		currentOffset: ZeroOffset,
		ttlSeconds:    ttlSeconds,
		expiresAt:     expiresAt,
		createdAt:     createdAt,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// acquire increments the reference count. Pair with release.
func (s *Stream) acquire() {
	atomic.AddInt32(&s.refCount, 1)
}

// release decrements the reference count taken by acquire.
func (s *Stream) release() {
	atomic.AddInt32(&s.refCount, -1)
}

func (s *Stream) markDeleted() {
	atomic.StoreInt32(&s.deleted, 1)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) isDeleted() bool {
	return atomic.LoadInt32(&s.deleted) == 1
}

// Path returns the stream's immutable identifying path.
func (s *Stream) Path() string { return s.path }

// ContentType returns the stream's immutable, as-stored content type.
func (s *Stream) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

// isExpired reports whether the stream's TTL or absolute expiry has passed
// as of now. A malformed ExpiresAt is never representable here (it is
// rejected at parse time in the HTTP layer), but by design any ExpiresAt
// value that cannot be compared is treated as already expired (fail-closed,
// spec §4.F).
func (s *Stream) isExpired(now time.Time) bool {
	if s.expiresAt != nil && now.After(*s.expiresAt) {
		return true
	}
	if s.ttlSeconds != nil {
		expiry := s.createdAt.Add(time.Duration(*s.ttlSeconds) * time.Second)
		if now.After(expiry) || now.Equal(expiry) {
			return true
		}
	}
	return false
}

// configMatches reports whether the given creation options describe the
// same logical stream as this one, for PUT idempotency (spec §4.F).
func (s *Stream) configMatches(opts CreateOptions) bool {
	if !ContentTypeMatches(s.contentType, opts.ContentType) {
		return false
	}
	if (s.ttlSeconds == nil) != (opts.TTLSeconds == nil) {
		return false
	}
	if s.ttlSeconds != nil && opts.TTLSeconds != nil && *s.ttlSeconds != *opts.TTLSeconds {
		return false
	}
	if (s.expiresAt == nil) != (opts.ExpiresAt == nil) {
		return false
	}
	if s.expiresAt != nil && opts.ExpiresAt != nil && !s.expiresAt.Equal(*opts.ExpiresAt) {
		return false
	}
	if s.closed != opts.Closed {
		return false
	}
	return true
}

// Snapshot is a point-in-time, read-only view of a stream's metadata,
// copied out from under the stream mutex so callers never hold it open
// across I/O.
type Snapshot struct {
	Path          string
	ContentType   string
	CurrentOffset Offset
	TTLSeconds    *int64
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	Closed        bool
}

// Snapshot copies out the stream's current metadata under the stream mutex.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Path:          s.path,
		ContentType:   s.contentType,
		CurrentOffset: s.currentOffset,
		TTLSeconds:    s.ttlSeconds,
		ExpiresAt:     s.expiresAt,
		CreatedAt:     s.createdAt,
		Closed:        s.closed,
	}
}
