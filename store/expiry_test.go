package store

import (
	"testing"
	"time"

	iclock "github.com/durable-streams/dstreamd/internal/clock"
)

func TestStreamIsExpiredByExpiresAt(t *testing.T) {
	past := time.Now().Add(-1 * time.Hour)
	s := newStream("/test", DefaultContentType, nil, &past, time.Now().Add(-2*time.Hour))
	if !s.isExpired(time.Now()) {
		t.Error("stream with past ExpiresAt should be expired")
	}

	future := time.Now().Add(1 * time.Hour)
	s.expiresAt = &future
	if s.isExpired(time.Now()) {
		t.Error("stream with future ExpiresAt should not be expired")
	}
}

func TestStreamIsExpiredByTTL(t *testing.T) {
	ttl := int64(1)
	s := newStream("/test", DefaultContentType, &ttl, nil, time.Now().Add(-2*time.Second))
	if !s.isExpired(time.Now()) {
		t.Error("stream with expired TTL should be expired")
	}

	s.createdAt = time.Now()
	if s.isExpired(time.Now()) {
		t.Error("stream with non-expired TTL should not be expired")
	}
}

func TestStreamNoExpiryNeverExpires(t *testing.T) {
	s := newStream("/test", DefaultContentType, nil, nil, time.Now().Add(-24*time.Hour))
	if s.isExpired(time.Now()) {
		t.Error("stream without expiry settings should never expire")
	}
}

func TestStoreExpiryOnAcquire(t *testing.T) {
	mock := iclock.NewMock()
	st := NewStoreWithClock(mock)

	ttl := int64(5)
	_, _, err := st.Create("/expiring", CreateOptions{TTLSeconds: &ttl})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !st.Has("/expiring") {
		t.Fatal("expected stream to exist before TTL elapses")
	}

	mock.Add(6 * time.Second)

	if st.Has("/expiring") {
		t.Fatal("expected stream to be collected once its TTL elapses")
	}

	// Recreation after expiry must be permitted (spec §8 scenario 5).
	_, created, err := st.Create("/expiring", CreateOptions{TTLSeconds: &ttl})
	if err != nil {
		t.Fatalf("unexpected error recreating expired stream: %v", err)
	}
	if !created {
		t.Fatal("expected recreation of an expired stream to report newly created")
	}
}

func TestStoreExpiresAtInPastFailsClosed(t *testing.T) {
	mock := iclock.NewMock()
	st := NewStoreWithClock(mock)
	ttl := int64(100)
	past := mock.Now().Add(-time.Second)
	_, _, err := st.Create("/both", CreateOptions{TTLSeconds: &ttl, ExpiresAt: &past})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Has("/both") {
		t.Fatal("expected ExpiresAt in the past to expire the stream immediately")
	}
}

func TestStoreExpiryOnAppendAndRead(t *testing.T) {
	mock := iclock.NewMock()
	st := NewStoreWithClock(mock)

	ttl := int64(1)
	_, _, err := st.Create("/expiring", CreateOptions{ContentType: "text/plain", TTLSeconds: &ttl})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := st.Append("/expiring", []byte("data"), AppendOptions{}); err != nil {
		t.Fatalf("Append failed before expiry: %v", err)
	}

	mock.Add(2 * time.Second)

	if _, err := st.Append("/expiring", []byte("more"), AppendOptions{}); err != ErrStreamNotFound {
		t.Errorf("expected ErrStreamNotFound on append after expiry, got %v", err)
	}
	if _, err := st.GetCurrentOffset("/expiring"); err != ErrStreamNotFound {
		t.Errorf("expected ErrStreamNotFound on read after expiry, got %v", err)
	}
}
