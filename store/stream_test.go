package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	iclock "github.com/durable-streams/dstreamd/internal/clock"
)

func TestAppendAndCatchUpRead(t *testing.T) {
	st := NewStore()
	if _, _, err := st.Create("/a", CreateOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := st.Append("/a", []byte("hello"), AppendOptions{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	want := "0000000000000000_0000000000000005"
	if res.Offset.String() != want {
		t.Fatalf("expected offset %q, got %q", want, res.Offset.String())
	}

	read, err := st.Read("/a", ZeroOffset, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(read.Body) != "hello" {
		t.Fatalf("expected body 'hello', got %q", read.Body)
	}
	if !read.UpToDate {
		t.Fatal("expected up to date")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	st := NewStore()
	st.Create("/b", CreateOptions{ContentType: "application/json"})

	if _, err := st.Append("/b", []byte(`{"n":1}`), AppendOptions{}); err != nil {
		t.Fatalf("append single: %v", err)
	}
	if _, err := st.Append("/b", []byte(`[{"n":2},{"n":3}]`), AppendOptions{}); err != nil {
		t.Fatalf("append array: %v", err)
	}

	read, err := st.Read("/b", ZeroOffset, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := `[{"n":1},{"n":2},{"n":3}]`
	if string(read.Body) != want {
		t.Fatalf("expected %q, got %q", want, read.Body)
	}
}

func TestProducerIdempotentReplay(t *testing.T) {
	st := NewStore()
	st.Create("/c", CreateOptions{})

	epoch := int64(0)
	seq := int64(0)
	opts := AppendOptions{ProducerID: "p", ProducerEpoch: &epoch, ProducerSeq: &seq}

	res1, err := st.Append("/c", []byte("x"), opts)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if res1.ProducerResult != ProducerAccepted || res1.LastSeq != 0 {
		t.Fatalf("expected accepted seq 0, got %+v", res1)
	}

	res2, err := st.Append("/c", []byte("x"), opts)
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if res2.ProducerResult != ProducerDuplicate || res2.LastSeq != 0 {
		t.Fatalf("expected duplicate seq 0, got %+v", res2)
	}

	read, _ := st.Read("/c", ZeroOffset, false)
	if string(read.Body) != "x" {
		t.Fatalf("expected exactly one committed message, got %q", read.Body)
	}
}

func TestProducerSequenceGapReports(t *testing.T) {
	st := NewStore()
	st.Create("/gap", CreateOptions{})

	epoch := int64(0)
	seq := int64(0)
	st.Append("/gap", []byte("x"), AppendOptions{ProducerID: "p", ProducerEpoch: &epoch, ProducerSeq: &seq})

	badSeq := int64(2)
	_, err := st.Append("/gap", []byte("y"), AppendOptions{ProducerID: "p", ProducerEpoch: &epoch, ProducerSeq: &badSeq})
	if err != ErrProducerSeqGap {
		t.Fatalf("expected ErrProducerSeqGap, got %v", err)
	}
}

func TestProducerStaleEpoch(t *testing.T) {
	st := NewStore()
	st.Create("/f", CreateOptions{})

	e2 := int64(2)
	z := int64(0)
	st.Append("/f", []byte("x"), AppendOptions{ProducerID: "p", ProducerEpoch: &e2, ProducerSeq: &z})

	e1 := int64(1)
	s5 := int64(5)
	_, err := st.Append("/f", []byte("y"), AppendOptions{ProducerID: "p", ProducerEpoch: &e1, ProducerSeq: &s5})
	if err != ErrStaleEpoch {
		t.Fatalf("expected ErrStaleEpoch, got %v", err)
	}
}

func TestIdempotentCreate(t *testing.T) {
	st := NewStore()
	s1, created1, err := st.Create("/idem", CreateOptions{ContentType: "text/plain"})
	if err != nil || !created1 {
		t.Fatalf("expected first create to succeed as new: %v %v", created1, err)
	}
	s2, created2, err := st.Create("/idem", CreateOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("unexpected error on idempotent create: %v", err)
	}
	if created2 {
		t.Fatal("expected second matching create to report not-newly-created")
	}
	if s1 != s2 {
		t.Fatal("expected the same stream identity back")
	}
}

func TestCreateConfigMismatchConflicts(t *testing.T) {
	st := NewStore()
	st.Create("/conflict", CreateOptions{ContentType: "text/plain"})
	_, _, err := st.Create("/conflict", CreateOptions{ContentType: "application/json"})
	if err != ErrConfigMismatch {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
}

func TestCloseThenAppendIsStreamClosed(t *testing.T) {
	st := NewStore()
	st.Create("/closer", CreateOptions{})

	res, err := st.Append("/closer", nil, AppendOptions{Close: true})
	if err != nil {
		t.Fatalf("close-only append failed: %v", err)
	}
	if !res.CloseOnly || !res.StreamClosed {
		t.Fatalf("expected close-only result, got %+v", res)
	}

	_, err = st.Append("/closer", []byte("nope"), AppendOptions{})
	if err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestCloseIdempotentReplayByProducer(t *testing.T) {
	st := NewStore()
	st.Create("/closer2", CreateOptions{})

	epoch := int64(0)
	seq := int64(0)
	opts := AppendOptions{ProducerID: "p", ProducerEpoch: &epoch, ProducerSeq: &seq, Close: true}

	if _, err := st.Append("/closer2", nil, opts); err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	res, err := st.Append("/closer2", nil, opts)
	if err != nil {
		t.Fatalf("expected idempotent replay of close to succeed, got %v", err)
	}
	if res.ProducerResult != ProducerDuplicate {
		t.Fatalf("expected duplicate result on replayed close, got %+v", res)
	}
}

func TestEmptyBodyWithoutCloseRejected(t *testing.T) {
	st := NewStore()
	st.Create("/empty", CreateOptions{})
	_, err := st.Append("/empty", nil, AppendOptions{})
	if err != ErrEmptyBody {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestLongPollWakesOnAppend(t *testing.T) {
	st := NewStore()
	st.Create("/d", CreateOptions{})

	var wg sync.WaitGroup
	wg.Add(1)

	var gotBody string
	var hasData bool
	start := time.Now()

	go func() {
		defer wg.Done()
		res, had, err := st.Wait(context.Background(), "/d", ZeroOffset, false, 2*time.Second)
		if err != nil {
			t.Errorf("wait error: %v", err)
			return
		}
		hasData = had
		gotBody = string(res.Body)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := st.Append("/d", []byte("hi"), AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	wg.Wait()
	if time.Since(start) > time.Second {
		t.Fatal("long-poll took too long to wake on append")
	}
	if !hasData || gotBody != "hi" {
		t.Fatalf("expected woken read to return 'hi', got hasData=%v body=%q", hasData, gotBody)
	}
}

func TestLongPollTimesOut(t *testing.T) {
	mock := iclock.NewMock()
	st := NewStoreWithClock(mock)

	st.Create("/e", CreateOptions{})

	done := make(chan struct{})
	var hasData bool
	var streamClosed bool
	go func() {
		res, had, err := st.Wait(context.Background(), "/e", ZeroOffset, false, 200*time.Millisecond)
		if err != nil {
			t.Errorf("wait error: %v", err)
		}
		hasData = had
		streamClosed = res.StreamClosed
		close(done)
	}()

	// Give the waiter time to register before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	mock.Add(250 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("long-poll did not time out")
	}

	if hasData {
		t.Fatal("expected timeout, not data")
	}
	if streamClosed {
		t.Fatal("stream was never closed")
	}
}

func TestDeleteWakesWaiters(t *testing.T) {
	st := NewStore()
	st.Create("/del", CreateOptions{})

	done := make(chan error, 1)
	go func() {
		_, _, err := st.Wait(context.Background(), "/del", ZeroOffset, false, 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := st.Delete("/del"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	select {
	case err := <-done:
		if err != ErrStreamNotFound {
			t.Fatalf("expected ErrStreamNotFound after delete, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("delete did not wake the waiter promptly")
	}
}

func TestOffsetsStrictlyIncreasing(t *testing.T) {
	st := NewStore()
	st.Create("/mono", CreateOptions{})

	var prev Offset
	for i := 0; i < 20; i++ {
		res, err := st.Append("/mono", []byte(fmt.Sprintf("msg-%d", i)), AppendOptions{})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i > 0 && !res.Offset.GreaterThan(prev) {
			t.Fatalf("expected strictly increasing offsets, got %v after %v", res.Offset, prev)
		}
		prev = res.Offset
	}
}

func TestConcurrentAppendsAreLinearized(t *testing.T) {
	st := NewStore()
	st.Create("/concurrent", CreateOptions{})

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := st.Append("/concurrent", []byte("x"), AppendOptions{}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	off, err := st.GetCurrentOffset("/concurrent")
	if err != nil {
		t.Fatalf("get current offset: %v", err)
	}
	if off.ByteOffset != n {
		t.Fatalf("expected %d committed bytes, got %d", n, off.ByteOffset)
	}
}
