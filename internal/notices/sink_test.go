package notices

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/replicast/replicast/internal/models"
)

func TestAddAndFlushPerUser(t *testing.T) {
	s := NewSink(time.Minute)
	defer s.Close()

	s.Add("alice", 2, 42, models.NoticeSuccess, "replicated")
	s.Add("alice", 3, 42, models.NoticeError, "failed")
	s.Add("bob", 2, 7, models.NoticeSuccess, "replicated")

	got := s.Pending("alice")
	if len(got) != 2 {
		t.Fatalf("alice pending = %d, want 2", len(got))
	}
	if got[0].ID == "" {
		t.Error("notice has no id")
	}

	// Flush drains alice's notices without touching bob's.
	if flushed := s.Flush("alice"); len(flushed) != 2 {
		t.Errorf("flushed = %d, want 2", len(flushed))
	}
	if left := s.Pending("alice"); len(left) != 0 {
		t.Errorf("alice still has %d after flush", len(left))
	}
	if left := s.Pending("bob"); len(left) != 1 {
		t.Errorf("bob lost notices to another user's flush: %d", len(left))
	}
}

func TestPendingDoesNotClear(t *testing.T) {
	s := NewSink(time.Minute)
	defer s.Close()

	s.Add("alice", 2, 42, models.NoticeWarning, "site not configured")
	if got := s.Pending("alice"); len(got) != 1 {
		t.Fatalf("pending = %d", len(got))
	}
	if got := s.Pending("alice"); len(got) != 1 {
		t.Errorf("second read = %d, want notices retained", len(got))
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewSink(50 * time.Millisecond)
	defer s.Close()

	s.Add("alice", 2, 42, models.NoticeSuccess, "replicated")
	time.Sleep(80 * time.Millisecond)

	if got := s.Pending("alice"); len(got) != 0 {
		t.Errorf("got %d notices after TTL, want 0", len(got))
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	s := NewSink(time.Minute)
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.Add("alice", 2, 42, models.NoticeSuccess, "replicated object 42")

	select {
	case raw := <-ch:
		msg := string(raw)
		if !strings.HasPrefix(msg, "event: notice\n") {
			t.Errorf("message = %q, want notice event framing", msg)
		}
		if !strings.Contains(msg, "replicated object 42") {
			t.Errorf("message = %q, want notice body", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	s := NewSink(time.Minute)
	defer s.Close()

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Add("alice", 2, 42, models.NoticeSuccess, "streamed")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, "streamed") {
		t.Errorf("body = %q, want streamed notice", body)
	}
}

func TestCloseIsIdempotentAndSafe(t *testing.T) {
	s := NewSink(time.Minute)
	s.Close()
	s.Close()

	// Calls after close are no-ops rather than panics or deadlocks.
	s.Add("alice", 2, 42, models.NoticeSuccess, "late")
	if got := s.Pending("alice"); got != nil {
		t.Errorf("pending after close = %v", got)
	}
}
