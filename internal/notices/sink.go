// Package notices records per-(site, object) dispatch outcomes for the
// acting user, holds them briefly and streams them to connected admin
// clients as Server-Sent Events.
package notices

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/replicast/replicast/internal/models"
)

type entry struct {
	user    string
	notice  models.Notice
	expires time.Time
}

type addReq struct {
	user   string
	notice models.Notice
}

type fetchReq struct {
	user  string
	clear bool
	resp  chan []models.Notice
}

// Sink manages pending notices and SSE subscribers.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable
// state (pending notices + clients). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Sink struct {
	ttl time.Duration

	addCh         chan addReq
	fetchCh       chan fetchReq
	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewSink creates a sink whose notices expire after ttl.
func NewSink(ttl time.Duration) *Sink {
	if ttl <= 0 {
		ttl = 180 * time.Second
	}
	s := &Sink{
		ttl:           ttl,
		addCh:         make(chan addReq, 256),
		fetchCh:       make(chan fetchReq),
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.stopped)

	clients := make(map[chan []byte]struct{})
	var pending []entry

	janitor := time.NewTicker(30 * time.Second)
	defer janitor.Stop()

	broadcast := func(n models.Notice) {
		payload, err := json.Marshal(n)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: notice\ndata: %s\n\n", payload))
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	prune := func(now time.Time) {
		kept := pending[:0]
		for _, e := range pending {
			if now.Before(e.expires) {
				kept = append(kept, e)
			}
		}
		pending = kept
	}

	for {
		select {
		case <-s.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-s.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-s.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case req := <-s.addCh:
			pending = append(pending, entry{
				user:    req.user,
				notice:  req.notice,
				expires: time.Now().Add(s.ttl),
			})
			broadcast(req.notice)

		case req := <-s.fetchCh:
			now := time.Now()
			prune(now)
			var out []models.Notice
			kept := pending[:0]
			for _, e := range pending {
				if e.user == req.user {
					out = append(out, e.notice)
					if req.clear {
						continue
					}
				}
				kept = append(kept, e)
			}
			pending = kept
			req.resp <- out

		case <-janitor.C:
			prune(time.Now())
		}
	}
}

// Close stops the loop and closes all client channels.
func (s *Sink) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

// Add records one dispatch outcome for a user.
func (s *Sink) Add(user string, siteID, objectID int64, noticeType, message string) {
	if s.closed.Load() {
		return
	}
	n := models.Notice{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		ObjectID:  objectID,
		Type:      noticeType,
		Message:   message,
		CreatedAt: time.Now(),
	}
	select {
	case s.addCh <- addReq{user: user, notice: n}:
	case <-s.stopped:
	}
}

// Flush returns and clears the user's pending notices.
func (s *Sink) Flush(user string) []models.Notice {
	return s.fetch(user, true)
}

// Pending returns the user's pending notices without clearing them.
func (s *Sink) Pending(user string) []models.Notice {
	return s.fetch(user, false)
}

func (s *Sink) fetch(user string, clear bool) []models.Notice {
	if s.closed.Load() {
		return nil
	}
	resp := make(chan []models.Notice, 1)
	select {
	case s.fetchCh <- fetchReq{user: user, clear: clear, resp: resp}:
	case <-s.stopped:
		return nil
	}
	select {
	case out := <-resp:
		return out
	case <-s.stopped:
		return nil
	}
}

// Subscribe adds a new SSE client and returns its channel.
func (s *Sink) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if s.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case s.subscribeCh <- ch:
	case <-s.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (s *Sink) Unsubscribe(ch chan []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.unsubscribeCh <- ch:
	case <-s.stopped:
	}
}

// ServeHTTP is the SSE endpoint streaming notices as they happen.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
