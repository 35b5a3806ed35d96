// Package sse streams site build progress to browsers as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/embedmark/internal/site"
)

// Event types sent to clients.
const (
	EventPageBuilt   = "page.built"
	EventPageRemoved = "page.removed"
	EventSiteUpdated = "site.updated"
)

const (
	clientBuffer   = 64
	defaultHistory = 128
	retryMillis    = 2000
)

// Event is one message on the stream. ID is assigned by the broker.
type Event struct {
	ID   uint64
	Type string
	Data any
}

// SiteUpdate is the payload of site.updated. Build passes that finish within
// one throttle window are merged into a single update.
type SiteUpdate struct {
	Passes  int   `json:"passes"`
	Built   int   `json:"built"`
	Removed int   `json:"removed"`
	Failed  int   `json:"failed"`
	TookMS  int64 `json:"took_ms"`
	Version int64 `json:"version"`
}

func (u *SiteUpdate) add(s site.Stats) {
	u.Passes++
	u.Built += s.Built
	u.Removed += s.Removed
	u.Failed += s.Failed
	u.TookMS += s.Took.Milliseconds()
}

// Broker fans build events out to connected clients. It implements
// site.Listener.
//
// One goroutine owns the client set, the replay history and the pending site
// update; every public method talks to it over channels.
type Broker struct {
	throttle time.Duration
	history  int

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	statsCh       chan site.Stats
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ site.Listener = (*Broker)(nil)

type subscription struct {
	ch     chan []byte
	lastID uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many events are kept for clients that reconnect with
// Last-Event-ID.
func WithHistory(n int) Option {
	return func(b *Broker) { b.history = n }
}

// NewBroker starts a broker. throttle is the minimum interval between two
// site.updated events.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		throttle:      throttle,
		history:       defaultHistory,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		statsCh:       make(chan site.Stats, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.history < 0 {
		b.history = 0
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		nextID   uint64
		history  []Event
		pending  *SiteUpdate
		lastSite time.Time
		version  int64
		timer    *time.Timer
		timerC   <-chan time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; it can catch up via Last-Event-ID.
		}
	}

	broadcast := func(event Event) {
		nextID++
		event.ID = nextID
		raw, err := encode(event)
		if err != nil {
			return
		}
		if b.history > 0 {
			history = append(history, event)
			if len(history) > b.history {
				history = history[len(history)-b.history:]
			}
		}
		for ch := range clients {
			send(ch, raw)
		}
	}

	flushSite := func(now time.Time) {
		version++
		pending.Version = version
		broadcast(Event{Type: EventSiteUpdated, Data: *pending})
		pending = nil
		lastSite = now
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.lastID == 0 {
				continue
			}
			for _, ev := range history {
				if ev.ID <= sub.lastID {
					continue
				}
				if raw, err := encode(ev); err == nil {
					send(sub.ch, raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case stats := <-b.statsCh:
			if !stats.Changed() && stats.Failed == 0 {
				continue
			}
			if pending == nil {
				pending = &SiteUpdate{}
			}
			pending.add(stats)
			if timerC != nil {
				continue
			}
			now := time.Now()
			if wait := b.throttle - now.Sub(lastSite); wait > 0 {
				timer = time.NewTimer(wait)
				timerC = timer.C
				continue
			}
			flushSite(now)

		case now := <-timerC:
			timer, timerC = nil, nil
			if pending != nil {
				flushSite(now)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload)
	return buf.Bytes(), nil
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. Events newer than lastID still in the history are
// replayed first; lastID 0 means a fresh client.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PageChanged implements site.Listener.
func (b *Broker) PageChanged(ev site.PageEvent) {
	switch ev.Kind {
	case site.EventBuilt:
		b.Publish(Event{Type: EventPageBuilt, Data: ev})
	case site.EventRemoved:
		b.Publish(Event{Type: EventPageRemoved, Data: ev})
	}
}

// BuildFinished implements site.Listener. A pass that neither changed nor
// failed a page is not announced.
func (b *Broker) BuildFinished(stats site.Stats) {
	if b.closed.Load() {
		return
	}
	select {
	case b.statsCh <- stats:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

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
