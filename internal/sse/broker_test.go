package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/embedmark/internal/site"
)

// next returns the next message on ch or fails after a second.
func next(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// drain collects messages until none arrives for wait.
func drain(ch chan []byte, wait time.Duration) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(wait):
			return out
		}
	}
}

// dataOf decodes the data line of one SSE message.
func dataOf(t *testing.T, msg string, v any) {
	t.Helper()
	for _, line := range strings.Split(msg, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := json.Unmarshal([]byte(data), v); err != nil {
				t.Fatalf("decode %q: %v", data, err)
			}
			return
		}
	}
	t.Fatalf("no data line in %q", msg)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPageChanged_CarriesPage(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.PageChanged(site.PageEvent{Kind: site.EventBuilt, Path: "docs/guide.md", Slug: "docs/guide", URL: "/docs/guide/", Title: "Guide"})
	msg := next(t, ch)
	if !strings.HasPrefix(msg, "id: 1\nevent: "+EventPageBuilt+"\n") {
		t.Errorf("header = %q", msg)
	}
	var got site.PageEvent
	dataOf(t, msg, &got)
	if got.URL != "/docs/guide/" || got.Title != "Guide" || got.Slug != "docs/guide" {
		t.Errorf("payload = %+v", got)
	}

	b.PageChanged(site.PageEvent{Kind: site.EventRemoved, Path: "old.md", Slug: "old", URL: "/old/"})
	if msg := next(t, ch); !strings.Contains(msg, "event: "+EventPageRemoved) || !strings.HasPrefix(msg, "id: 2\n") {
		t.Errorf("removed = %q", msg)
	}

	b.PageChanged(site.PageEvent{Kind: "renamed", Path: "x.md"})
	if extra := drain(ch, 50*time.Millisecond); len(extra) != 0 {
		t.Errorf("unknown kind published: %v", extra)
	}
}

func TestBuildFinished_CoalescesWithinThrottle(t *testing.T) {
	b := NewBroker(150 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.BuildFinished(site.Stats{Built: 3, Took: 20 * time.Millisecond})
	var first SiteUpdate
	dataOf(t, next(t, ch), &first)
	if first.Built != 3 || first.Passes != 1 || first.Version != 1 || first.TookMS != 20 {
		t.Errorf("first = %+v", first)
	}

	b.BuildFinished(site.Stats{Built: 1})
	b.BuildFinished(site.Stats{Removed: 1, Failed: 1})
	b.BuildFinished(site.Stats{Skipped: 9})
	if early := drain(ch, 50*time.Millisecond); len(early) != 0 {
		t.Fatalf("update sent inside the throttle window: %v", early)
	}

	msg := next(t, ch)
	if !strings.Contains(msg, "event: "+EventSiteUpdated) {
		t.Fatalf("msg = %q", msg)
	}
	var merged SiteUpdate
	dataOf(t, msg, &merged)
	want := SiteUpdate{Passes: 2, Built: 1, Removed: 1, Failed: 1, Version: 2}
	if merged != want {
		t.Errorf("merged = %+v, want %+v", merged, want)
	}
}

func TestBuildFinished_IgnoresNoopPass(t *testing.T) {
	b := NewBroker(10 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.BuildFinished(site.Stats{Skipped: 4})
	if got := drain(ch, 50*time.Millisecond); len(got) != 0 {
		t.Errorf("noop pass announced: %v", got)
	}
}

func TestSubscribe_ReplaysAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(2))
	defer b.Close()
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		b.PageChanged(site.PageEvent{Kind: site.EventBuilt, Path: p})
	}
	// Let the loop process the publishes before subscribing.
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe(2)
	defer b.Unsubscribe(ch)
	got := drain(ch, 50*time.Millisecond)
	if len(got) != 1 || !strings.Contains(got[0], `"path":"c.md"`) {
		t.Errorf("replay = %v", got)
	}

	fresh := b.Subscribe(0)
	defer b.Unsubscribe(fresh)
	if got := drain(fresh, 50*time.Millisecond); len(got) != 0 {
		t.Errorf("fresh client got history: %v", got)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "0")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PageChanged(site.PageEvent{Kind: site.EventBuilt, Path: "x.md", URL: "/x/"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: ") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, "event: "+EventPageBuilt) || !strings.Contains(body, `"url":"/x/"`) {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+10; i++ {
		b.Publish(Event{Type: "test", Data: map[string]int{"i": i}})
	}
	if b.ClientCount() != 1 {
		t.Error("broker stalled on a full client")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// No-ops after close.
	b.PageChanged(site.PageEvent{Kind: site.EventBuilt, Path: "x.md"})
	b.BuildFinished(site.Stats{Built: 1})
}
