package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const samplePage = `<!doctype html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="OG &amp; Title">
<meta name="description" content="plain description">
<meta property="og:image" content="https://img.test/card.png">
<meta property="og:site_name" content="Example Site">
</head><body></body></html>`

func TestExtract(t *testing.T) {
	m := Extract(samplePage, "https://example.com/post")
	want := Metadata{
		Title:       "OG & Title",
		Description: "plain description",
		Image:       "https://img.test/card.png",
		SiteName:    "Example Site",
	}
	if m != want {
		t.Errorf("Extract = %+v, want %+v", m, want)
	}
}

func TestExtract_Fallbacks(t *testing.T) {
	body := `<html><head><TITLE>Only Title</TITLE>
<meta property="og:description" content='og desc'>
<meta name="description" content="ignored">
</head></html>`
	m := Extract(body, "https://Sub.Example.com:8080/a")
	if m.Title != "Only Title" {
		t.Errorf("title = %q", m.Title)
	}
	if m.Description != "og desc" {
		t.Errorf("description = %q", m.Description)
	}
	if m.Image != "" {
		t.Errorf("image = %q, want empty", m.Image)
	}
	if m.SiteName != "sub.example.com" {
		t.Errorf("site = %q, want hostname", m.SiteName)
	}
}

func TestExtract_ContentBeforeProperty(t *testing.T) {
	body := `<meta content="reversed" property="og:title">`
	if got := Extract(body, "https://example.com").Title; got != "" {
		t.Errorf("title = %q, want empty for reversed attribute order", got)
	}
}

func TestDefaultMetadata(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/post", "example.com"},
		{"http://EXAMPLE.org:80/x?y=1", "example.org"},
		{"://bad", ""},
	}
	for _, tt := range tests {
		m := DefaultMetadata(tt.url)
		if m != (Metadata{SiteName: tt.want}) {
			t.Errorf("DefaultMetadata(%q) = %+v", tt.url, m)
		}
	}
}

func TestResolve_FailureFallsBackToDefault(t *testing.T) {
	fail := FetcherFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	r := NewResolver(fail, quietLogger())
	got := r.Resolve(context.Background(), "https://example.com/post", NewCache())
	if got != (Metadata{SiteName: "example.com"}) {
		t.Errorf("Resolve = %+v, want default", got)
	}
}

func TestResolve_CacheDedup(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return samplePage, nil
	})
	r := NewResolver(f, quietLogger())
	cache := NewCache()

	a := r.Resolve(context.Background(), "https://example.com/a", cache)
	b := r.Resolve(context.Background(), "https://example.com/a", cache)
	if a != b {
		t.Errorf("results differ: %+v vs %+v", a, b)
	}
	if calls.Load() != 1 || cache.Fetches() != 1 {
		t.Errorf("fetches = %d (cache %d), want 1", calls.Load(), cache.Fetches())
	}
	if cache.Len() != 1 {
		t.Errorf("cache len = %d", cache.Len())
	}
}

func TestResolve_FailureIsCached(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", errors.New("boom")
	})
	r := NewResolver(f, quietLogger())
	cache := NewCache()
	r.Resolve(context.Background(), "https://example.com/a", cache)
	r.Resolve(context.Background(), "https://example.com/a", cache)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestResolve_ConcurrentDuplicatesShareFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	f := FetcherFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		<-release
		return samplePage, nil
	})
	r := NewResolver(f, quietLogger())
	cache := NewCache()

	var wg sync.WaitGroup
	results := make([]Metadata, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "https://example.com/same", cache)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	for i := range results {
		if results[i] != results[0] {
			t.Errorf("result %d differs: %+v", i, results[i])
		}
	}
}

func TestResolve_NilCacheFetchesEveryTime(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", nil
	})
	r := NewResolver(f, quietLogger())
	r.Resolve(context.Background(), "https://example.com", nil)
	r.Resolve(context.Background(), "https://example.com", nil)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPFetcher_ReadsNon2xxBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("user agent = %q", ua)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `<title>Not Found Page</title>`)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithUserAgent("test-agent"))
	r := NewResolver(f, quietLogger())
	m := r.Resolve(context.Background(), srv.URL, NewCache())
	if m.Title != "Not Found Page" {
		t.Errorf("title = %q", m.Title)
	}
}

func TestHTTPFetcher_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, strings.Repeat("x", 1000))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(WithMaxBodyBytes(100)).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 100 {
		t.Errorf("len(body) = %d, want 100", len(body))
	}
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewResolver(NewHTTPFetcher(WithTimeout(50*time.Millisecond)), quietLogger())
	start := time.Now()
	m := r.Resolve(context.Background(), srv.URL+"/slow", NewCache())
	if time.Since(start) > time.Second {
		t.Errorf("resolve took %s, want timeout near 50ms", time.Since(start))
	}
	if m.Title != "" || m.SiteName != "127.0.0.1" {
		t.Errorf("metadata = %+v, want default", m)
	}
}

func TestHTTPFetcher_HostGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("guarded fetch reached the server")
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(WithHostGuard(true)).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrBlockedHost) {
		t.Errorf("err = %v, want ErrBlockedHost", err)
	}
}

func TestHTTPFetcher_RedirectLimit(t *testing.T) {
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		http.Redirect(w, r, fmt.Sprintf("%s/r%d", srv.URL, n), http.StatusFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "too many redirects") {
		t.Errorf("err = %v, want redirect limit", err)
	}
	if hits.Load() > maxRedirects+1 {
		t.Errorf("hits = %d", hits.Load())
	}
}

func TestHTTPFetcher_RejectsScheme(t *testing.T) {
	if _, err := NewHTTPFetcher().Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected error for file scheme")
	}
}
