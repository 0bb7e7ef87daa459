package harvest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilosa/harvest"
	"github.com/pilosa/harvest/mock"
	"github.com/pkg/errors"
)

func TestFetchRetryExhaustion(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := &mock.RecordingLogger{}
	stats := &mock.RecordingStatter{}
	f := harvest.NewHTTPFetcher(harvest.OptFetcherAttempts(3), harvest.OptFetcherLogger(log), harvest.OptFetcherStats(stats))
	_, err := f.Fetch(context.Background(), srv.URL+"/items", harvest.AcceptHeader)

	var ferr *harvest.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected a FetchError, got %v", err)
	}
	if ferr.Attempts != 3 || ferr.URL != srv.URL+"/items" {
		t.Fatalf("unexpected error fields: %+v", ferr)
	}
	if !strings.Contains(err.Error(), "response code: 500") {
		t.Fatalf("last failure not in error: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", n)
	}
	if stats.Counts["fetch.attempts"] != 3 || stats.Counts["fetch.failures"] != 3 {
		t.Fatalf("unexpected stats: %v", stats.Counts)
	}
	if !log.Contains("attempt 1 of 3") || !log.Contains("attempt 2 of 3") || log.Contains("attempt 3 of 3") {
		t.Fatalf("unexpected log lines: %v", log.Lines)
	}
}

func TestFetchRecovers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Accept") != harvest.AcceptHeader {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		if r.Header.Get("User-Agent") != "harvest-test" {
			http.Error(w, "bad agent", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := harvest.NewHTTPFetcher(harvest.OptFetcherRetryDelay(time.Millisecond), harvest.OptFetcherUserAgent("harvest-test"))
	body, err := f.Fetch(context.Background(), srv.URL, harvest.AcceptHeader)
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected 2 requests, got %d", n)
	}
}

func TestFetchFollowsOneRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop2", http.StatusFound)
	})
	mux.HandleFunc("/loop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusSeeOther)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stats := &mock.RecordingStatter{}
	f := harvest.NewHTTPFetcher(harvest.OptFetcherAttempts(2), harvest.OptFetcherStats(stats))
	body, err := f.Fetch(context.Background(), srv.URL+"/old", harvest.AcceptHeader)
	if err != nil || string(body) != "moved" {
		t.Fatalf("unexpected result following redirect: %s, %v", body, err)
	}
	if stats.Counts["fetch.redirects"] != 1 {
		t.Fatalf("unexpected redirects: %v", stats.Counts)
	}

	// a second redirect is a failure
	_, err = f.Fetch(context.Background(), srv.URL+"/loop", harvest.AcceptHeader)
	var ferr *harvest.FetchError
	if !errors.As(err, &ferr) || ferr.Attempts != 2 || !strings.Contains(err.Error(), "response code: 303") {
		t.Fatalf("expected a FetchError after 2 attempts, got %v", err)
	}
}

func TestFetchMalformedURL(t *testing.T) {
	f := harvest.NewHTTPFetcher()
	_, err := f.Fetch(context.Background(), "not a url", harvest.AcceptHeader)
	var ferr *harvest.FetchError
	if !errors.As(err, &ferr) || ferr.Attempts != 0 {
		t.Fatalf("expected a FetchError without attempts, got %v", err)
	}
	if !errors.Is(err, harvest.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestFetchCanceled(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := harvest.NewHTTPFetcher(harvest.OptFetcherAttempts(5))
	_, err := f.Fetch(ctx, srv.URL, harvest.AcceptHeader)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestFetchRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := harvest.NewHTTPFetcher(harvest.OptFetcherRateLimit(20))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL, harvest.AcceptHeader); err != nil {
			t.Fatalf("fetching: %v", err)
		}
	}
	// a burst of one, then one every 50ms
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("requests weren't rate limited, took %v", elapsed)
	}
}
