package saga_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/escrow/saga"
)

func correlated(id string) http.Header {
	h := http.Header{}
	h.Set(saga.CorrelationHeader, id)
	return h
}

func TestCallout_Post(t *testing.T) {
	var gotCorrelation atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation.Store(r.Header.Get(saga.CorrelationHeader))
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/created":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := saga.NewCallout(saga.WithCalloutLogger(testLogger()))
	ctx := context.Background()

	ok, err := c.Post(ctx, srv.URL+"/ok", map[string]int{"amount": 10}, correlated("wd-1"))
	if err != nil || !ok {
		t.Fatalf("Post(/ok) = (%v, %v), want (true, nil)", ok, err)
	}
	if got, _ := gotCorrelation.Load().(string); got != "wd-1" {
		t.Errorf("correlation header = %q, want %q", got, "wd-1")
	}

	for _, path := range []string{"/created", "/fail"} {
		ok, err := c.Post(ctx, srv.URL+path, nil, correlated("wd-1"))
		if err != nil || ok {
			t.Errorf("Post(%s) = (%v, %v), want (false, nil)", path, ok, err)
		}
	}
}

func TestCallout_UnreachableIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := saga.NewCallout(saga.WithCalloutLogger(testLogger()))
	ok, err := c.Post(context.Background(), url, nil, correlated("x"))
	if err != nil || ok {
		t.Errorf("Post(closed) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCallout_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := saga.NewCallout(saga.WithTimeout(20*time.Millisecond), saga.WithCalloutLogger(testLogger()))
	ok, err := c.Post(context.Background(), srv.URL, nil, correlated("x"))
	if err != nil || ok {
		t.Errorf("Post(slow) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCallout_ProgrammerErrors(t *testing.T) {
	c := saga.NewCallout(saga.WithCalloutLogger(testLogger()))
	ctx := context.Background()

	if _, err := c.Post(ctx, "", nil, correlated("x")); err == nil {
		t.Error("Post with empty url: want error")
	}
	if _, err := c.Post(ctx, "http://127.0.0.1:1", nil, http.Header{}); !errors.Is(err, saga.ErrMissingCorrelation) {
		t.Errorf("Post without correlation: got %v, want %v", err, saga.ErrMissingCorrelation)
	}
	if _, err := c.Post(ctx, "http://127.0.0.1:1", make(chan int), correlated("x")); err == nil {
		t.Error("Post with unencodable payload: want error")
	}
	if _, err := c.Get(ctx, "", nil); err == nil {
		t.Error("Get with empty url: want error")
	}
}

func TestCallout_GetDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"paid"}`))
	}))
	defer srv.Close()

	c := saga.NewCallout(saga.WithRateLimit(100), saga.WithCalloutLogger(testLogger()))
	var view struct {
		Status string `json:"status"`
	}
	ok, err := c.Get(context.Background(), srv.URL, &view)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want (true, nil)", ok, err)
	}
	if view.Status != "paid" {
		t.Errorf("status = %q, want %q", view.Status, "paid")
	}
}

func TestCallout_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := saga.NewCallout(saga.WithCalloutLogger(testLogger()))
	if _, err := c.Post(ctx, srv.URL, nil, correlated("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Post(cancelled) error = %v, want %v", err, context.Canceled)
	}
}
