// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hf

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maruel/roundtrippers"
)

// fakeTimer records the requested delays and fires immediately.
type fakeTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.delays = append(f.delays, d)
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time {
	return f.c
}

func newTestClient(t *testing.T, url string, opts Options) (*Client, *fakeTimer) {
	opts.URL = url
	if opts.APIKey == "" {
		opts.APIKey = "secret"
	}
	if opts.QPS == 0 {
		opts.QPS = 1000
	}
	c, err := New(&opts, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	ft := newFakeTimer()
	c.timer = ft
	return c, ft
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(&Options{APIKey: "  "}, http.DefaultTransport); err == nil {
		t.Fatal("expected an error without API key")
	}
}

func TestRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected Authorization %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if body["inputs"] != "roast me" {
			t.Errorf("unexpected inputs %v", body["inputs"])
		}
		params, _ := body["parameters"].(map[string]any)
		if params["max_new_tokens"] != 50.0 || params["temperature"] != 0.9 || params["return_full_text"] != false {
			t.Errorf("unexpected parameters %v", params)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"generated_text": "  You look like a typo.  "}]`))
	}))
	defer ts.Close()

	c, ft := newTestClient(t, ts.URL, Options{})
	got, err := c.Request(t.Context(), "roast me")
	if err != nil {
		t.Fatal(err)
	}
	if got != "You look like a typo." {
		t.Errorf("got %q", got)
	}
	if len(ft.delays) != 0 {
		t.Errorf("unexpected retries %v", ft.delays)
	}
}

func TestRequestBackoff(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "Model is currently loading"}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, ft := newTestClient(t, ts.URL, Options{Attempts: 3, BaseDelay: time.Second})
	_, err := c.Request(t.Context(), "roast me")
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
	if expected := []time.Duration{time.Second, 2 * time.Second}; !slices.Equal(ft.delays, expected) {
		t.Errorf("delays = %v, want %v", ft.delays, expected)
	}
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.Attempts != 3 {
		t.Fatalf("unexpected error %#v", err)
	}
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("last cause is not kept: %v", err)
	}
}

func TestRequestRecovers(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"generated_text": "Second time lucky."}]`))
	}))
	defer ts.Close()

	c, ft := newTestClient(t, ts.URL, Options{})
	got, err := c.Request(t.Context(), "roast me")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Second time lucky." {
		t.Errorf("got %q", got)
	}
	if len(ft.delays) != 1 {
		t.Errorf("expected one retry, got %v", ft.delays)
	}
}

func TestRequestUndecodable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, Options{})
	if _, err := c.Request(t.Context(), "roast me"); err == nil {
		t.Fatal("expected an error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("undecodable answers must not be retried, got %d calls", n)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, ft := newTestClient(t, ts.URL, Options{Timeout: 10 * time.Millisecond, Attempts: 2})
	if _, err := c.Request(t.Context(), "roast me"); err == nil {
		t.Fatal("expected a timeout")
	}
	if len(ft.delays) != 1 {
		t.Errorf("timeouts must be retried, got %v", ft.delays)
	}
}

func TestRequestThrottleNotTimed(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"generated_text": "Worth the wait."}]`))
	}))
	defer ts.Close()

	c, ft := newTestClient(t, ts.URL, Options{QPS: 1, Timeout: 100 * time.Millisecond, Attempts: 1})
	th, ok := c.c.Transport.(*roundtrippers.Throttle)
	if !ok {
		t.Fatalf("unexpected transport %T", c.c.Transport)
	}
	// Waiting for a slot takes longer than the attempt timeout.
	th.TimeAfter = func(time.Duration) <-chan time.Time { return time.After(300 * time.Millisecond) }
	for i := range 2 {
		got, err := c.Request(t.Context(), "roast me")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if got != "Worth the wait." {
			t.Errorf("request %d: got %q", i, got)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
	if len(ft.delays) != 0 {
		t.Errorf("unexpected retries %v", ft.delays)
	}
}

func TestRequestEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, Options{})
	got, err := c.Request(t.Context(), "roast me")
	if err != nil || got != "" {
		t.Errorf("got %q, %v", got, err)
	}
}
