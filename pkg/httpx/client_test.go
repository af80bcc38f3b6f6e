package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestJSONRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(502)
			return
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), srv.Client(), "POST", srv.URL, []byte(`{}`), nil, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != 200 || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestRequestJSONNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), "GET", srv.URL, nil, nil, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != 404 || calls.Load() != 1 {
		t.Fatalf("status = %d calls = %d", status, calls.Load())
	}
}

func TestRequestJSONExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), "GET", srv.URL, nil, nil, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("5xx is a response, not an error: %v", err)
	}
	if status != 500 || calls.Load() != 3 {
		t.Fatalf("status = %d calls = %d", status, calls.Load())
	}
}

func TestRequestJSONSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	headers := map[string]string{"Authorization": "Bearer tok"}
	if _, _, err := RequestJSON(context.Background(), srv.Client(), "POST", srv.URL, []byte(`{}`), headers, 0, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestRequestJSONTransportErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(okHandler())
	srv.Close()

	_, _, err := RequestJSON(context.Background(), http.DefaultClient, "GET", srv.URL, nil, nil, 1, time.Millisecond)
	if err == nil {
		t.Fatal("want transport error")
	}
}

func TestRequestJSONBadMethod(t *testing.T) {
	if _, _, err := RequestJSON(context.Background(), nil, "bad method", "http://x", nil, nil, 2, 0); err == nil {
		t.Fatal("invalid method should fail without retries")
	}
}

func TestRequestJSONNegativeRetries(t *testing.T) {
	srv := httptest.NewServer(okHandler())
	defer srv.Close()
	status, _, err := RequestJSON(context.Background(), srv.Client(), "GET", srv.URL, nil, nil, -5, 0)
	if err != nil || status != 200 {
		t.Fatalf("status = %d err = %v", status, err)
	}
}
