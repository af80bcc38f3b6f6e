package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"k": "v"})
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"k":"v"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, 422, "bad input")
	if rec.Code != 422 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"bad input"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	for header, want := range securityHeaders {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	cases := []struct {
		name       string
		allowed    string
		origin     string
		method     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"no origin passes through", "https://a.example", "", "GET", false, 200, ""},
		{"listed origin allowed", "https://a.example", "https://a.example", "GET", false, 200, "https://a.example"},
		{"wildcard allows any", "*", "https://b.example", "GET", false, 200, "https://b.example"},
		{"unlisted origin plain request passes without headers", "https://a.example", "https://evil.example", "GET", false, 200, ""},
		{"unlisted origin preflight rejected", "https://a.example", "https://evil.example", "OPTIONS", true, 403, ""},
		{"listed origin preflight short-circuits", "https://a.example", "https://a.example", "OPTIONS", true, 204, "https://a.example"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rec := httptest.NewRecorder()
			CORSMiddleware(tc.allowed)(okHandler()).ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("allow-origin = %q, want %q", got, tc.wantAllow)
			}
		})
	}
}

func TestCORSPreflightEchoesRequestHeaders(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://a.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-Actor-ID")
	rec := httptest.NewRecorder()
	CORSMiddleware("https://a.example")(okHandler()).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "X-Actor-ID" {
		t.Fatalf("allow-headers = %q", got)
	}
}

func TestParseOrigins(t *testing.T) {
	set := parseOrigins(" https://a.example , , https://b.example ")
	if set.all {
		t.Fatal("no wildcard given")
	}
	if !set.allows("https://a.example") || !set.allows("https://b.example") {
		t.Fatalf("set = %#v", set)
	}
	if set.allows("https://c.example") {
		t.Fatal("unlisted origin allowed")
	}
}
