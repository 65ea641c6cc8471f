package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	router := newTestServer(t, Config{}).Router()

	for _, path := range []string{"/combatSession/abc", "/combatant/abc", "/healthz", "/favicon.ico"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if csp := w.Header().Get("Content-Security-Policy"); csp != "default-src 'none'; frame-ancestors 'none'" {
				t.Fatalf("expected strict CSP on %s, got %q", path, csp)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Fatalf("expected nosniff, got %q", got)
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	router := newTestServer(t, Config{AllowedOrigins: []string{"https://bot.example"}}).Router()

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "allowed origin echoed", origin: "https://bot.example", wantOrigin: "https://bot.example"},
		{name: "other origin rejected", origin: "https://evil.example", wantOrigin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/combatSession", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Fatalf("expected 204 preflight, got %d", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected origin %q, got %q", tt.wantOrigin, got)
			}
		})
	}
}

func TestAPITokenGuard(t *testing.T) {
	router := newTestServer(t, Config{APIToken: "s3cret"}).Router()

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{name: "missing token", path: "/combatSession/abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", path: "/combatSession/abc", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", path: "/combatSession/abc", header: "Bearer s3cret", wantStatus: http.StatusNotFound},
		{name: "raw token", path: "/combatSession/abc", header: "s3cret", wantStatus: http.StatusNotFound},
		{name: "health is open", path: "/healthz", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: ""},
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "abc", want: "abc"},
	}
	for _, tt := range tests {
		if got := parseToken(tt.header); got != tt.want {
			t.Errorf("parseToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
