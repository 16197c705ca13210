package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuth(t *testing.T) {
	h := Auth("secret")(http.HandlerFunc(okHandler))
	tests := []struct {
		name   string
		method string
		header map[string]string
		want   int
	}{
		{"read is public", http.MethodGet, nil, http.StatusOK},
		{"missing key", http.MethodPost, nil, http.StatusUnauthorized},
		{"wrong key", http.MethodPost, map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", http.MethodPost, map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", http.MethodPost, map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/markets", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var gotBody string
	h := Identity(func() time.Time { return now }, 0, testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, ok := Account(r.Context())
		if !ok || acct != signer.Address() {
			t.Errorf("Account = %s, %v, want %s", acct.Hex(), ok, signer.Address().Hex())
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"side":"yes","amount":"5"}`
	headers, err := signer.SignRequest(http.MethodPost, "/api/markets/0/stake", []byte(body), now)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/markets/0/stake", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed request status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if gotBody != body {
		t.Fatalf("handler body = %q, want %q", gotBody, body)
	}

	// Same headers on another path must fail.
	req = httptest.NewRequest(http.MethodPost, "/api/markets/1/stake", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed request status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request status = %d, want 401", rec.Code)
	}
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{allow: true}, http.StatusOK},
		{"limited", &stubLimiter{allow: false}, http.StatusTooManyRequests},
		{"fails open", &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(tt.limiter, 10, 2*time.Second, testLogger)(http.HandlerFunc(okHandler))
			req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := tt.limiter.keys; len(got) != 1 || got[0] != "api:203.0.113.9" {
				t.Fatalf("keys = %v, want [api:203.0.113.9]", got)
			}
			if tt.want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "2" {
				t.Fatalf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(okHandler))
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Signature") {
		t.Fatalf("allow headers = %q, want X-Signature", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestCORSOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{"listed", []string{"https://app.example"}, "https://APP.example", true},
		{"unlisted", []string{"https://app.example"}, "https://evil.example", false},
		{"wildcard", []string{"https://app.example", "*"}, "https://other.example", true},
		{"empty list", nil, "https://other.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.origins)(http.HandlerFunc(okHandler))
			req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if (got == tt.origin) != tt.allowed {
				t.Fatalf("allow origin = %q, allowed = %v", got, tt.allowed)
			}
			if rec.Header().Get("Vary") != "Origin" {
				t.Fatalf("Vary = %q, want Origin", rec.Header().Get("Vary"))
			}
		})
	}
}

