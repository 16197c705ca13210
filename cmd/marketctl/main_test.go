package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

type request struct {
	method  string
	path    string
	query   string
	body    map[string]any
	account string
}

type seenRequest struct {
	mu sync.Mutex
	request
}

// verifyingServer checks every write signature and records what it saw.
func verifyingServer(t *testing.T, status int, reply string) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen.mu.Lock()
		defer seen.mu.Unlock()
		seen.method, seen.path, seen.query = r.Method, r.URL.Path, r.URL.RawQuery
		seen.body = nil
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &seen.body); err != nil {
				t.Errorf("request body %q: %v", raw, err)
			}
		}
		if r.Method != http.MethodGet {
			addr, err := crypto.VerifyRequest(r.Method, r.URL.Path, raw,
				r.Header.Get("X-Account"), r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"),
				time.Now(), crypto.DefaultMaxSkew)
			if err != nil {
				t.Errorf("signature rejected: %v", err)
			}
			seen.account = addr.Hex()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func (s *seenRequest) snapshot() request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

func testKey(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	return s
}

func TestSignedCommands(t *testing.T) {
	key := testKey(t)
	tests := []struct {
		name     string
		args     []string
		wantPath string
		wantBody map[string]any
	}{
		{"create", []string{"create", "-q", "Rain tomorrow?", "-d", "2h"}, "/api/markets",
			map[string]any{"question": "Rain tomorrow?", "duration_seconds": float64(7200)}},
		{"stake", []string{"stake", "3", "yes", "12.5"}, "/api/markets/3/stake",
			map[string]any{"side": "yes", "amount": "12.5"}},
		{"resolve", []string{"resolve", "3", "no"}, "/api/markets/3/resolve",
			map[string]any{"outcome": "no"}},
		{"approve default max", []string{"approve", "3"}, "/api/token/approve",
			map[string]any{"market_id": float64(3), "amount": "max"}},
		{"approve amount", []string{"approve", "3", "40"}, "/api/token/approve",
			map[string]any{"market_id": float64(3), "amount": "40"}},
		{"withdraw", []string{"withdraw", "3"}, "/api/markets/3/withdraw", nil},
		{"faucet", []string{"faucet"}, "/api/token/faucet", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := verifyingServer(t, http.StatusOK, `{"ok":true}`)
			var out bytes.Buffer
			args := append([]string{"-api", srv.URL, "-key", key.PrivateKeyHex()}, tt.args...)
			if err := run(context.Background(), args, &out); err != nil {
				t.Fatalf("run: %v", err)
			}
			got := seen.snapshot()
			if got.method != http.MethodPost || got.path != tt.wantPath {
				t.Fatalf("request = %s %s, want POST %s", got.method, got.path, tt.wantPath)
			}
			if got.account != key.Address().Hex() {
				t.Fatalf("signed by %s, want %s", got.account, key.Address().Hex())
			}
			for k, v := range tt.wantBody {
				if got.body[k] != v {
					t.Fatalf("body[%s] = %v, want %v", k, got.body[k], v)
				}
			}
			if !strings.Contains(out.String(), `"ok": true`) {
				t.Fatalf("output = %q", out.String())
			}
		})
	}
}

func TestReadCommandsNeedNoKey(t *testing.T) {
	srv, seen := verifyingServer(t, http.StatusOK, `{"markets":[]}`)
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-api", srv.URL, "list", "-status", "resolved"}, &out); err != nil {
		t.Fatalf("run list: %v", err)
	}
	if got := seen.snapshot(); got.path != "/api/markets" || !strings.Contains(got.query, "status=resolved") {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}

	addr := "0x00000000000000000000000000000000000000aa"
	if err := run(context.Background(), []string{"-api", srv.URL, "balance", "-market", "2", addr}, &out); err != nil {
		t.Fatalf("run balance: %v", err)
	}
	if got := seen.snapshot(); !strings.HasSuffix(strings.ToLower(got.path), addr) || got.query != "market=2" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
}

func TestWriteWithoutKey(t *testing.T) {
	srv, _ := verifyingServer(t, http.StatusOK, `{}`)
	t.Setenv("MARKETCTL_KEY", "")
	t.Setenv("MARKETCTL_KEY_FILE", "")
	err := run(context.Background(), []string{"-api", srv.URL, "faucet"}, io.Discard)
	if !errors.Is(err, errNoKey) {
		t.Fatalf("run faucet = %v, want errNoKey", err)
	}
}

func TestAPIErrorIsReported(t *testing.T) {
	srv, _ := verifyingServer(t, http.StatusConflict, `{"error":"market ended","kind":"state"}`)
	key := testKey(t)
	err := run(context.Background(), []string{"-api", srv.URL, "-key", key.PrivateKeyHex(), "stake", "1", "no", "5"}, io.Discard)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Kind != "state" || apiErr.Message != "market ended" {
		t.Fatalf("apiError = %+v", apiErr)
	}
}

func TestKeygenAndEncryptKey(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"keygen"}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var gen struct {
		Address    string `json:"address"`
		PrivateKey string `json:"private_key"`
	}
	if err := json.Unmarshal(out.Bytes(), &gen); err != nil {
		t.Fatalf("decode keygen output: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.json")
	args := []string{"-key", gen.PrivateKey, "-key-password", "correct horse", "encrypt-key", "-out", path}
	if err := run(context.Background(), args, io.Discard); err != nil {
		t.Fatalf("encrypt-key: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("key file: %v", err)
	}

	out.Reset()
	args = []string{"-key-file", path, "-key-password", "correct horse", "whoami"}
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if strings.TrimSpace(out.String()) != gen.Address {
		t.Fatalf("whoami = %q, want %s", out.String(), gen.Address)
	}
}
