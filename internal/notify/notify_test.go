package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Market #1 resolved", "Outcome: yes"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if want := "**Market #1 resolved**\nOutcome: yes"; got["content"] != want {
		t.Fatalf("content = %q, want %q", got["content"], want)
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	if err := NewTelegramSender(srv.URL+"/", "tok", "42").Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if want := "/bottok/sendMessage"; path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if got["chat_id"] != "42" || got["text"] != "*T*\nM" {
		t.Fatalf("payload = %v", got)
	}
}

func TestSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "M")
	if err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "bad webhook") {
		t.Fatalf("error = %q, want status and body", err)
	}
}

type stubSender struct {
	name string
	err  error
	sent []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFilter(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"resolved", " "}, testLogger)

	ctx := context.Background()
	if err := n.Notify(ctx, "staked", "a", ""); err != nil {
		t.Fatalf("Notify(staked): %v", err)
	}
	if err := n.Notify(ctx, "resolved", "b", ""); err != nil {
		t.Fatalf("Notify(resolved): %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "b" {
		t.Fatalf("sent = %v, want [b]", s.sent)
	}

	all := &stubSender{name: "all"}
	if err := NewNotifier([]Sender{all}, nil, testLogger).Notify(ctx, "staked", "c", ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(all.sent) != 1 {
		t.Fatalf("unfiltered notifier sent %d, want 1", len(all.sent))
	}
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger)

	err := n.Notify(context.Background(), "withdrawn", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("Notify = %v, want %v", err, boom)
	}
	if len(good.sent) != 1 {
		t.Fatalf("good sender called %d times, want 1", len(good.sent))
	}
}
