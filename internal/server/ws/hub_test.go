package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestHubRelaysPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, testLogger)
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" {
		t.Fatalf("first frame type = %q, want hello", hello.Type)
	}

	hub.Publish(ctx, domain.Event{MarketID: 3, Seq: 2, Kind: domain.EventStaked, Side: domain.SideYes, Amount: 10, YesTotal: 10})

	var got envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != "event" || got.Event == nil {
		t.Fatalf("frame = %+v, want event", got)
	}
	if got.Event.MarketID != 3 || got.Event.Amount != 10 {
		t.Fatalf("event = %+v, want market 3 amount 10", got.Event)
	}
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"market:1": true, "market:2*": true}}
	tests := []struct {
		channel string
		want    bool
	}{
		{"market:1", true},
		{"market:10", false},
		{"market:2", true},
		{"market:21", true},
		{"market:3", false},
	}
	for _, tt := range tests {
		if got := c.isSubscribed(tt.channel); got != tt.want {
			t.Fatalf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}

	c.handleSubscription(clientMsg{Action: "unsubscribe", Channels: []string{"market:1"}})
	c.handleSubscription(clientMsg{Action: "subscribe", Channels: []string{" market:* "}})
	if c.subs["market:1"] {
		t.Fatal("market:1 still subscribed")
	}
	if !c.isSubscribed("market:99") {
		t.Fatal("market:* does not match market:99")
	}
}

func TestWrapBusEvent(t *testing.T) {
	payload, err := json.Marshal(domain.Event{MarketID: 7, Seq: 3, Kind: domain.EventResolved, Side: domain.SideNo})
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := wrapBusEvent(payload, "1-0")
	if !ok {
		t.Fatal("wrapBusEvent rejected a valid event")
	}
	if msg.channel != "market:7" {
		t.Fatalf("channel = %q, want market:7", msg.channel)
	}
	var env envelope
	if err := json.Unmarshal(msg.data, &env); err != nil {
		t.Fatal(err)
	}
	if env.StreamID != "1-0" || env.Event == nil || env.Event.Side != domain.SideNo {
		t.Fatalf("envelope = %+v", env)
	}
	if _, ok := wrapBusEvent([]byte("not json"), ""); ok {
		t.Fatal("wrapBusEvent accepted garbage")
	}
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
