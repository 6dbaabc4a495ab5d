package transport

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
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConnFlushesOpeningMessagesThenDispatches verifies that a queued
// opening message is sent on open, and that inbound frames are parsed and
// delivered to the callback.
func TestConnFlushesOpeningMessagesThenDispatches(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"echo":true}`))
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var gotMessages []string
	done := make(chan struct{})
	c := New(wsURL, func(msg json.RawMessage) bool {
		gotMessages = append(gotMessages, string(msg))
		close(done)
		return false // close after first message
	}, discardLogger())

	_ = c.AddOpeningMessageJSON(map[string]string{"type": "subscribe"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message dispatch")
	}

	select {
	case got := <-received:
		if !strings.Contains(got, "subscribe") {
			t.Fatalf("server did not receive opening message, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received opening message")
	}

	if len(gotMessages) != 1 {
		t.Fatalf("expected exactly 1 dispatched message, got %d", len(gotMessages))
	}

	<-errCh
}
