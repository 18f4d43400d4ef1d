package logstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// receive keeps publishing via send until the client sees a message;
// registration completes asynchronously after the handshake.
func receive(t *testing.T, conn *websocket.Conn, send func()) []byte {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			send()
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHubBroadcastsLogLines(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)
	msg := receive(t, conn, func() { h.Write([]byte("[INFO] panel started\n")) })
	if string(msg) != "[INFO] panel started\n" {
		t.Errorf("message = %q", msg)
	}
}

func TestHubBroadcastsFrames(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)
	msg := receive(t, conn, func() { h.PublishFrame(1, "Temp:23C        ") })
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("frame %q: %v", msg, err)
	}
	if f.Line != 1 || f.Text != "Temp:23C        " {
		t.Errorf("frame = %+v", f)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	h := NewHub() // not running
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*sendBuffer; i++ {
			h.Publish([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no hub running")
	}
}

func TestWriteCopiesBuffer(t *testing.T) {
	h := NewHub()
	buf := []byte("first")
	h.Write(buf)
	copy(buf, "XXXXX")
	if got := <-h.broadcast; string(got) != "first" {
		t.Errorf("queued message = %q", got)
	}
}
