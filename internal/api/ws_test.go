package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/alert"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAlert(t *testing.T, conn *websocket.Conn) alert.Alert {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var a alert.Alert
	if err := json.Unmarshal(frame, &a); err != nil {
		t.Fatalf("undecodable frame %s: %v", frame, err)
	}
	return a
}

func TestWSHandler(t *testing.T) {
	t.Run("replays_then_streams_live", func(t *testing.T) {
		p, _ := newTestPipeline(t)
		srv := httptest.NewServer(http.HandlerFunc(NewWSHandler(p, zerolog.Nop()).ServeHTTP))
		defer srv.Close()

		old := p.Ingest(map[string]any{"rule": map[string]any{"level": float64(3)}}, alert.SourceWazuh)
		deadline := time.Now().Add(3 * time.Second)
		for len(p.Recent()) < 1 {
			if time.Now().After(deadline) {
				t.Fatal("alert never reached the ring")
			}
			time.Sleep(10 * time.Millisecond)
		}

		conn := dialWS(t, srv)

		// Replay first.
		if got := readAlert(t, conn); got.ID != old.ID {
			t.Errorf("replay id = %q, want %q", got.ID, old.ID)
		}

		// Then live traffic.
		live := p.Ingest(map[string]any{"rule": map[string]any{"level": float64(9)}}, alert.SourceWazuh)
		if got := readAlert(t, conn); got.ID != live.ID {
			t.Errorf("live id = %q, want %q", got.ID, live.ID)
		}
	})

	t.Run("tracks_connected_clients", func(t *testing.T) {
		p, _ := newTestPipeline(t)
		srv := httptest.NewServer(http.HandlerFunc(NewWSHandler(p, zerolog.Nop()).ServeHTTP))
		defer srv.Close()

		conn := dialWS(t, srv)

		deadline := time.Now().Add(3 * time.Second)
		for p.ClientCount() != 1 {
			if time.Now().After(deadline) {
				t.Fatalf("ClientCount = %d, want 1", p.ClientCount())
			}
			time.Sleep(10 * time.Millisecond)
		}

		conn.Close()
		deadline = time.Now().Add(3 * time.Second)
		for p.ClientCount() != 0 {
			if time.Now().After(deadline) {
				t.Fatalf("ClientCount = %d after close, want 0", p.ClientCount())
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("client_text_is_discarded", func(t *testing.T) {
		p, _ := newTestPipeline(t)
		srv := httptest.NewServer(http.HandlerFunc(NewWSHandler(p, zerolog.Nop()).ServeHTTP))
		defer srv.Close()

		conn := dialWS(t, srv)
		if err := conn.WriteMessage(websocket.TextMessage, []byte("keepalive")); err != nil {
			t.Fatalf("write: %v", err)
		}

		// The connection stays up and alerts still flow.
		live := p.Ingest(map[string]any{"rule": map[string]any{"level": float64(5)}}, alert.SourceWazuh)
		if got := readAlert(t, conn); got.ID != live.ID {
			t.Errorf("id = %q, want %q", got.ID, live.ID)
		}
	})

	t.Run("non_websocket_request_rejected", func(t *testing.T) {
		p, _ := newTestPipeline(t)
		h := NewWSHandler(p, zerolog.Nop())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

// Two subscribers see the same alerts in the same order.
func TestWSFanoutOrdering(t *testing.T) {
	p, _ := newTestPipeline(t)
	srv := httptest.NewServer(http.HandlerFunc(NewWSHandler(p, zerolog.Nop()).ServeHTTP))
	defer srv.Close()

	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)

	var want []string
	for i := 0; i < 5; i++ {
		a := p.Ingest(map[string]any{"rule": map[string]any{"level": float64(i)}}, alert.SourceWazuh)
		want = append(want, a.ID)
	}

	for _, conn := range []*websocket.Conn{c1, c2} {
		for i, id := range want {
			if got := readAlert(t, conn); got.ID != id {
				t.Fatalf("frame %d id = %q, want %q", i, got.ID, id)
			}
		}
	}
}
