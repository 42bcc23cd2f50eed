package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/iaction/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_filtersByCamera(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	all := dial(t, srv, "")
	garage := dial(t, srv, "?camera_id=garage")
	waitClients(t, hub, 2)

	porchEvent := models.AnalysisEvent{ID: uuid.New(), CameraID: "porch", Success: true}
	garageEvent := models.AnalysisEvent{ID: uuid.New(), CameraID: "garage", Success: true}
	if err := hub.PublishEvent(ctx, porchEvent); err != nil {
		t.Fatal(err)
	}
	if err := hub.PublishEvent(ctx, garageEvent); err != nil {
		t.Fatal(err)
	}

	read := func(conn *websocket.Conn) string {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type     string `json:"type"`
			CameraID string `json:"camera_id"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != "analysis" {
			t.Errorf("type = %q", msg.Type)
		}
		return msg.CameraID
	}

	if got := read(all); got != "porch" {
		t.Errorf("unfiltered client first event = %q, want porch", got)
	}
	if got := read(all); got != "garage" {
		t.Errorf("unfiltered client second event = %q, want garage", got)
	}
	if got := read(garage); got != "garage" {
		t.Errorf("filtered client got %q, want garage", got)
	}
}

func TestHub_disconnectUnregisters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_rejectsEventWithoutCamera(t *testing.T) {
	if err := NewHub().PublishEvent(context.Background(), models.AnalysisEvent{}); err == nil {
		t.Fatal("expected error")
	}
}
