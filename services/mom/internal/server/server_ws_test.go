package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"momflow/pkg/domain"
)

func TestWebSocketStreamsNotifications(t *testing.T) {
	ts := newTestServer(t, nil)
	ws := newWorkspace(t, ts)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + ws.outsider.token

	conn, err := websocket.Dial(wsURL, "", "http://localhost")
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Subscribers(ws.outsider.user.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ts.expectStatus(t, http.MethodPost, fmt.Sprintf("/projects/%d/roles", ws.project.ID), ws.creator.token,
		map[string]any{"userId": ws.outsider.user.ID, "role": "CLIENT"}, http.StatusOK).Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n domain.Notification
	if err := websocket.JSON.Receive(conn, &n); err != nil {
		t.Fatalf("receive notification: %v", err)
	}
	if n.UserID != ws.outsider.user.ID || n.Type != "PROJECT_ROLE_ASSIGNED" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("get /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.AllowedOrigins = []string{"https://app.example.com"} })
	user := ts.signup(t, "admin@example.com")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + user.token
	if _, err := websocket.Dial(wsURL, "", "https://evil.example.com"); err == nil {
		t.Fatalf("expected a foreign origin to be rejected")
	}
}
