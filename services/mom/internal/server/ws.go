package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"momflow/internal/util"
	"momflow/pkg/domain"
)

const wsWriteTimeout = 10 * time.Second

// handleWebSocket streams the caller's notifications. Browsers cannot set
// headers on the upgrade request, so the token travels in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = bearerToken(r)
	}
	user, ok := s.app.UserFromToken(r.Context(), token)
	if token == "" || !ok {
		s.audit(r, "mom.authorize", "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ws := websocket.Server{
		Handshake: s.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			s.streamNotifications(conn, user)
		},
	}
	ws.ServeHTTP(w, r)
}

func (s *Server) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return nil
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return nil
		}
	}
	return fmt.Errorf("origin %q not allowed", origin)
}

func (s *Server) streamNotifications(conn *websocket.Conn, user domain.User) {
	defer conn.Close()
	// The http.Server read deadline outlives the hijack.
	_ = conn.SetReadDeadline(time.Time{})
	req := conn.Request()
	logger := util.LoggerFromContext(req.Context()).With("user_id", user.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe, err := s.app.SubscribeNotifications(ctx, user)
	if err != nil {
		logger.Warn("notification_subscribe_failed", "err", err)
		return
	}
	defer unsubscribe()

	// Clients never send frames; a read error means the peer went away.
	go func() {
		defer cancel()
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	logger.Info("notification_stream_opened")
	for {
		select {
		case <-ctx.Done():
			logger.Info("notification_stream_closed")
			return
		case n, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := websocket.JSON.Send(conn, n); err != nil {
				logger.Warn("notification_send_failed", "notification_id", n.ID, "err", err)
				return
			}
		}
	}
}
