package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pipelinewatch/internal/monitor"
)

const (
	streamKeepaliveInterval = 60 * time.Second
	streamWriteTimeout      = 5 * time.Second
)

var statusUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveStatusConnection(conn)
}

// serveStatusConnection pushes the status on connect, after every applied
// cycle and on a keepalive tick, until the client goes away.
func (s *Server) serveStatusConnection(conn *websocket.Conn) {
	defer conn.Close()

	updates := make(chan struct{}, 1)
	unsubscribe := s.monitor.SubscribeCycles(func(monitor.CycleResult) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := writeStatusPayload(conn, s.currentStatus()); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepaliveInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-updates:
		case <-ticker.C:
		case <-done:
			return
		}
		if err := writeStatusPayload(conn, s.currentStatus()); err != nil {
			s.logger.WithError(err).Debug("status stream closed")
			return
		}
	}
}

func writeStatusPayload(conn *websocket.Conn, payload statusResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(payload)
}
