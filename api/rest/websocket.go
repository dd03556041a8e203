package rest

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"golang.org/x/net/websocket"

	"yqhp/optimization-engine/internal/processor"
)

// ProgressStreamMessage represents a message sent over the WebSocket.
type ProgressStreamMessage struct {
	Type      string              `json:"type"`
	Timestamp string              `json:"timestamp"`
	Progress  *processor.Progress `json:"progress,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// setupWebSocketRoutes registers the progress stream endpoint.
func (s *Server) setupWebSocketRoutes() {
	s.app.Get("/api/v1/progress/stream", adaptor.HTTPHandler(
		websocket.Handler(func(ws *websocket.Conn) {
			s.handleProgressStream(ws)
		}),
	))
}

// handleProgressStream pushes progress snapshots at the configured interval
// until the client disconnects.
func (s *Server) handleProgressStream(ws *websocket.Conn) {
	defer ws.Close()

	if s.proc == nil {
		s.sendStreamMessage(ws, &ProgressStreamMessage{
			Type:      "error",
			Timestamp: time.Now().Format(time.RFC3339),
			Error:     "no processor attached",
		})
		return
	}

	interval := s.config.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}

	// 读循环只用于感知客户端断开。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		msg := &ProgressStreamMessage{
			Type:      "progress",
			Timestamp: time.Now().Format(time.RFC3339),
			Progress:  s.proc.GetProgress(),
		}
		if !s.sendStreamMessage(ws, msg) {
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// sendStreamMessage marshals and sends one message; false means the
// connection is gone.
func (s *Server) sendStreamMessage(ws *websocket.Conn, msg *ProgressStreamMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if err := websocket.Message.Send(ws, string(data)); err != nil {
		return false
	}
	return true
}
