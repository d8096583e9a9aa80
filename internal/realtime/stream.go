// Package realtime subscribes to the external realtime agent over websocket
// and hands its messages to the surface. The agent is an opaque collaborator:
// no reconnect, no protocol negotiation beyond JSON frames.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
)

type Stream struct {
	endpoint string
	header   http.Header
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewStream(endpoint, token string, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if strings.TrimSpace(token) != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	return &Stream{endpoint: endpoint, header: header, logger: logger}
}

// Subscribe dials the agent and delivers its messages on the returned channel.
// The channel closes when the socket closes or ctx is cancelled; cancellation
// also closes the socket so the read loop unblocks.
func (s *Stream) Subscribe(ctx context.Context) (<-chan conversation.Message, error) {
	if strings.TrimSpace(s.endpoint) == "" {
		return nil, fmt.Errorf("realtime endpoint is required")
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, s.endpoint, s.header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime agent: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	out := make(chan conversation.Message)
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go s.readLoop(ctx, conn, out)
	return out, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- conversation.Message) {
	defer close(out)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("realtime_read_error", "error", err)
			}
			return
		}
		var msg conversation.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("realtime_decode_error", "error", err)
			continue
		}
		msg.Source = conversation.SourceRealtimeAgent
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts the socket. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
