package alerts

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liamashdown/whalewatch/internal/fault"
)

const wsWriteTimeout = 10 * time.Second

// WebsocketSender pushes alert payloads over a persistent websocket
// connection, dialing on first use and again after a failed write
type WebsocketSender struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketSender creates a websocket sender. A non-empty token is sent
// as a bearer token on the handshake.
func NewWebsocketSender(url, token string) *WebsocketSender {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebsocketSender{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Name identifies the sink
func (s *WebsocketSender) Name() string {
	return "websocket"
}

// Send writes the alert payload as a JSON text frame
func (s *WebsocketSender) Send(ctx context.Context, alert *Alert) error {
	const op = "websocket send"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return fault.Rejected(op, err)
			}
			return fault.Transient(op, err)
		}
		s.conn = conn
		go s.readLoop(conn)
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteJSON(NewPayload(alert)); err != nil {
		// Drop the connection so the next attempt redials
		s.conn.Close()
		s.conn = nil
		return fault.Transient(op, err)
	}
	return nil
}

// readLoop discards inbound frames so control frames are processed. When the
// peer goes away the connection is dropped and the next Send redials.
func (s *WebsocketSender) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}

// Close closes the underlying connection, if any
func (s *WebsocketSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.conn.Close()
	s.conn = nil
	return err
}
