package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/sirupsen/logrus"
)

func TestDiscordSender(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewDiscordSender(server.URL, "test")
	if err := sender.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	embeds, ok := received["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("unexpected body %v", received)
	}
	embed := embeds[0].(map[string]any)
	if !strings.Contains(embed["title"].(string), "CRITICAL") {
		t.Errorf("title = %v", embed["title"])
	}
	if embed["color"].(float64) != 0xFF0000 {
		t.Errorf("color = %v", embed["color"])
	}
	if !strings.Contains(embed["description"].(string), "750.00 ETH") {
		t.Errorf("description = %v", embed["description"])
	}
}

func TestDiscordSenderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewDiscordSender(server.URL, "test").Send(context.Background(), sampleAlert())
	if !fault.Retryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
}

func TestSMTPSender(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	sender := NewSMTPSender("mail.example.com", 587, "user", "pass", "whales@example.com", []string{"ops@example.com"})
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := sender.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 {
		t.Errorf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: [CRITICAL] Whale dumping: 750.00 ETH") {
		t.Errorf("unexpected subject in %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "CONSIDER_SHORT") {
		t.Error("body should carry the recommended action")
	}
}

func TestSMTPSenderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind fault.Kind
	}{
		{"permanent reply", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, fault.KindRejected},
		{"temporary reply", &textproto.Error{Code: 421, Msg: "try later"}, fault.KindTransient},
		{"dial failure", errors.New("connection refused"), fault.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewSMTPSender("mail.example.com", 587, "", "", "a@example.com", []string{"b@example.com"})
			sender.send = func(string, smtp.Auth, string, []string, []byte) error { return tt.err }

			if err := sender.Send(context.Background(), sampleAlert()); !fault.Is(err, tt.kind) {
				t.Errorf("Send() error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := NewLogSender(log).Send(context.Background(), sampleAlert()); err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if entry["alert_id"] != "abcdef0123456789" || entry["severity"] != "critical" {
		t.Errorf("unexpected log entry %v", entry)
	}
}

func TestWebsocketSender(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan Payload, 4)
	var authMu sync.Mutex
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authMu.Lock()
		auth = r.Header.Get("Authorization")
		authMu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var p Payload
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			frames <- p
		}
	}))
	defer server.Close()

	sender := NewWebsocketSender("ws"+strings.TrimPrefix(server.URL, "http"), "token")
	defer sender.Close()

	for i := 0; i < 2; i++ {
		if err := sender.Send(context.Background(), sampleAlert()); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case p := <-frames:
			if p.ID != "abcdef0123456789" || p.Event != "whale_alert" {
				t.Errorf("unexpected frame %+v", p)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	authMu.Lock()
	defer authMu.Unlock()
	if auth != "Bearer token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebsocketSenderRedialsAfterPeerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan int, 4)
	var conns int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(atomic.AddInt32(&conns, 1))

		var p Payload
		if err := conn.ReadJSON(&p); err != nil {
			return
		}
		frames <- n
		if n == 1 {
			// First connection goes away after one frame
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			return
		}
		for {
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			frames <- n
		}
	}))
	defer server.Close()

	sender := NewWebsocketSender("ws"+strings.TrimPrefix(server.URL, "http"), "")
	defer sender.Close()

	if err := sender.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if got := <-frames; got != 1 {
		t.Fatalf("first frame on connection %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sender.mu.Lock()
		closed := sender.conn == nil
		sender.mu.Unlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("peer close was not noticed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sender.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	select {
	case got := <-frames:
		if got != 2 {
			t.Errorf("second frame on connection %d, want 2", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second frame not received")
	}
}

func TestWebsocketSenderDialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewWebsocketSender("ws"+strings.TrimPrefix(server.URL, "http"), "").Send(context.Background(), sampleAlert())
	if !fault.Is(err, fault.KindRejected) {
		t.Errorf("expected rejected error, got %v", err)
	}
}
