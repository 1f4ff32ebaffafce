package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 30 * time.Second

// WebSocket is the message-framed transport. The underlying connection
// delivers whole messages, so each inbound message forwards directly as one
// OnData event and each Send writes one message.
type WebSocket struct {
	mu sync.Mutex

	url    string
	h      Handlers
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket creates a websocket transport for the given server URL.
func NewWebSocket(rawURL string, h Handlers) *WebSocket {
	return &WebSocket{url: normalizeWSURL(rawURL), h: h}
}

// Open dials the server and starts the read loop.
func (t *WebSocket) Open() error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.Dial(t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.h.OnOpen != nil {
		t.h.OnOpen()
	}

	go t.readLoop(conn)
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.finish(err)
			return
		}
		if t.h.OnData != nil {
			t.h.OnData(string(msg))
		}
	}
}

// finish reports the read loop's terminal error. A deliberate Close
// suppresses the error callback so the close path fires alone.
func (t *WebSocket) finish(err error) {
	t.mu.Lock()
	deliberate := t.closed
	t.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	if !deliberate && t.h.OnError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.h.OnError(err)
	}
	if t.h.OnClose != nil {
		t.h.OnClose(code, reason)
	}
}

// Send writes one outbound message.
func (t *WebSocket) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return fmt.Errorf("websocket not open")
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close tears the connection down without reporting a transport error.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
