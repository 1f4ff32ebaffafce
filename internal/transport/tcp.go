package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const tcpConnectTimeout = 30 * time.Second

// TCPStream is the raw-stream transport. The underlying socket carries an
// unstructured byte stream: outbound messages are NUL-terminated on write,
// inbound bytes are buffered and split on NUL with any trailing partial
// message retained for the next chunk.
type TCPStream struct {
	mu sync.Mutex

	addr   string
	h      Handlers
	conn   net.Conn
	closed bool
}

// NewTCPStream creates a raw-stream transport for the given host:port.
func NewTCPStream(addr string, h Handlers) *TCPStream {
	return &TCPStream{addr: addr, h: h}
}

// Open dials the server. The transport counts as open only once the dial
// has completed, at which point OnOpen fires and the read loop starts.
func (t *TCPStream) Open() error {
	conn, err := net.DialTimeout("tcp", t.addr, tcpConnectTimeout)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", t.addr, err)
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

func (t *TCPStream) readLoop(conn net.Conn) {
	err := splitStream(conn, func(msg string) {
		if t.h.OnData != nil {
			t.h.OnData(msg)
		}
	})

	t.mu.Lock()
	deliberate := t.closed
	t.mu.Unlock()

	if !deliberate && err != nil && err != io.EOF && t.h.OnError != nil {
		t.h.OnError(err)
	}
	if t.h.OnClose != nil {
		reason := "eof"
		if err != nil {
			reason = err.Error()
		}
		t.h.OnClose(0, reason)
	}
}

// splitStream reads r to exhaustion, emitting one complete NUL-delimited
// message at a time. A trailing partial message (no terminator before the
// stream ends) is dropped.
func splitStream(r io.Reader, emit func(string)) error {
	br := bufio.NewReader(r)
	for {
		msg, err := br.ReadString(0)
		if complete := err == nil; complete {
			if m := msg[:len(msg)-1]; m != "" {
				emit(m)
			}
			continue
		}
		return err
	}
}

// Send writes one outbound message terminated with a single NUL byte.
func (t *TCPStream) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return fmt.Errorf("tcp stream not open")
	}
	_, err := t.conn.Write(append([]byte(text), 0))
	return err
}

// Close tears the connection down without reporting a transport error.
func (t *TCPStream) Close() error {
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
