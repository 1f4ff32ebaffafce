// Package transport implements the two byte transports the connection core
// runs over: a message-framed websocket and a raw TCP stream that frames
// messages itself with a NUL delimiter. Both deliver whole messages to the
// layer above through the same callback contract.
package transport

import (
	"net/url"
	"strings"
)

// Handlers receives transport lifecycle and data callbacks. OnData is
// invoked once per complete inbound message. Any handler may be nil.
type Handlers struct {
	OnOpen  func()
	OnData  func(text string)
	OnError func(err error)
	OnClose func(code int, reason string)
}

// Transport is one physical connection to a game server. A Transport is
// single-use: after Close or a terminal error, a fresh instance replaces it.
type Transport interface {
	Open() error
	Send(text string) error
	Close() error
}

// StreamAddr derives a host:port dial address for the raw-stream transport
// from a configured server URL, stripping any scheme prefix and defaulting
// the port to 443 when unspecified.
func StreamAddr(raw string) string {
	host := raw
	for _, scheme := range []string{"wss://", "ws://", "https://", "http://", "tcp://"} {
		host = strings.TrimPrefix(host, scheme)
	}
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if !strings.Contains(host, ":") {
		host += ":443"
	}
	return host
}

// normalizeWSURL ensures a websocket URL carries a ws/wss scheme; server
// list feeds sometimes publish https endpoints for websocket zones.
func normalizeWSURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https", "":
		u.Scheme = "wss"
	}
	return u.String()
}
