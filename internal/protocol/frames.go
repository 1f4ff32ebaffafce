// Package protocol implements the dual-format wire codec spoken by the
// game servers: a percent-delimited command format for the steady-state
// stream and a minimal XML envelope used during the bootstrap handshake.
// Outbound framing must stay bit-exact for interop.
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Separator both separates and terminates delimited-frame segments.
const Separator = "%"

// Kind discriminates the two frame families on the wire.
type Kind int

const (
	// KindDelimited is a percent-delimited command frame.
	KindDelimited Kind = iota
	// KindXML is an XML envelope frame.
	KindXML
)

// Response is one decoded inbound frame. Command/Status/Payload are set for
// delimited frames, Tag/Action/Room/Body for XML frames. Payload holds a
// map[string]any when the raw text looked like a JSON object and decoded
// cleanly, the raw string otherwise, and nil when the frame carried none.
type Response struct {
	Kind Kind

	Command string
	Status  int
	Payload any

	Tag    string
	Action string
	Room   string
	Body   string
}

// BuildCommand frames a delimited command as
// xt%<serverID>%<command>%1%<arg0>%<arg1>...% with a trailing separator.
func BuildCommand(serverID, command string, args ...string) string {
	parts := make([]string, 0, 4+len(args))
	parts = append(parts, "xt", serverID, command, "1")
	parts = append(parts, args...)
	return strings.Join(parts, Separator) + Separator
}

// BuildJSONCommand frames a delimited command whose single argument is the
// JSON serialization of data.
func BuildJSONCommand(serverID, command string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", command, err)
	}
	return BuildCommand(serverID, command, string(raw)), nil
}

// BuildXML frames an XML envelope: <msg t='T'><body action='A' r='R'>BODY</body></msg>.
func BuildXML(tag, action, room, body string) string {
	return fmt.Sprintf("<msg t='%s'><body action='%s' r='%s'>%s</body></msg>",
		tag, action, room, body)
}

// xmlFrameRe extracts the single message envelope from an XML frame. The
// servers emit one envelope per frame with single-quoted attributes in a
// fixed order, so a targeted expression beats a full XML parser here.
var xmlFrameRe = regexp.MustCompile(`(?s)<msg t='([^']*)'><body action='([^']*)' r='([^']*)'>(.*)</body></msg>`)

// Decode parses one raw inbound frame. Text starting with '<' is decoded as
// an XML envelope; anything else is split on the separator, ignoring empty
// segments. Malformed frames return an error rather than a partial result.
func Decode(raw string) (*Response, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty frame")
	}

	if strings.HasPrefix(text, "<") {
		m := xmlFrameRe.FindStringSubmatch(text)
		if m == nil {
			return nil, fmt.Errorf("malformed xml frame: %q", truncate(text, 80))
		}
		return &Response{
			Kind:   KindXML,
			Tag:    m[1],
			Action: m[2],
			Room:   m[3],
			Body:   m[4],
		}, nil
	}

	var segs []string
	for _, s := range strings.Split(text, Separator) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) < 4 {
		return nil, fmt.Errorf("short delimited frame: %q", truncate(text, 80))
	}

	status, err := strconv.Atoi(segs[3])
	if err != nil {
		return nil, fmt.Errorf("delimited frame status %q: %w", segs[3], err)
	}

	resp := &Response{
		Kind:    KindDelimited,
		Command: segs[1],
		Status:  status,
	}
	if len(segs) > 4 {
		resp.Payload = decodePayload(segs[4])
	}
	return resp, nil
}

// decodePayload opportunistically decodes text that looks like a JSON
// object, falling back to the raw text.
func decodePayload(text string) any {
	if strings.HasPrefix(text, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(text), &m); err == nil {
			return m
		}
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
