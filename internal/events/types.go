// Package events defines the event types flowing through the tracker's
// pub/sub bus.
package events

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	// Zone lifecycle events
	EventZoneConnected    EventType = "zone_connected"
	EventZoneDisconnected EventType = "zone_disconnected"
	EventZoneRestarting   EventType = "zone_restarting"
	EventZoneLoginFailed  EventType = "zone_login_failed"
	EventZoneRegistered   EventType = "zone_registered"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event is one message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// ZoneStatus is the payload carried by zone lifecycle events.
type ZoneStatus struct {
	Zone      string `json:"zone"`
	Variant   string `json:"variant"`
	Connected bool   `json:"connected"`
	Attempts  int    `json:"reconnect_attempts"`
	Detail    string `json:"detail,omitempty"`
}
