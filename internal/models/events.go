package models

import "time"

// EventType names a core state transition delivered to the UI layer
type EventType string

const (
	EventRegistered         EventType = "registered"
	EventRegistrationFailed EventType = "registration-failed"
	EventDisconnected       EventType = "disconnected"
	EventCallInitiated      EventType = "call-initiated"
	EventIncomingCall       EventType = "incoming-call"
	EventCallRinging        EventType = "call-ringing"
	EventCallConnected      EventType = "call-connected"
	EventCallEnded          EventType = "call-ended"
)

// Event is one typed notification produced per state transition.
// The bridge assigns Seq in emission order; consumers may see an event
// more than once and must treat duplicates idempotently.
type Event struct {
	Seq    uint64      `json:"seq"`
	Type   EventType   `json:"type"`
	Time   time.Time   `json:"time"`
	Reason string      `json:"reason,omitempty"`
	Call   *Call       `json:"call,omitempty"`
	Record *CallRecord `json:"record,omitempty"`
	// Profile carries the effective provider profile on "registered";
	// downstream treats it as ground truth.
	Profile *ProviderProfile `json:"profile,omitempty"`
}
