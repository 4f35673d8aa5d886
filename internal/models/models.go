package models

import "time"

// CallState represents the current state of a call leg
type CallState string

const (
	CallStateIdle       CallState = "IDLE"
	CallStateConnecting CallState = "CONNECTING"
	CallStateRinging    CallState = "RINGING"
	CallStateConnected  CallState = "CONNECTED"
	CallStateEnded      CallState = "ENDED"
)

// CallDirection distinguishes who originated the call leg
type CallDirection string

const (
	DirectionOutbound CallDirection = "OUTBOUND"
	DirectionInbound  CallDirection = "INBOUND"
)

// RegistrationState represents the state of the SIP registration session
type RegistrationState string

const (
	RegStateUnregistered  RegistrationState = "UNREGISTERED"
	RegStateConnecting    RegistrationState = "CONNECTING"
	RegStateRegistered    RegistrationState = "REGISTERED"
	RegStateUnregistering RegistrationState = "UNREGISTERING"
	RegStateError         RegistrationState = "ERROR"
)

// Call is a snapshot of a single call leg. The controller hands out
// copies only; callers never hold the mutable record.
type Call struct {
	ID           string        `json:"call_id"`
	Direction    CallDirection `json:"direction"`
	RemoteNumber string        `json:"remote_number"`
	RemoteName   string        `json:"remote_name,omitempty"`
	LocalNumber  string        `json:"local_number"`
	Provider     string        `json:"provider"`
	State        CallState     `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	ConnectTime  time.Time     `json:"connect_time,omitempty"`
	EndTime      time.Time     `json:"end_time,omitempty"`
}

// HistoryStatus is the final disposition of a call as recorded in history
type HistoryStatus string

const (
	HistoryCompleted HistoryStatus = "completed"
	HistoryMissed    HistoryStatus = "missed"
	HistoryDeclined  HistoryStatus = "declined"
	HistoryCanceled  HistoryStatus = "canceled"
	HistoryFailed    HistoryStatus = "failed"
)

// CallRecord is the finalized form of a call appended to history.
// Ids are unique for the lifetime of the process and never reused.
type CallRecord struct {
	ID           string        `json:"id"`
	Direction    CallDirection `json:"direction"`
	RemoteNumber string        `json:"remote_number"`
	RemoteName   string        `json:"remote_name,omitempty"`
	LocalNumber  string        `json:"local_number"`
	Provider     string        `json:"provider"`
	StartTime    time.Time     `json:"start_time"`
	ConnectTime  time.Time     `json:"connect_time,omitempty"`
	EndTime      time.Time     `json:"end_time"`
	Duration     float64       `json:"duration"` // seconds, 0 if never connected
	Status       HistoryStatus `json:"status"`
}

// RegistrationStatus is a read-only snapshot of the registrar
type RegistrationStatus struct {
	State           RegistrationState `json:"state"`
	Provider        string            `json:"provider,omitempty"`
	Server          string            `json:"server,omitempty"`
	Username        string            `json:"username,omitempty"`
	ActiveCallCount int               `json:"active_call_count"`
	TotalCallCount  int               `json:"total_call_count"`
	Features        []string          `json:"features,omitempty"`
	RegisteredAt    time.Time         `json:"registered_at,omitempty"`
}

// ContactSummary is what the directory returns for a known number
type ContactSummary struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}
