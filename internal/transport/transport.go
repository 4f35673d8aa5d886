package transport

import (
	"context"

	"flexphone/internal/models"
)

// Credentials used for registration
type Credentials struct {
	Username    string
	Password    string
	DisplayName string
}

// Progress is a transport-level call-state callback
type Progress string

const (
	ProgressEstablishing Progress = "ESTABLISHING" // remote is alerting
	ProgressEstablished  Progress = "ESTABLISHED"  // remote answered
	ProgressTerminated   Progress = "TERMINATED"   // remote hung up / final failure
)

// EventKind discriminates inbound transport events
type EventKind string

const (
	EventIncomingInvite EventKind = "INCOMING_INVITE"
	EventCallProgress   EventKind = "CALL_PROGRESS"
	EventTransportDown  EventKind = "TRANSPORT_DOWN"
)

// Event is an asynchronous signal from the SIP stack. The bridge is the
// only consumer.
type Event struct {
	Kind        EventKind
	CallID      string
	From        string // user part of the remote URI, invites only
	DisplayName string
	Progress    Progress
	Reason      string
}

// SipTransport abstracts the underlying SIP stack so the session and
// call state machines can be driven by a deterministic fake in tests.
// All blocking operations take a context.
type SipTransport interface {
	// Connect opens the signaling transport toward the resolved provider.
	Connect(ctx context.Context, profile models.ProviderProfile) error
	// Register authenticates and advertises reachability to the server.
	Register(ctx context.Context, creds Credentials) error
	// Unregister withdraws the current registration.
	Unregister(ctx context.Context) error
	// Invite starts an outbound call leg. Progress arrives via Events.
	Invite(ctx context.Context, callID, toNumber string) error
	// Answer accepts a previously signaled inbound invite.
	Answer(ctx context.Context, callID string) error
	// Terminate ends a call leg in whatever way its state requires
	// (CANCEL, BYE or a busy final response).
	Terminate(ctx context.Context, callID string) error
	// SendInfo carries one DTMF digit in-dialog.
	SendInfo(ctx context.Context, callID, digit string) error
	// Events is the inbound event stream. Closed by Close.
	Events() <-chan Event
	// Close tears the transport down; safe to call when not connected.
	Close() error
}
