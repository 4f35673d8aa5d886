package transport

import (
	"context"
	"sync"

	"flexphone/internal/models"
)

// FakeTransport is a deterministic SipTransport for tests. Every
// operation succeeds unless an error is scripted for it, and tests
// push inbound events through the Emit helpers to simulate the stack.
type FakeTransport struct {
	mu sync.Mutex

	// scripted failures, keyed by operation name
	Errors map[string]error
	// optional hook invoked on Register, before the scripted error is
	// consulted. Lets tests block or sequence a registration.
	RegisterHook func(ctx context.Context, creds Credentials) error

	events chan Event

	connectCalls    int
	registerCalls   int
	unregisterCalls int
	closeCalls      int
	invites         []string // call ids
	answers         []string
	terminations    []string
	infoDigits      []string // "callID:digit"

	profile models.ProviderProfile
	creds   Credentials
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Errors: make(map[string]error),
		events: make(chan Event, 64),
	}
}

func (f *FakeTransport) fail(op string) error {
	if err, ok := f.Errors[op]; ok {
		return err
	}
	return nil
}

func (f *FakeTransport) Connect(ctx context.Context, profile models.ProviderProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	f.profile = profile
	return f.fail("connect")
}

func (f *FakeTransport) Register(ctx context.Context, creds Credentials) error {
	f.mu.Lock()
	hook := f.RegisterHook
	f.registerCalls++
	f.creds = creds
	err := f.fail("register")
	f.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, creds); hookErr != nil {
			return hookErr
		}
	}
	return err
}

func (f *FakeTransport) Unregister(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	return f.fail("unregister")
}

func (f *FakeTransport) Invite(ctx context.Context, callID, toNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("invite"); err != nil {
		return err
	}
	f.invites = append(f.invites, callID)
	return nil
}

func (f *FakeTransport) Answer(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("answer"); err != nil {
		return err
	}
	f.answers = append(f.answers, callID)
	return nil
}

func (f *FakeTransport) Terminate(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("terminate"); err != nil {
		return err
	}
	f.terminations = append(f.terminations, callID)
	return nil
}

func (f *FakeTransport) SendInfo(ctx context.Context, callID, digit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("send-info"); err != nil {
		return err
	}
	f.infoDigits = append(f.infoDigits, callID+":"+digit)
	return nil
}

func (f *FakeTransport) Events() <-chan Event { return f.events }

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *FakeTransport) ConnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *FakeTransport) RegisterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}

func (f *FakeTransport) UnregisterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unregisterCalls
}

func (f *FakeTransport) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *FakeTransport) InviteIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invites...)
}

func (f *FakeTransport) AnswerIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

func (f *FakeTransport) TerminationIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminations...)
}

// LastProfile returns the profile passed to the most recent Connect.
func (f *FakeTransport) LastProfile() models.ProviderProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile
}

// LastCreds returns the credentials passed to the most recent Register.
func (f *FakeTransport) LastCreds() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// SentDigits returns just the digits dispatched for a call, in order.
func (f *FakeTransport) SentDigits(callID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := callID + ":"
	for _, d := range f.infoDigits {
		if len(d) > len(prefix) && d[:len(prefix)] == prefix {
			out = append(out, d[len(prefix):])
		}
	}
	return out
}

// EmitIncomingInvite simulates an inbound INVITE from the stack.
func (f *FakeTransport) EmitIncomingInvite(callID, from, displayName string) {
	f.events <- Event{Kind: EventIncomingInvite, CallID: callID, From: from, DisplayName: displayName}
}

// EmitProgress simulates a transport call-state callback.
func (f *FakeTransport) EmitProgress(callID string, p Progress, reason string) {
	f.events <- Event{Kind: EventCallProgress, CallID: callID, Progress: p, Reason: reason}
}

// EmitTransportDown simulates the signaling transport failing.
func (f *FakeTransport) EmitTransportDown(reason string) {
	f.events <- Event{Kind: EventTransportDown, Reason: reason}
}
