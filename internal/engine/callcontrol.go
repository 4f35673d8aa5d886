package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog"

	"flexphone/internal/dialplan"
	"flexphone/internal/directory"
	"flexphone/internal/models"
	"flexphone/internal/transport"
	"flexphone/pkg/utils"
)

// RegistrationView is what the controller needs from the session
// registrar: whether calls may be created right now, and under which
// identity.
type RegistrationView interface {
	IsRegistered() bool
	ActiveProfile() (models.ProviderProfile, bool)
	LocalNumber() string
}

// Config holds the call policy values.
type Config struct {
	// MaxConcurrentCalls applies when the provider feature set includes
	// concurrent calls; otherwise the limit is 1.
	MaxConcurrentCalls int
	// RingTimeout bounds how long an inbound call may keep ringing
	// before it is auto-terminated as missed.
	RingTimeout time.Duration
	// DTMFSpacing is the minimum gap between two dispatched digits.
	DTMFSpacing time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 1
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.DTMFSpacing < 0 {
		c.DTMFSpacing = 0
	}
	return c
}

const (
	trigRing   = "ring"
	trigAnswer = "answer"
	trigEnd    = "end"
)

// newCallFSM builds the per-call state machine. Outbound calls start at
// Connecting, inbound calls at Ringing. Ended is terminal.
func newCallFSM(initial models.CallState) *stateless.StateMachine {
	sm := stateless.NewStateMachine(initial)
	sm.Configure(models.CallStateConnecting).
		Permit(trigRing, models.CallStateRinging).
		Permit(trigAnswer, models.CallStateConnected).
		Permit(trigEnd, models.CallStateEnded)
	sm.Configure(models.CallStateRinging).
		Permit(trigAnswer, models.CallStateConnected).
		Permit(trigEnd, models.CallStateEnded)
	sm.Configure(models.CallStateConnected).
		Permit(trigEnd, models.CallStateEnded)
	return sm
}

type call struct {
	models.Call
	fsm       *stateless.StateMachine
	ringTimer *time.Timer
}

// fire advances the call FSM, translating an un-permitted trigger into
// the typed state error callers expect.
func (c *call) fire(op, trigger string) error {
	if err := c.fsm.Fire(trigger); err != nil {
		return &models.InvalidCallStateError{CallID: c.ID, State: c.State, Op: op}
	}
	c.State = c.fsm.MustState().(models.CallState)
	return nil
}

func (c *call) stopRingTimer() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

// CallControl owns the set of in-progress calls and every transition on
// them. External callers get snapshots and ids, never the mutable
// record.
type CallControl struct {
	mu     sync.Mutex
	cfg    Config
	tp     transport.SipTransport
	dir    directory.Directory
	bridge *Bridge
	reg    RegistrationView
	active map[string]*call
	log    zerolog.Logger
}

func NewCallControl(tp transport.SipTransport, dir directory.Directory, bridge *Bridge, cfg Config, log zerolog.Logger) *CallControl {
	return &CallControl{
		cfg:    cfg.withDefaults(),
		tp:     tp,
		dir:    dir,
		bridge: bridge,
		active: make(map[string]*call),
		log:    log.With().Str("component", "callcontrol").Logger(),
	}
}

// BindRegistration attaches the registrar view. Wired once at startup.
func (cc *CallControl) BindRegistration(reg RegistrationView) { cc.reg = reg }

// InitiateCall starts an outbound call and returns its id immediately;
// network progress arrives later through the bridge.
func (cc *CallControl) InitiateCall(ctx context.Context, number string) (string, error) {
	if cc.reg == nil || !cc.reg.IsRegistered() {
		return "", &models.NotRegisteredError{Op: "initiate-call"}
	}
	normalized, err := dialplan.Normalize(number)
	if err != nil {
		return "", err
	}
	profile, ok := cc.reg.ActiveProfile()
	if !ok {
		return "", &models.NotRegisteredError{Op: "initiate-call"}
	}

	cc.mu.Lock()
	limit := cc.limitFor(profile)
	if len(cc.active) >= limit {
		cc.mu.Unlock()
		return "", &models.ConcurrencyLimitError{Limit: limit}
	}

	id := uuid.New().String()
	c := &call{
		Call: models.Call{
			ID:           id,
			Direction:    models.DirectionOutbound,
			RemoteNumber: normalized,
			LocalNumber:  cc.reg.LocalNumber(),
			Provider:     profile.ID,
			State:        models.CallStateConnecting,
			StartTime:    time.Now(),
		},
		fsm: newCallFSM(models.CallStateConnecting),
	}
	cc.active[id] = c
	snapshot := c.Call
	cc.mu.Unlock()

	utils.ActiveCalls.Inc()
	cc.log.Info().Str("call_id", id).Str("number", normalized).Msg("call initiated")
	cc.bridge.Publish(models.Event{Type: models.EventCallInitiated, Call: &snapshot})

	go func() {
		if err := cc.tp.Invite(context.Background(), id, normalized); err != nil {
			cc.log.Error().Err(err).Str("call_id", id).Msg("invite failed")
			cc.ApplyProgress(id, transport.ProgressTerminated, err.Error())
		}
	}()
	return id, nil
}

func (cc *CallControl) limitFor(profile models.ProviderProfile) int {
	if !profile.Features.Has(models.FeatureConcurrentCalls) {
		return 1
	}
	return cc.cfg.MaxConcurrentCalls
}

// AcceptIncoming creates a call for an inbound invite, entering the
// state machine at Ringing. Called by the bridge.
func (cc *CallControl) AcceptIncoming(callID, from, displayName string) {
	if cc.reg == nil || !cc.reg.IsRegistered() {
		cc.log.Warn().Str("call_id", callID).Msg("invite while unregistered, rejecting")
		if err := cc.tp.Terminate(context.Background(), callID); err != nil {
			cc.log.Warn().Err(err).Str("call_id", callID).Msg("failed to reject invite")
		}
		return
	}
	profile, _ := cc.reg.ActiveProfile()

	name := displayName
	if contact, ok := cc.dir.LookupByNumber(from); ok {
		name = contact.Name
	}

	cc.mu.Lock()
	if _, exists := cc.active[callID]; exists {
		cc.mu.Unlock()
		return
	}
	c := &call{
		Call: models.Call{
			ID:           callID,
			Direction:    models.DirectionInbound,
			RemoteNumber: from,
			RemoteName:   name,
			LocalNumber:  cc.reg.LocalNumber(),
			Provider:     profile.ID,
			State:        models.CallStateRinging,
			StartTime:    time.Now(),
		},
		fsm: newCallFSM(models.CallStateRinging),
	}
	// zombie ringing guard
	c.ringTimer = time.AfterFunc(cc.cfg.RingTimeout, func() { cc.ringTimeout(callID) })
	cc.active[callID] = c
	snapshot := c.Call
	cc.mu.Unlock()

	utils.ActiveCalls.Inc()
	cc.log.Info().Str("call_id", callID).Str("from", from).Msg("incoming call")
	cc.bridge.Publish(models.Event{Type: models.EventIncomingCall, Call: &snapshot})
}

// Answer accepts a ringing call.
func (cc *CallControl) Answer(ctx context.Context, callID string) error {
	cc.mu.Lock()
	c, ok := cc.active[callID]
	if !ok {
		cc.mu.Unlock()
		return &models.InvalidCallStateError{CallID: callID, State: models.CallStateEnded, Op: "answer"}
	}
	if err := c.fire("answer", trigAnswer); err != nil {
		cc.mu.Unlock()
		return err
	}
	c.stopRingTimer()
	if c.ConnectTime.IsZero() {
		c.ConnectTime = time.Now()
	}
	snapshot := c.Call
	cc.mu.Unlock()

	if err := cc.tp.Answer(ctx, callID); err != nil {
		cc.log.Error().Err(err).Str("call_id", callID).Msg("transport answer failed")
		if endErr := cc.endCall(callID, models.HistoryFailed, err.Error(), true); endErr != nil {
			cc.log.Warn().Err(endErr).Str("call_id", callID).Msg("failed to finalize call")
		}
		return err
	}

	cc.log.Info().Str("call_id", callID).Msg("call answered")
	cc.bridge.Publish(models.Event{Type: models.EventCallConnected, Call: &snapshot})
	return nil
}

// Hangup ends a call from any non-terminal state. Hanging up an unknown
// or already-ended id is not an error: the transport may have beaten
// the UI to it. The bool reports whether a live call was found.
func (cc *CallControl) Hangup(ctx context.Context, callID string) (bool, error) {
	cc.mu.Lock()
	c, ok := cc.active[callID]
	var connected bool
	var direction models.CallDirection
	if ok {
		connected = !c.ConnectTime.IsZero()
		direction = c.Direction
	}
	cc.mu.Unlock()
	if !ok {
		return false, nil
	}

	status := models.HistoryCompleted
	if !connected {
		if direction == models.DirectionInbound {
			status = models.HistoryMissed
		} else {
			status = models.HistoryCanceled
		}
	}
	return true, cc.endCall(callID, status, "", true)
}

// Decline rejects an inbound ringing call; same mechanics as Hangup but
// recorded with its own history status.
func (cc *CallControl) Decline(ctx context.Context, callID string) error {
	cc.mu.Lock()
	c, ok := cc.active[callID]
	if !ok {
		cc.mu.Unlock()
		return &models.InvalidCallStateError{CallID: callID, State: models.CallStateEnded, Op: "decline"}
	}
	if c.Direction != models.DirectionInbound || c.State != models.CallStateRinging {
		state := c.State
		cc.mu.Unlock()
		return &models.InvalidCallStateError{CallID: callID, State: state, Op: "decline"}
	}
	cc.mu.Unlock()

	return cc.endCall(callID, models.HistoryDeclined, "declined", true)
}

// SendDTMF dispatches digits to a connected call, one at a time with
// the configured inter-digit spacing. Validation is all-or-nothing;
// dispatch is best-effort per digit.
func (cc *CallControl) SendDTMF(ctx context.Context, callID, digits string) error {
	if !dialplan.IsDTMF(digits) {
		return &models.InvalidDigitsError{Digits: digits}
	}

	cc.mu.Lock()
	c, ok := cc.active[callID]
	if !ok {
		cc.mu.Unlock()
		return &models.InvalidCallStateError{CallID: callID, State: models.CallStateEnded, Op: "send-dtmf"}
	}
	if c.State != models.CallStateConnected {
		state := c.State
		cc.mu.Unlock()
		return &models.InvalidCallStateError{CallID: callID, State: state, Op: "send-dtmf"}
	}
	cc.mu.Unlock()

	for i, d := range digits {
		if i > 0 && cc.cfg.DTMFSpacing > 0 {
			time.Sleep(cc.cfg.DTMFSpacing)
		}
		if err := cc.tp.SendInfo(ctx, callID, string(d)); err != nil {
			cc.log.Warn().Err(err).Str("call_id", callID).Str("digit", string(d)).
				Msg("DTMF digit failed, continuing")
			continue
		}
		utils.DTMFDigitsSent.Inc()
	}
	return nil
}

// TerminateAll hangs up every active call, best-effort. Used on
// disconnect.
func (cc *CallControl) TerminateAll(ctx context.Context) {
	cc.mu.Lock()
	ids := make([]string, 0, len(cc.active))
	for id := range cc.active {
		ids = append(ids, id)
	}
	cc.mu.Unlock()

	for _, id := range ids {
		if _, err := cc.Hangup(ctx, id); err != nil {
			cc.log.Warn().Err(err).Str("call_id", id).Msg("failed to terminate call")
		}
	}
}

// ApplyProgress maps a transport call-state callback onto the call FSM.
// Called by the bridge; late events for finished calls are ignored.
func (cc *CallControl) ApplyProgress(callID string, progress transport.Progress, reason string) {
	switch progress {
	case transport.ProgressEstablishing:
		cc.mu.Lock()
		c, ok := cc.active[callID]
		if !ok {
			cc.mu.Unlock()
			return
		}
		if err := c.fire("progress-ringing", trigRing); err != nil {
			cc.mu.Unlock()
			return
		}
		snapshot := c.Call
		cc.mu.Unlock()
		cc.bridge.Publish(models.Event{Type: models.EventCallRinging, Call: &snapshot})

	case transport.ProgressEstablished:
		cc.mu.Lock()
		c, ok := cc.active[callID]
		if !ok {
			cc.mu.Unlock()
			return
		}
		if err := c.fire("progress-connected", trigAnswer); err != nil {
			cc.mu.Unlock()
			return
		}
		c.stopRingTimer()
		if c.ConnectTime.IsZero() {
			c.ConnectTime = time.Now()
		}
		snapshot := c.Call
		cc.mu.Unlock()
		cc.bridge.Publish(models.Event{Type: models.EventCallConnected, Call: &snapshot})

	case transport.ProgressTerminated:
		cc.mu.Lock()
		c, ok := cc.active[callID]
		var connected bool
		var direction models.CallDirection
		if ok {
			connected = !c.ConnectTime.IsZero()
			direction = c.Direction
		}
		cc.mu.Unlock()
		if !ok {
			return
		}
		status := models.HistoryCompleted
		if !connected {
			switch {
			case direction == models.DirectionInbound:
				status = models.HistoryMissed
			case reason != "":
				status = models.HistoryFailed
			default:
				status = models.HistoryCanceled
			}
		}
		// remote already terminated; nothing to signal back
		if err := cc.endCall(callID, status, reason, false); err != nil {
			cc.log.Warn().Err(err).Str("call_id", callID).Msg("failed to finalize call")
		}
	}
}

// ringTimeout fires when an inbound call has rung for too long; the
// call is terminated as if declined and recorded as missed.
func (cc *CallControl) ringTimeout(callID string) {
	cc.mu.Lock()
	c, ok := cc.active[callID]
	if !ok || c.State != models.CallStateRinging {
		cc.mu.Unlock()
		return
	}
	cc.mu.Unlock()

	cc.log.Info().Str("call_id", callID).Msg("ringing timed out")
	if err := cc.endCall(callID, models.HistoryMissed, "ring timeout", true); err != nil {
		cc.log.Warn().Err(err).Str("call_id", callID).Msg("failed to end timed-out call")
	}
}

// endCall finalizes a call: FSM to Ended, end time and duration set,
// record built, call removed from the active set, history appended
// before the UI notification.
func (cc *CallControl) endCall(callID string, status models.HistoryStatus, reason string, signalRemote bool) error {
	cc.mu.Lock()
	c, ok := cc.active[callID]
	if !ok {
		cc.mu.Unlock()
		return nil
	}
	if err := c.fire("hangup", trigEnd); err != nil {
		cc.mu.Unlock()
		return err
	}
	c.stopRingTimer()
	c.EndTime = time.Now()
	duration := 0.0
	if !c.ConnectTime.IsZero() {
		duration = c.EndTime.Sub(c.ConnectTime).Seconds()
	}
	record := models.CallRecord{
		ID:           c.ID,
		Direction:    c.Direction,
		RemoteNumber: c.RemoteNumber,
		RemoteName:   c.RemoteName,
		LocalNumber:  c.LocalNumber,
		Provider:     c.Provider,
		StartTime:    c.StartTime,
		ConnectTime:  c.ConnectTime,
		EndTime:      c.EndTime,
		Duration:     duration,
		Status:       status,
	}
	delete(cc.active, callID)
	cc.mu.Unlock()

	utils.ActiveCalls.Dec()
	utils.CallsTotal.WithLabelValues(string(record.Direction), string(record.Status)).Inc()
	if duration > 0 {
		utils.CallDurationSeconds.Observe(duration)
	}

	if signalRemote {
		if err := cc.tp.Terminate(context.Background(), callID); err != nil {
			cc.log.Warn().Err(err).Str("call_id", callID).Msg("transport terminate failed")
		}
	}

	cc.log.Info().Str("call_id", callID).Str("status", string(status)).
		Float64("duration", duration).Msg("call ended")
	cc.bridge.PublishCallEnded(record, reason)
	return nil
}

// ActiveCalls returns snapshots of every in-progress call.
func (cc *CallControl) ActiveCalls() []models.Call {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	list := make([]models.Call, 0, len(cc.active))
	for _, c := range cc.active {
		list = append(list, c.Call)
	}
	return list
}

// GetCall returns a snapshot of one call.
func (cc *CallControl) GetCall(callID string) (models.Call, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	c, ok := cc.active[callID]
	if !ok {
		return models.Call{}, false
	}
	return c.Call, true
}

func (cc *CallControl) ActiveCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.active)
}
