package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flexphone/internal/history"
	"flexphone/internal/models"
	"flexphone/internal/notify"
	"flexphone/internal/transport"
)

// RegistrarHooks is what the bridge needs from the session registrar to
// react to transport-level failures.
type RegistrarHooks interface {
	OnTransportDown(reason string)
}

// Bridge is the single subscriber between the state machines and the
// outside world. Outbound, it assigns every event a sequence number and
// fans it out to the notification sink, appending to call history
// first on call-ended so a history read triggered by the notification
// always observes the just-ended call. Inbound, it maps transport
// events onto controller and registrar operations.
type Bridge struct {
	mu      sync.Mutex
	seq     uint64
	sink    notify.Sink
	history history.Recorder
	log     zerolog.Logger

	cc  *CallControl
	reg RegistrarHooks
}

func NewBridge(sink notify.Sink, hist history.Recorder, log zerolog.Logger) *Bridge {
	return &Bridge{
		sink:    sink,
		history: hist,
		log:     log.With().Str("component", "bridge").Logger(),
	}
}

// BindController attaches the call controller for inbound dispatch.
func (b *Bridge) BindController(cc *CallControl) { b.cc = cc }

// BindRegistrar attaches the registrar for transport-down handling.
func (b *Bridge) BindRegistrar(reg RegistrarHooks) { b.reg = reg }

// Publish delivers one event to the sink. Emission order matches
// sequence order; a panicking listener is contained here so it cannot
// corrupt state machine invariants.
func (b *Bridge) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(ev)
}

func (b *Bridge) publishLocked(ev models.Event) {
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", string(ev.Type)).
				Msg("notification listener panicked")
		}
	}()
	b.sink.Emit(ev)
}

// PublishCallEnded appends the finalized record to history and only
// then notifies the sink.
func (b *Bridge) PublishCallEnded(record models.CallRecord, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.history.Append(record); err != nil {
		b.log.Error().Err(err).Str("call_id", record.ID).Msg("failed to append call history")
	}
	b.publishLocked(models.Event{
		Type:   models.EventCallEnded,
		Reason: reason,
		Record: &record,
	})
}

// Run consumes the transport event stream until ctx is done. It is the
// only reader of tp.Events().
func (b *Bridge) Run(ctx context.Context, tp transport.SipTransport) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tp.Events():
			if !ok {
				return
			}
			b.dispatch(ev)
		}
	}
}

func (b *Bridge) dispatch(ev transport.Event) {
	switch ev.Kind {
	case transport.EventIncomingInvite:
		if b.cc != nil {
			b.cc.AcceptIncoming(ev.CallID, ev.From, ev.DisplayName)
		}
	case transport.EventCallProgress:
		if b.cc != nil {
			b.cc.ApplyProgress(ev.CallID, ev.Progress, ev.Reason)
		}
	case transport.EventTransportDown:
		b.log.Warn().Str("reason", ev.Reason).Msg("transport down")
		if b.reg != nil {
			b.reg.OnTransportDown(ev.Reason)
		}
	default:
		b.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown transport event")
	}
}
