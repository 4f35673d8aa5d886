package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"flexphone/internal/models"
	"flexphone/internal/notify"
	"flexphone/internal/transport"
)

// orderProbe records the interleaving of history appends and sink
// emissions so tests can assert which side observed a record first.
type orderProbe struct {
	mu  sync.Mutex
	log []string
}

func (p *orderProbe) Append(record models.CallRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, "history:"+record.ID)
	return nil
}

func (p *orderProbe) List(limit int) ([]models.CallRecord, error) { return nil, nil }
func (p *orderProbe) Count() int                                  { return 0 }

func (p *orderProbe) Emit(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, "emit:"+string(ev.Type))
}

func TestCallEndedAppendsHistoryBeforeNotifying(t *testing.T) {
	probe := &orderProbe{}
	b := NewBridge(probe, probe, zerolog.Nop())

	b.PublishCallEnded(models.CallRecord{ID: "c-1", Status: models.HistoryCompleted}, "")

	want := []string{"history:c-1", "emit:call-ended"}
	if diff := cmp.Diff(want, probe.log); diff != "" {
		t.Fatalf("ordering mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	sink := notify.NewBufferSink(16)
	b := NewBridge(sink, &orderProbe{}, zerolog.Nop())

	b.Publish(models.Event{Type: models.EventRegistered})
	b.Publish(models.Event{Type: models.EventCallInitiated})
	b.PublishCallEnded(models.CallRecord{ID: "c-2"}, "hangup")

	events := sink.Since(0)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		if ev.Time.IsZero() {
			t.Fatalf("event %d has no timestamp", i)
		}
	}
	if events[2].Reason != "hangup" {
		t.Fatalf("reason = %q, want hangup", events[2].Reason)
	}
}

type panickySink struct{ calls int }

func (s *panickySink) Emit(ev models.Event) {
	s.calls++
	panic("listener bug")
}

func TestPublishContainsListenerPanic(t *testing.T) {
	sink := &panickySink{}
	b := NewBridge(sink, &orderProbe{}, zerolog.Nop())

	b.Publish(models.Event{Type: models.EventRegistered})
	b.Publish(models.Event{Type: models.EventDisconnected})

	if sink.calls != 2 {
		t.Fatalf("sink calls = %d, want 2 (a panic must not stop later events)", sink.calls)
	}
}

type downRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (d *downRecorder) OnTransportDown(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func (d *downRecorder) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.reasons...)
}

func TestRunDispatchesTransportEvents(t *testing.T) {
	f := newFixture(t, Config{})
	down := &downRecorder{}

	b := NewBridge(f.sink, f.hist, zerolog.Nop())
	b.BindController(f.cc)
	b.BindRegistrar(down)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, f.tp)
		close(done)
	}()

	f.tp.EmitIncomingInvite("in-run", "5550123", "Caller")
	waitFor(t, func() bool { return f.cc.ActiveCount() == 1 })

	f.tp.EmitProgress("in-run", transport.ProgressTerminated, "")
	waitFor(t, func() bool { return f.cc.ActiveCount() == 0 })

	f.tp.EmitTransportDown("socket closed")
	waitFor(t, func() bool { return len(down.seen()) == 1 })
	if got := down.seen()[0]; got != "socket closed" {
		t.Fatalf("transport-down reason = %q", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
