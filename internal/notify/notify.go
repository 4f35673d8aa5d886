package notify

import (
	"sync"

	"github.com/rs/zerolog"

	"flexphone/internal/models"
)

// Sink receives ordered notifications for the UI layer. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Sink interface {
	Emit(ev models.Event)
}

// LogSink writes every event to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "notify").Logger()}
}

func (s *LogSink) Emit(ev models.Event) {
	e := s.log.Info().Uint64("seq", ev.Seq).Str("event", string(ev.Type))
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.Call != nil {
		e = e.Str("call_id", ev.Call.ID).Str("state", string(ev.Call.State))
	}
	e.Msg("event")
}

// BufferSink keeps the most recent events in a bounded ring so a
// polling UI can catch up by sequence number.
type BufferSink struct {
	mu     sync.RWMutex
	events []models.Event
	max    int
}

func NewBufferSink(max int) *BufferSink {
	if max <= 0 {
		max = 256
	}
	return &BufferSink{max: max}
}

func (s *BufferSink) Emit(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
}

// Since returns events with Seq greater than after, oldest first.
func (s *BufferSink) Since(after uint64) []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev models.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
