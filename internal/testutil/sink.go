package testutil

import (
	"sync"

	"am-go/internal/am"
)

// RecordingSink collects scan events in order. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []am.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Emit(e am.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of every event received so far.
func (s *RecordingSink) Events() []am.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]am.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Aborted returns the AbortedEvents received.
func (s *RecordingSink) Aborted() []am.AbortedEvent {
	var out []am.AbortedEvent
	for _, e := range s.Events() {
		if a, ok := e.(am.AbortedEvent); ok {
			out = append(out, a)
		}
	}
	return out
}

// Completed returns the CompletedEvents received.
func (s *RecordingSink) Completed() []am.CompletedEvent {
	var out []am.CompletedEvent
	for _, e := range s.Events() {
		if c, ok := e.(am.CompletedEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

// Progress returns the ProgressEvents received.
func (s *RecordingSink) Progress() []am.ProgressEvent {
	var out []am.ProgressEvent
	for _, e := range s.Events() {
		if p, ok := e.(am.ProgressEvent); ok {
			out = append(out, p)
		}
	}
	return out
}

var _ am.EventSink = (*RecordingSink)(nil)
