package am

import (
	"fmt"
	"runtime"
	"time"
)

// Speed selects how many parse/hash workers a scan runs.
type Speed string

const (
	// SpeedMaximum uses every CPU.
	SpeedMaximum Speed = "maximum"
	// SpeedNormal uses half the CPUs, rounded up.
	SpeedNormal Speed = "normal"
	// SpeedBackground uses a single worker.
	SpeedBackground Speed = "background"
)

// ParseSpeed converts a config or flag value into a Speed. Empty means normal.
func ParseSpeed(s string) (Speed, error) {
	switch Speed(s) {
	case "":
		return SpeedNormal, nil
	case SpeedMaximum, SpeedNormal, SpeedBackground:
		return Speed(s), nil
	default:
		return "", fmt.Errorf("unknown scan speed: %q", s)
	}
}

// Workers returns the worker count for this speed on the current machine.
func (s Speed) Workers() int {
	return s.workersFor(runtime.NumCPU())
}

func (s Speed) workersFor(cpus int) int {
	switch s {
	case SpeedMaximum:
		return cpus
	case SpeedBackground:
		return 1
	default:
		return (cpus + 1) / 2
	}
}

func (s Speed) String() string {
	return fmt.Sprintf("%s (%d workers)", string(s), s.Workers())
}

// Event is emitted by a Scanner. Exactly one of AbortedEvent or
// CompletedEvent ends every scan.
type Event interface {
	isEvent()
}

// StartedEvent is emitted when a scan begins.
type StartedEvent struct {
	SessionID string
	Speed     Speed
}

// ProgressEvent is emitted after each processed file.
type ProgressEvent struct {
	Scanned int
	Total   int
}

// AbortedEvent ends a scan that was cancelled or hit a fatal error.
type AbortedEvent struct {
	Reason   *string
	TimedOut bool // the abort gave up waiting for in-flight work to drain
}

// CompletedEvent ends a scan that processed every file.
type CompletedEvent struct {
	Elapsed time.Duration
	Total   int
	Added   int
	Updated int
	Failed  int
}

func (StartedEvent) isEvent()   {}
func (ProgressEvent) isEvent()  {}
func (AbortedEvent) isEvent()   {}
func (CompletedEvent) isEvent() {}

// EventSink receives scan events. Emit is called from scan goroutines and
// must not block for long.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }
