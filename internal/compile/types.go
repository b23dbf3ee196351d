package compile

import (
	"time"

	"aotc/internal/backend"
	"aotc/internal/unit"
)

// Policy holds the run-level error policies exposed at the CLI boundary.
type Policy struct {
	// IgnoreLoadErrors downgrades member-enumeration failures from fatal
	// to reported-and-skipped.
	IgnoreLoadErrors bool
	// ExitOnError stops admitting new work after the first compile
	// failure and raises it once in-flight units drain.
	ExitOnError bool
}

// CompiledClass aggregates the admitted methods of one class and, after
// the parallel phase, their compiled payloads. Results and Failures are
// index-parallel to Methods; a method lands in exactly one of them.
type CompiledClass struct {
	Class    *unit.Class
	Methods  []*unit.Method
	Results  []*backend.Compiled
	Failures []error
}

// MethodCount returns the number of admitted methods.
func (cc *CompiledClass) MethodCount() int { return len(cc.Methods) }

// Release drops the payload references so the compiler-service state and
// method bodies can be reclaimed once the class has been flushed into the
// container.
func (cc *CompiledClass) Release() {
	cc.Methods = nil
	cc.Results = nil
	cc.Failures = nil
}

// Status captures progress state for one class.
type Status string

const (
	// StatusQueued means no method of the class has started yet.
	StatusQueued Status = "queued"
	// StatusWorking means at least one method is being compiled.
	StatusWorking Status = "working"
	// StatusDone means every method of the class compiled.
	StatusDone Status = "done"
	// StatusError means at least one method of the class failed.
	StatusError Status = "error"
)

// Event reports per-class compilation progress.
type Event struct {
	Class   string
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

func emit(sink ProgressSink, evt Event) {
	if sink == nil {
		return
	}
	sink.OnEvent(evt)
}
