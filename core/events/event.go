package events

// Event represents a structured state change emitted by the pool engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (RPC, log shippers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Engines default
// to it so emitting is always safe.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder buffers emitted events in order. It backs tests and the daemon's
// recent-events view.
type Recorder struct {
	events []Event
}

// Emit appends the event to the buffer.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.events = append(r.events, evt)
}

// Events returns a copy of the buffered events in emission order.
func (r *Recorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops all buffered events.
func (r *Recorder) Reset() { r.events = nil }
