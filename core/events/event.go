package events

import "floorlend/core/types"

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the API journal).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Payload adapts a typed attribute event to the Event interface.
type Payload struct {
	Evt *types.Event
}

// Wrap returns the Event form of evt.
func Wrap(evt *types.Event) Payload { return Payload{Evt: evt} }

func (p Payload) EventType() string {
	if p.Evt == nil {
		return ""
	}
	return p.Evt.Type
}

// Event returns the underlying attribute payload.
func (p Payload) Event() *types.Event { return p.Evt }

// Recorder buffers events until the surrounding operation commits. Events of
// a rolled back operation are discarded with Reset.
type Recorder struct {
	pending []Event
}

func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.pending = append(r.pending, evt)
}

// Drain returns the buffered events and clears the buffer.
func (r *Recorder) Drain() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Reset drops all buffered events.
func (r *Recorder) Reset() { r.pending = nil }

// Fanout forwards each event to every non-nil emitter.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
