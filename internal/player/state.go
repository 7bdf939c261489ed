package player

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/catalog"
)

// State is a playback state. The machine keeps a desired and a current
// value of it.
type State int32

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText renders the state name for JSON encoders.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventState reports a change of the current state.
	EventState EventKind = iota
	// EventSourceLock is sent with Locked=true while a source is being
	// opened and discovered, and Locked=false once that is over.
	EventSourceLock
	// EventStreams carries the full stream table after discovery or reset.
	EventStreams
	// EventPrograms carries the full program table after discovery or reset.
	EventPrograms
	// EventLevels carries per-channel audio levels in dB.
	EventLevels
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventSourceLock:
		return "source_lock"
	case EventStreams:
		return "streams"
	case EventPrograms:
		return "programs"
	case EventLevels:
		return "levels"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a status notification. Only the fields matching Kind are set.
type Event struct {
	Kind     EventKind                   `json:"kind"`
	State    State                       `json:"state"`
	Locked   bool                        `json:"locked,omitempty"`
	Streams  []catalog.StreamDescriptor  `json:"streams,omitempty"`
	Programs []catalog.ProgramDescriptor `json:"programs,omitempty"`
	Levels   []float64                   `json:"levels,omitempty"`
	At       time.Time                   `json:"at"`
}

// Observer receives events synchronously on the emitting goroutine, which
// may be the playback worker. It must not block or call back into the
// machine's control methods.
type Observer func(Event)

type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
