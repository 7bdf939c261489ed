package catalog

import "sync"

// Observer receives catalog snapshots after every discovery and reset.
type Observer interface {
	StreamsChanged(streams []StreamDescriptor)
	ProgramsChanged(programs []ProgramDescriptor)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Streams  func([]StreamDescriptor)
	Programs func([]ProgramDescriptor)
}

func (o ObserverFuncs) StreamsChanged(s []StreamDescriptor) {
	if o.Streams != nil {
		o.Streams(s)
	}
}

func (o ObserverFuncs) ProgramsChanged(p []ProgramDescriptor) {
	if o.Programs != nil {
		o.Programs(p)
	}
}

// Notifier fans snapshots out to registered observers. Each observer gets
// its own copy.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]Observer
}

// Subscribe registers o and returns a function that removes it.
func (n *Notifier) Subscribe(o Observer) (unsubscribe func()) {
	n.mu.Lock()
	if n.observers == nil {
		n.observers = make(map[int]Observer)
	}
	id := n.nextID
	n.nextID++
	n.observers[id] = o
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.observers, id)
		n.mu.Unlock()
	}
}

// Publish sends the streams then the programs of c to every observer.
func (n *Notifier) Publish(c *Catalog) {
	n.mu.RLock()
	obs := make([]Observer, 0, len(n.observers))
	for _, o := range n.observers {
		obs = append(obs, o)
	}
	n.mu.RUnlock()
	for _, o := range obs {
		s := c.Snapshot()
		o.StreamsChanged(s.Streams)
		o.ProgramsChanged(s.Programs)
	}
}
