// Package ingest provides the network byte sources behind live playback:
// a registry of active sources with per-source counters, a UDP
// (multicast-aware) listener and an interruptible reader.
package ingest

import (
	"cmp"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of one source, as served by the control
// API.
type Stats struct {
	Key      string    `json:"key"`
	URI      string    `json:"uri"`
	Peer     string    `json:"peer,omitempty"`
	Bytes    int64     `json:"bytes"`
	Reads    int64     `json:"reads"`
	Since    time.Time `json:"since"`
	UptimeMs int64     `json:"uptimeMs"`
}

// Source is one live network input. A receiver goroutine writes datagrams
// or socket reads into the writer returned by Register; the demuxer reads
// them back through Read.
type Source struct {
	Key   string
	URI   string
	Since time.Time

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once

	// onClose removes the source from its registry.
	onClose func()

	bytes atomic.Int64
	reads atomic.Int64
	peer  atomic.Pointer[string]
}

func (s *Source) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close ends the source. Blocked and later receiver writes fail with
// io.ErrClosedPipe. Close is idempotent.
func (s *Source) Close() error {
	s.once.Do(func() {
		s.pr.CloseWithError(io.ErrClosedPipe)
		s.pw.Close()
		s.onClose()
		close(s.done)
	})
	return nil
}

// Done is closed when the source is closed or replaced.
func (s *Source) Done() <-chan struct{} { return s.done }

// Received accounts for one successful socket read of n bytes.
func (s *Source) Received(n int) {
	s.bytes.Add(int64(n))
	s.reads.Add(1)
}

// SetPeer records the remote address the source is receiving from. Only
// the first call takes effect.
func (s *Source) SetPeer(addr string) {
	s.peer.CompareAndSwap(nil, &addr)
}

func (s *Source) Stats() Stats {
	st := Stats{
		Key:      s.Key,
		URI:      s.URI,
		Bytes:    s.bytes.Load(),
		Reads:    s.reads.Load(),
		Since:    s.Since,
		UptimeMs: time.Since(s.Since).Milliseconds(),
	}
	if p := s.peer.Load(); p != nil {
		st.Peer = *p
	}
	return st
}

// Registry holds the active sources by key. Keys are unique: registering
// a key again closes the source it replaces.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register adds a source under key and returns it along with the writer
// its receiver feeds.
func (r *Registry) Register(key, uri string) (*Source, io.Writer) {
	pr, pw := io.Pipe()
	src := &Source{
		Key:   key,
		URI:   uri,
		Since: time.Now(),
		pr:    pr,
		pw:    pw,
		done:  make(chan struct{}),
	}
	src.onClose = func() { r.drop(src) }

	r.mu.Lock()
	prev := r.sources[key]
	r.sources[key] = src
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return src, pw
}

// drop removes src unless a newer source has taken its key.
func (r *Registry) drop(src *Source) {
	r.mu.Lock()
	if r.sources[src.Key] == src {
		delete(r.sources, src.Key)
	}
	r.mu.Unlock()
}

// Unregister closes the source registered under key, if any.
func (r *Registry) Unregister(key string) {
	if src, ok := r.Get(key); ok {
		src.Close()
	}
}

func (r *Registry) Get(key string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[key]
	return src, ok
}

// List returns the stats of every active source ordered by key.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src.Stats())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Stats) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// TotalBytes sums the bytes received by every active source.
func (r *Registry) TotalBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, src := range r.sources {
		n += src.bytes.Load()
	}
	return n
}
