package ingest

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInterrupted is returned by Reader.Read when the interrupt predicate
// fires before data arrives.
var ErrInterrupted = errors.New("ingest: read interrupted")

// DefaultPollInterval is how often a blocked Read re-evaluates the
// interrupt predicate.
const DefaultPollInterval = 50 * time.Millisecond

const readChunkSize = 188 * 7 * 16

type chunk struct {
	data []byte
	err  error
	gen  uint64
}

// Reader wraps a blocking source so that a pending Read can be abandoned.
// A pump goroutine reads from the source; Read waits for its chunks while
// polling the interrupt predicate.
//
// While paused the pump keeps draining the source and drops what it
// reads. Resume also drops everything buffered before the pause, so the
// next Read returns live data.
type Reader struct {
	src       io.Reader
	interrupt func() bool
	poll      time.Duration

	startOnce sync.Once
	chunks    chan chunk
	stop      chan struct{}
	stopOnce  sync.Once
	paused    atomic.Bool
	gen       atomic.Uint64 // bumped by Resume

	pending []byte
	err     error
}

// NewReader returns a Reader over src. A nil interrupt never fires.
func NewReader(src io.Reader, interrupt func() bool) *Reader {
	if interrupt == nil {
		interrupt = func() bool { return false }
	}
	return &Reader{
		src:       src,
		interrupt: interrupt,
		poll:      DefaultPollInterval,
		chunks:    make(chan chunk, 4),
		stop:      make(chan struct{}),
	}
}

// SetPollInterval changes how often a blocked Read checks the predicate.
// It must be called before the first Read.
func (r *Reader) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.poll = d
	}
}

func (r *Reader) pump() {
	defer close(r.chunks)
	for {
		buf := make([]byte, readChunkSize)
		gen := r.gen.Load()
		n, err := r.src.Read(buf)
		if n > 0 && !r.paused.Load() {
			select {
			case r.chunks <- chunk{data: buf[:n], gen: gen}:
			case <-r.stop:
				return
			}
		}
		if err != nil {
			select {
			case r.chunks <- chunk{err: err}:
			case <-r.stop:
			}
			return
		}
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.interrupt() {
		return 0, ErrInterrupted
	}
	r.startOnce.Do(func() { go r.pump() })

	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case c, ok := <-r.chunks:
			if !ok {
				r.err = io.EOF
				return 0, r.err
			}
			if c.err != nil {
				r.err = c.err
				return 0, c.err
			}
			if c.gen != r.gen.Load() {
				continue
			}
			n := copy(p, c.data)
			r.pending = c.data[n:]
			return n, nil
		case <-t.C:
			if r.interrupt() {
				return 0, ErrInterrupted
			}
		}
	}
}

// Pause makes the pump discard input until Resume.
func (r *Reader) Pause() {
	r.paused.Store(true)
}

// Resume drops input read before and during the pause and lets new input
// through. It must not be called concurrently with Read.
func (r *Reader) Resume() {
	r.gen.Add(1)
	r.pending = nil
	r.paused.Store(false)
}

// Close stops the pump and closes the source when it is an io.Closer.
func (r *Reader) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
