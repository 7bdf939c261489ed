// Package codec turns compressed packets into frames behind a
// send-packet/receive-frame interface. Backends are looked up by codec name
// in a Registry.
//
// PCM variants are decoded to samples. H.264, HEVC, AAC and MPEG audio are
// parsed into access units and frames carrying their stream parameters
// (and, for H.264, closed captions) but are not decoded to pixels or
// samples.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

var (
	// ErrAgain means the codec needs another packet before it can emit a
	// frame. It is not a failure.
	ErrAgain = errors.New("codec: need more input")
	// ErrEOF means the codec has been drained and will emit no more frames.
	ErrEOF = errors.New("codec: end of stream")
	// ErrNotFound is returned by Registry.New for unknown codec names.
	ErrNotFound = errors.New("codec: not found")
)

// Frame is one decoded unit. Exactly one field is non-nil.
type Frame struct {
	Video *media.VideoFrame
	Audio *media.AudioFrame
}

// Codec is one codec context.
type Codec interface {
	// Configure prepares the context for a stream. It must be called once
	// before the first SendPacket.
	Configure(params media.CodecParams, timeBase media.Rational) error
	// SendPacket submits one packet. A nil packet starts draining.
	SendPacket(pkt *media.Packet) error
	// ReceiveFrame returns the next pending frame, ErrAgain when input is
	// needed, or ErrEOF once drained.
	ReceiveFrame() (Frame, error)
	Close() error
}

// Factory creates an unconfigured codec context.
type Factory func() Codec

// Registry maps codec names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name := range pcmLayouts {
		r.Register(name, newPCM(name))
	}
	r.Register(H264, func() Codec { return NewH264() })
	r.Register(HEVC, func() Codec { return NewHEVC() })
	r.Register(AAC, func() Codec { return &adtsCodec{} })
	r.Register(MP2, func() Codec { return &mpegAudioCodec{name: MP2} })
	r.Register(MP3, func() Codec { return &mpegAudioCodec{name: MP3} })
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New creates a codec context for name.
func (r *Registry) New(name string) (Codec, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return f(), nil
}

// Names returns the registered codec names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// frameQueue implements the receive side shared by every backend.
type frameQueue struct {
	pending  []Frame
	draining bool
}

func (q *frameQueue) push(f Frame) {
	q.pending = append(q.pending, f)
}

func (q *frameQueue) ReceiveFrame() (Frame, error) {
	if len(q.pending) == 0 {
		if q.draining {
			return Frame{}, ErrEOF
		}
		return Frame{}, ErrAgain
	}
	f := q.pending[0]
	q.pending[0] = Frame{}
	q.pending = q.pending[1:]
	return f, nil
}

func (q *frameQueue) reset() {
	q.pending = nil
	q.draining = false
}
