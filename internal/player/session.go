package player

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/decoder"
	"github.com/zsiec/reel/internal/media"
)

// session is one opened source. Its catalog is fixed once built. The
// container, decoders and clock belong to the worker while it runs;
// control methods touch them only before it starts, or while it is
// paused and holding off its exit through mu.
type session struct {
	m         *Machine
	src       catalog.Source
	container Container
	catalog   catalog.Catalog
	video     *decoder.Decoder
	audio     *decoder.Decoder
	clock     *Clock

	started bool // guarded by Machine.ctrl
	exited  bool // guarded by Machine.mu

	mu     sync.Mutex
	ending bool // guarded by mu, set before the worker releases anything

	lastRead  atomic.Int64 // unix nanos, reset before every read
	stopCh    chan struct{}
	stopOnce  sync.Once
	timedOut  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (m *Machine) newSession(src catalog.Source) *session {
	s := &session{
		m:      m,
		src:    src,
		clock:  NewClock(m.now, m.cfg.MaxPacingGap),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.video = decoder.New(media.KindVideo, &countingOutput{
		out:     &decoder.VideoOutput{Chain: m.cfg.Filters, Sink: m.cfg.VideoSink, Captions: m.cfg.CaptionSink},
		kind:    media.KindVideo,
		metrics: m.metrics,
	}, m.cfg.Codecs, m.log)
	s.audio = decoder.New(media.KindAudio, &countingOutput{
		out:     &decoder.AudioOutput{Meter: m.meter, Sink: m.cfg.AudioSink},
		kind:    media.KindAudio,
		metrics: m.metrics,
	}, m.cfg.Codecs, m.log)
	return s
}

func (s *session) decoder(kind media.MediaKind) *decoder.Decoder {
	if kind == media.KindVideo {
		return s.video
	}
	return s.audio
}

// cancel unblocks reads and pacing sleeps.
func (s *session) cancel() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *session) cancelled() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// finished reports whether the worker has exited.
func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// interrupt is polled by the container during blocking reads. It fires
// once a stop was requested, or when no read has completed within the
// read timeout, in which case it requests the stop itself.
func (s *session) interrupt() bool {
	if s.cancelled() {
		return true
	}
	timeout := s.m.ReadTimeout()
	if timeout <= 0 {
		return false
	}
	idle := s.m.now().Sub(time.Unix(0, s.lastRead.Load()))
	if idle <= timeout {
		return false
	}
	if s.timedOut.CompareAndSwap(false, true) {
		s.m.log.Warn("read timed out, stopping", "uri", s.src.URI, "idle", idle, "timeout", timeout)
		s.m.metrics.ReadTimeout()
		s.m.requestStop(s)
	}
	return true
}

// release closes the decoders and the container.
func (s *session) release() {
	s.closeOnce.Do(func() {
		s.video.Close()
		s.audio.Close()
		if s.container == nil {
			return
		}
		s.container.Pause()
		if err := s.container.Close(); err != nil {
			s.m.log.Debug("container close", "error", err)
		}
	})
}

// countingOutput reports every delivered frame to the metrics.
type countingOutput struct {
	out     decoder.Output
	kind    media.MediaKind
	metrics Metrics
}

func (o *countingOutput) WriteFrame(f codec.Frame) error {
	o.metrics.FrameEmitted(o.kind)
	return o.out.WriteFrame(f)
}
