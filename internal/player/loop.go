package player

import (
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/decoder"
	"github.com/zsiec/reel/internal/media"
)

// run is the worker goroutine of one session.
func (m *Machine) run(s *session) {
	defer close(s.done)
	log := m.log.With("uri", s.src.URI)
	m.publish(Playing)
	log.Info("playback started")

	n := m.loop(s, log)

	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	s.release()
	m.clearSelection()
	m.publishCatalog(&catalog.Catalog{})

	m.mu.Lock()
	s.exited = true
	m.desired.Store(int32(Stopped))
	m.mu.Unlock()
	m.publish(Stopped)
	log.Info("playback stopped", "packets", n)
}

// loop reads and dispatches packets until a stop is requested or the
// source ends. It returns the number of packets read.
func (m *Machine) loop(s *session, log *slog.Logger) int {
	var n int
	for {
		switch State(m.desired.Load()) {
		case Paused:
			if !m.waitWhilePaused(s) {
				return n
			}
		case Stopped:
			return n
		}

		s.lastRead.Store(m.now().UnixNano())
		pkt, err := s.container.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("end of stream")
			case s.cancelled():
				log.Info("read interrupted", "error", err)
			default:
				log.Warn("read failed", "error", err)
			}
			return n
		}
		n++
		m.metrics.PacketRead()
		m.dispatch(s, pkt)
	}
}

// waitWhilePaused parks the worker until desired leaves Paused. It returns
// false when the session should end.
func (m *Machine) waitWhilePaused(s *session) bool {
	s.container.Pause()
	m.publish(Paused)

	m.mu.Lock()
	for State(m.desired.Load()) == Paused {
		m.desiredChanged.Wait()
	}
	st := State(m.desired.Load())
	m.mu.Unlock()
	if st == Stopped {
		return false
	}

	s.container.Resume()
	s.clock.Reset()
	m.publish(Playing)
	return true
}

// dispatch routes pkt to the decoder of the active stream it belongs to.
// Video is always paced; audio only when no video stream is active.
func (m *Machine) dispatch(s *session, pkt *media.Packet) {
	video := int(m.activeVideo.Load())
	audio := int(m.activeAudio.Load())

	var dec *decoder.Decoder
	switch {
	case video != catalog.None && pkt.StreamIndex == video:
		m.pace(s, pkt)
		dec = s.video
	case audio != catalog.None && pkt.StreamIndex == audio:
		if video == catalog.None {
			m.pace(s, pkt)
		}
		dec = s.audio
	default:
		return
	}
	m.metrics.PacketDispatched(dec.Kind())
	if err := dec.Decode(pkt); err != nil {
		m.metrics.DecodeError(dec.Kind())
	}
}

// pace sleeps until pkt is due. Packets without timestamps go through
// immediately.
func (m *Machine) pace(s *session, pkt *media.Packet) {
	ts, ok := pkt.DecodeTS()
	if !ok {
		return
	}
	sd, ok := s.catalog.Stream(pkt.StreamIndex)
	if !ok || !sd.TimeBase.Valid() {
		return
	}
	d := s.clock.Delay(sd.TimeBase.Rescale(ts, media.MicrosecondBase))
	if d <= 0 {
		return
	}
	m.metrics.PacingSleep(d)
	m.sleep(d, s.stopCh)
}
