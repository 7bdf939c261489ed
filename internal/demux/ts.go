package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/mpegts"
)

const (
	tsPacketSize   = 188
	m2tsPacketSize = 192
)

// MPEG-TS stream_type values mapped to codecs.
const (
	streamTypeMPEG1Video = 0x01
	streamTypeMPEG2Video = 0x02
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypePrivate    = 0x06
	streamTypeAAC        = 0x0F
	streamTypeH264       = 0x1B
	streamTypeH265       = 0x24
	streamTypeAC3        = 0x81
	streamTypeEAC3       = 0x87
)

// streamCodec classifies an elementary stream from its PMT entry.
func streamCodec(es *mpegts.ElementaryStream) (media.MediaKind, string) {
	switch es.StreamType {
	case streamTypeH264:
		return media.KindVideo, codec.H264
	case streamTypeH265:
		return media.KindVideo, codec.HEVC
	case streamTypeMPEG1Video, streamTypeMPEG2Video:
		return media.KindVideo, "mpeg2video"
	case streamTypeAAC:
		return media.KindAudio, codec.AAC
	case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
		return media.KindAudio, codec.MP2
	case streamTypeAC3:
		return media.KindAudio, "ac3"
	case streamTypeEAC3:
		return media.KindAudio, "eac3"
	case streamTypePrivate:
		switch {
		case es.HasDescriptor(mpegts.DescriptorTagAC3):
			return media.KindAudio, "ac3"
		case es.HasDescriptor(mpegts.DescriptorTagEAC3):
			return media.KindAudio, "eac3"
		case es.HasDescriptor(mpegts.DescriptorTagSubtitle):
			return media.KindOther, "dvb_subtitle"
		case es.HasDescriptor(mpegts.DescriptorTagTeletext):
			return media.KindOther, "dvb_teletext"
		}
	}
	return media.KindOther, "data"
}

// pauser is a live input that can drop data while playback is paused.
type pauser interface {
	Pause()
	Resume()
}

type tsConfig struct {
	packetSize int
	probeBytes int64
	live       bool
}

// tsContainer exposes a transport stream as a Container. Streams are
// indexed in PMT order across programs, with the PID as stream id.
type tsContainer struct {
	log    *slog.Logger
	dmx    *mpegts.Demuxer
	closer io.Closer
	input  pauser // live sources only
	cfg    tsConfig

	streams  []catalog.StreamDescriptor
	programs []catalog.ProgramDescriptor
	byPID    map[uint16]int

	queue  []*media.Packet
	paused atomic.Bool
	closed atomic.Bool
}

func newTS(r io.Reader, closer io.Closer, cfg tsConfig, log *slog.Logger) (*tsContainer, error) {
	c := &tsContainer{
		log:    log,
		closer: closer,
		cfg:    cfg,
		byPID:  make(map[uint16]int),
	}
	c.dmx = mpegts.NewDemuxer(r, mpegts.WithPacketSize(cfg.packetSize))
	if err := c.probe(); err != nil {
		return nil, err
	}
	return c, nil
}

// probeState tracks discovery until every program announced by the PAT
// has a PMT and every stream has produced a PES, or the byte limit hits.
type probeState struct {
	pat      *mpegts.PAT
	pmts     map[uint16]*mpegts.PMT
	sdt      *mpegts.SDT
	seen     map[uint16]bool
	buffered []*mpegts.Unit
}

func (p *probeState) programsComplete() bool {
	if p.pat == nil {
		return false
	}
	for _, prog := range p.pat.Programs {
		if p.pmts[prog.Number] == nil {
			return false
		}
	}
	return true
}

func (p *probeState) streamsComplete() bool {
	for _, pmt := range p.pmts {
		for _, es := range pmt.Streams {
			if !p.seen[es.PID] {
				return false
			}
		}
	}
	return true
}

func (c *tsContainer) probe() error {
	st := &probeState{
		pmts: make(map[uint16]*mpegts.PMT),
		seen: make(map[uint16]bool),
	}
	for {
		if st.programsComplete() && st.streamsComplete() {
			break
		}
		if c.dmx.BytesRead() >= c.cfg.probeBytes {
			c.log.Debug("probe limit reached", "bytes", c.dmx.BytesRead())
			break
		}
		u, err := c.dmx.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("demux: probing: %w", err)
		}
		switch {
		case u.PAT != nil:
			if st.pat == nil {
				st.pat = u.PAT
			}
		case u.PMT != nil:
			if st.pmts[u.PMT.Program] == nil {
				st.pmts[u.PMT.Program] = u.PMT
			}
		case u.SDT != nil:
			if st.sdt == nil {
				st.sdt = u.SDT
			}
		case u.PES != nil:
			st.seen[u.PID] = true
			st.buffered = append(st.buffered, u)
		}
	}

	c.buildCatalog(st)
	c.dmx.SetPIDFilter(func(pid uint16) bool {
		_, ok := c.byPID[pid]
		return ok
	})
	for _, u := range st.buffered {
		if pkt := c.packet(u); pkt != nil {
			c.queue = append(c.queue, pkt)
		}
	}
	c.log.Info("transport stream probed",
		"programs", len(c.programs), "streams", len(c.streams),
		"buffered", len(c.queue), "bytes", c.dmx.BytesRead())
	return nil
}

func (c *tsContainer) buildCatalog(st *probeState) {
	if st.pat == nil {
		return
	}
	services := make(map[uint16]mpegts.Service)
	if st.sdt != nil {
		for _, s := range st.sdt.Services {
			services[s.ID] = s
		}
	}

	firstPES := make(map[uint16]*mpegts.PES)
	for _, u := range st.buffered {
		if firstPES[u.PID] == nil {
			firstPES[u.PID] = u.PES
		}
	}

	for _, prog := range st.pat.Programs {
		pmt := st.pmts[prog.Number]
		if pmt == nil {
			continue
		}
		pd := catalog.ProgramDescriptor{
			ID:       int(pmt.Program),
			Version:  int(pmt.Version),
			Streams:  []int{},
			Metadata: map[string]string{},
		}
		if svc, ok := services[pmt.Program]; ok {
			if svc.Name != "" {
				pd.Metadata[catalog.MetaServiceName] = svc.Name
			}
			if svc.Provider != "" {
				pd.Metadata[catalog.MetaProvider] = svc.Provider
			}
		}
		for i := range pmt.Streams {
			es := &pmt.Streams[i]
			idx, ok := c.byPID[es.PID]
			if !ok {
				idx = len(c.streams)
				c.byPID[es.PID] = idx
				c.streams = append(c.streams, describeStream(idx, es, firstPES[es.PID]))
			}
			pd.Streams = append(pd.Streams, idx)
		}
		c.programs = append(c.programs, pd)
	}
}

func describeStream(idx int, es *mpegts.ElementaryStream, pes *mpegts.PES) catalog.StreamDescriptor {
	kind, name := streamCodec(es)
	sd := catalog.StreamDescriptor{
		Index:    idx,
		ID:       int(es.PID),
		Kind:     kind,
		TimeBase: media.MPEGTSTimeBase,
		Params:   media.CodecParams{Codec: name},
		Metadata: map[string]string{},
	}
	if lang := strings.TrimSpace(es.Language()); lang != "" {
		sd.Metadata[catalog.MetaLanguage] = lang
	}
	if pes != nil {
		probeParams(&sd.Params, pes.Data)
	}
	return sd
}

// probeParams fills stream parameters from the first payload seen.
func probeParams(p *media.CodecParams, data []byte) {
	switch p.Codec {
	case codec.H264:
		for _, nal := range codec.SplitH264(data) {
			if nal.Type != codec.NALTypeSPS {
				continue
			}
			sps, err := codec.ParseSPS(nal.Data)
			if err != nil {
				return
			}
			p.Width, p.Height = sps.Width, sps.Height
			p.Extradata = append([]byte{0, 0, 0, 1}, nal.Data...)
			return
		}
	case codec.AAC:
		if frames, err := codec.ParseADTS(data); err == nil && len(frames) > 0 {
			p.SampleRate, p.Channels = frames[0].SampleRate, frames[0].Channels
		}
	case codec.MP2:
		if h, err := codec.ParseMPEGAudioHeader(data); err == nil {
			p.SampleRate, p.Channels = h.SampleRate, h.Channels
			if h.Layer == 3 {
				p.Codec = codec.MP3
			}
		}
	}
}

// packet converts a PES unit to a packet, or nil for PIDs outside the
// catalog.
func (c *tsContainer) packet(u *mpegts.Unit) *media.Packet {
	idx, ok := c.byPID[u.PID]
	if !ok {
		return nil
	}
	return &media.Packet{
		StreamIndex: idx,
		Keyframe:    u.RandomAccess,
		Data:        u.PES.Data,
		PTS:         u.PES.PTS,
		HasPTS:      u.PES.HasPTS,
		DTS:         u.PES.DTS,
		HasDTS:      u.PES.HasDTS,
	}
}

func (c *tsContainer) Streams() []catalog.StreamDescriptor   { return c.streams }
func (c *tsContainer) Programs() []catalog.ProgramDescriptor { return c.programs }

func (c *tsContainer) ReadPacket() (*media.Packet, error) {
	if len(c.queue) > 0 {
		pkt := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		return pkt, nil
	}
	for {
		u, err := c.dmx.Next()
		if err != nil {
			return nil, err
		}
		if u.PES == nil {
			continue
		}
		if pkt := c.packet(u); pkt != nil {
			return pkt, nil
		}
	}
}

// Pause makes a live input discard what arrives until Resume. Files need
// nothing; reading simply stops.
func (c *tsContainer) Pause() {
	if c.paused.CompareAndSwap(false, true) && c.input != nil {
		c.input.Pause()
		c.log.Debug("paused live source")
	}
}

// Resume drops live data buffered before the pause, including packets
// queued during probing.
func (c *tsContainer) Resume() {
	if c.paused.CompareAndSwap(true, false) && c.input != nil {
		c.input.Resume()
		dropped := len(c.queue)
		clear(c.queue)
		c.queue = nil
		c.log.Debug("resumed live source", "dropped_packets", dropped)
	}
}

func (c *tsContainer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
