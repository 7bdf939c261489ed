package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/media"
)

var errInterrupted = errors.New("fake: interrupted")

const (
	fakeVideoCodec = "fake-video"
	fakeAudioCodec = "fake-audio"
)

func videoStream(idx, id int) catalog.StreamDescriptor {
	return catalog.StreamDescriptor{
		Index:    idx,
		ID:       id,
		Kind:     media.KindVideo,
		TimeBase: media.MPEGTSTimeBase,
		Params:   media.CodecParams{Codec: fakeVideoCodec},
	}
}

func audioStream(idx, id int) catalog.StreamDescriptor {
	return catalog.StreamDescriptor{
		Index:    idx,
		ID:       id,
		Kind:     media.KindAudio,
		TimeBase: media.MPEGTSTimeBase,
		Params:   media.CodecParams{Codec: fakeAudioCodec, SampleRate: 48000, Channels: 2},
	}
}

func pkt(stream int, pts int64) *media.Packet {
	return &media.Packet{StreamIndex: stream, PTS: pts, HasPTS: true, Data: []byte{0}}
}

// fakeContainer serves a fixed packet list, then either ends or, when
// live, keeps producing packets from gen (or blocks when gen is nil)
// until interrupted.
type fakeContainer struct {
	streams  []catalog.StreamDescriptor
	programs []catalog.ProgramDescriptor
	packets  []*media.Packet
	live     bool
	gen      func(i int) *media.Packet

	interrupt func() bool

	mu      sync.Mutex
	reads   int
	pauses  int
	resumes int
	closed  bool
}

func (c *fakeContainer) Streams() []catalog.StreamDescriptor   { return c.streams }
func (c *fakeContainer) Programs() []catalog.ProgramDescriptor { return c.programs }

func (c *fakeContainer) ReadPacket() (*media.Packet, error) {
	c.mu.Lock()
	i := c.reads
	c.reads++
	c.mu.Unlock()

	if c.interrupt() {
		return nil, errInterrupted
	}
	if i < len(c.packets) {
		p := *c.packets[i]
		return &p, nil
	}
	if !c.live {
		return nil, io.EOF
	}
	if c.gen != nil {
		time.Sleep(time.Millisecond)
		return c.gen(i), nil
	}
	for !c.interrupt() {
		time.Sleep(time.Millisecond)
	}
	return nil, errInterrupted
}

func (c *fakeContainer) Pause() {
	c.mu.Lock()
	c.pauses++
	c.mu.Unlock()
}

func (c *fakeContainer) Resume() {
	c.mu.Lock()
	c.resumes++
	c.mu.Unlock()
}

func (c *fakeContainer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeContainer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeOpener hands out containers built by next, or fails with err.
type fakeOpener struct {
	mu    sync.Mutex
	next  func() *fakeContainer
	err   error
	opens int
	last  *fakeContainer
}

func (o *fakeOpener) Open(_ context.Context, _ catalog.Source, interrupt func() bool) (Container, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	c := o.next()
	c.interrupt = interrupt
	o.last = c
	return c, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// codecStats records what one codec instance was asked to do.
type codecStats struct {
	name       string
	sends      []int // stream index per packet
	sendTimes  []time.Time
	closed     bool
	afterClose int
}

type codecRecorder struct {
	mu        sync.Mutex
	failSend  bool
	instances []*codecStats
}

func (r *codecRecorder) registry() *codec.Registry {
	reg := codec.NewRegistry()
	reg.Register(fakeVideoCodec, func() codec.Codec { return r.newCodec(media.KindVideo) })
	reg.Register(fakeAudioCodec, func() codec.Codec { return r.newCodec(media.KindAudio) })
	return reg
}

func (r *codecRecorder) newCodec(kind media.MediaKind) codec.Codec {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &codecStats{name: kind.String()}
	r.instances = append(r.instances, st)
	return &fakeCodec{rec: r, stats: st, kind: kind}
}

// snapshot copies the stats of every instance created so far.
func (r *codecRecorder) snapshot() []codecStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]codecStats, len(r.instances))
	for i, st := range r.instances {
		out[i] = *st
		out[i].sends = append([]int(nil), st.sends...)
		out[i].sendTimes = append([]time.Time(nil), st.sendTimes...)
	}
	return out
}

func (r *codecRecorder) totalSends() int {
	n := 0
	for _, st := range r.snapshot() {
		n += len(st.sends)
	}
	return n
}

type fakeCodec struct {
	rec     *codecRecorder
	stats   *codecStats
	kind    media.MediaKind
	params  media.CodecParams
	pending []codec.Frame
}

func (c *fakeCodec) Configure(p media.CodecParams, _ media.Rational) error {
	c.params = p
	return nil
}

func (c *fakeCodec) SendPacket(p *media.Packet) error {
	c.rec.mu.Lock()
	c.stats.sends = append(c.stats.sends, p.StreamIndex)
	c.stats.sendTimes = append(c.stats.sendTimes, time.Now())
	if c.stats.closed {
		c.stats.afterClose++
	}
	fail := c.rec.failSend
	c.rec.mu.Unlock()
	if fail {
		return errors.New("fake: corrupt packet")
	}
	if c.kind == media.KindVideo {
		c.pending = append(c.pending, codec.Frame{Video: &media.VideoFrame{PTS: p.PTS, Format: media.PixelFormatAnnexB, Planes: [][]byte{p.Data}}})
		return nil
	}
	samples := c.params.SampleRate / 10
	c.pending = append(c.pending, codec.Frame{Audio: &media.AudioFrame{
		PTS:        p.PTS,
		Format:     media.SampleFormatS16,
		SampleRate: c.params.SampleRate,
		Channels:   c.params.Channels,
		Samples:    samples,
		Data:       [][]byte{make([]byte, samples*c.params.Channels*2)},
	}})
	return nil
}

func (c *fakeCodec) ReceiveFrame() (codec.Frame, error) {
	if len(c.pending) == 0 {
		return codec.Frame{}, codec.ErrAgain
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *fakeCodec) Close() error {
	c.rec.mu.Lock()
	c.stats.closed = true
	c.rec.mu.Unlock()
	return nil
}

// fakeMetrics counts the calls the machine makes.
type fakeMetrics struct {
	mu           sync.Mutex
	read         int
	dispatched   map[media.MediaKind]int
	decodeErrors map[media.MediaKind]int
	frames       map[media.MediaKind]int
	timeouts     int
	sleeps       []time.Duration
	states       []State
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		dispatched:   make(map[media.MediaKind]int),
		decodeErrors: make(map[media.MediaKind]int),
		frames:       make(map[media.MediaKind]int),
	}
}

func (f *fakeMetrics) PacketRead() {
	f.mu.Lock()
	f.read++
	f.mu.Unlock()
}

func (f *fakeMetrics) PacketDispatched(k media.MediaKind) {
	f.mu.Lock()
	f.dispatched[k]++
	f.mu.Unlock()
}

func (f *fakeMetrics) DecodeError(k media.MediaKind) {
	f.mu.Lock()
	f.decodeErrors[k]++
	f.mu.Unlock()
}

func (f *fakeMetrics) FrameEmitted(k media.MediaKind) {
	f.mu.Lock()
	f.frames[k]++
	f.mu.Unlock()
}

func (f *fakeMetrics) ReadTimeout() {
	f.mu.Lock()
	f.timeouts++
	f.mu.Unlock()
}

func (f *fakeMetrics) PacingSleep(d time.Duration) {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
}

func (f *fakeMetrics) StateChanged(s State) {
	f.mu.Lock()
	f.states = append(f.states, s)
	f.mu.Unlock()
}

// eventLog collects events from a machine.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.of(EventState) {
		out = append(out, ev.State)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// harness wires a machine to a fake opener, codec recorder, metrics and
// event log. Pacing sleeps are skipped unless realTime is set.
type harness struct {
	m       *Machine
	opener  *fakeOpener
	codecs  *codecRecorder
	metrics *fakeMetrics
	events  *eventLog
}

func newHarness(t *testing.T, next func() *fakeContainer, realTime bool) *harness {
	t.Helper()
	h := &harness{
		opener:  &fakeOpener{next: next},
		codecs:  &codecRecorder{},
		metrics: newFakeMetrics(),
		events:  &eventLog{},
	}
	opts := []Option{WithMetrics(h.metrics)}
	if !realTime {
		opts = append(opts, WithSleep(func(time.Duration, <-chan struct{}) {}))
	}
	h.m = New(h.opener, Config{Codecs: h.codecs.registry()}, opts...)
	h.m.Subscribe(h.events.observe)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.m.Stop(ctx); err != nil {
			t.Errorf("cleanup stop: %v", err)
		}
	})
	return h
}

// liveAV is an endless source: video stream 0 and audio stream 1.
func liveAV() *fakeContainer {
	return &fakeContainer{
		streams: []catalog.StreamDescriptor{videoStream(0, 0x100), audioStream(1, 0x101)},
		live:    true,
		gen: func(i int) *media.Packet {
			return pkt(i%2, int64(i)*1800)
		},
	}
}
