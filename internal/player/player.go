// Package player is the playback engine: a state machine that owns one
// worker goroutine per session, which reads packets from a container,
// dispatches them to the active video and audio decoders and paces them
// against the wall clock.
//
// Control methods may be called from any goroutine. The requested state
// (desired) and the state the worker has actually reached (current) are
// kept apart; Pause and Stop block until the worker acknowledges them.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/filter"
	"github.com/zsiec/reel/internal/level"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/sink"
)

var (
	// ErrOpenSource wraps the container error when a source cannot be opened.
	ErrOpenSource = errors.New("player: cannot open source")
	// ErrNoStreams is returned when a source has no audio or video stream.
	ErrNoStreams = errors.New("player: no audio or video streams")
	// ErrCodecUnavailable is returned when no decoder can be opened for a
	// selected stream.
	ErrCodecUnavailable = errors.New("player: codec unavailable")
	// ErrNoSource is returned by Play before any source was opened.
	ErrNoSource = errors.New("player: no source")
	// ErrStopped is returned when the session ends while a call waits on it.
	ErrStopped = errors.New("player: stopped")
	// ErrInvalidStream is returned for out-of-range indices, kind
	// mismatches and unknown programs.
	ErrInvalidStream = errors.New("player: invalid stream")
)

// Container is the demultiplexer the worker reads from.
type Container interface {
	Streams() []catalog.StreamDescriptor
	Programs() []catalog.ProgramDescriptor
	ReadPacket() (*media.Packet, error)
	Pause()
	Resume()
	Close() error
}

// Opener opens a container for src. interrupt must be polled by every
// blocking read; once it returns true the read fails.
type Opener interface {
	Open(ctx context.Context, src catalog.Source, interrupt func() bool) (Container, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, src catalog.Source, interrupt func() bool) (Container, error)

func (f OpenerFunc) Open(ctx context.Context, src catalog.Source, interrupt func() bool) (Container, error) {
	return f(ctx, src, interrupt)
}

// Metrics receives engine telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	PacketRead()
	PacketDispatched(kind media.MediaKind)
	DecodeError(kind media.MediaKind)
	FrameEmitted(kind media.MediaKind)
	ReadTimeout()
	PacingSleep(d time.Duration)
	StateChanged(s State)
}

type nopMetrics struct{}

func (nopMetrics) PacketRead()                      {}
func (nopMetrics) PacketDispatched(media.MediaKind) {}
func (nopMetrics) DecodeError(media.MediaKind)      {}
func (nopMetrics) FrameEmitted(media.MediaKind)     {}
func (nopMetrics) ReadTimeout()                     {}
func (nopMetrics) PacingSleep(time.Duration)        {}
func (nopMetrics) StateChanged(State)               {}

// Config holds the engine settings and frame sinks. Zero values are usable.
type Config struct {
	// ReadTimeout aborts a session when no read completes for this long.
	// Zero disables it. A source's own ReadTimeout overrides it for that
	// source only.
	ReadTimeout time.Duration
	// MaxPacingGap is the backward timestamp step that re-anchors the
	// clock. Zero means DefaultMaxPacingGap; negative disables
	// re-anchoring.
	MaxPacingGap time.Duration
	// LevelRate is the number of level updates per second.
	LevelRate int
	Codecs    *codec.Registry
	Filters   filter.Chain

	VideoSink   sink.VideoSink
	AudioSink   sink.AudioSink
	CaptionSink sink.CaptionSink
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) { m.log = log }
}

// WithMetrics installs a telemetry receiver.
func WithMetrics(mt Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithNow replaces the wall clock used for pacing and read timeouts.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSleep replaces the pacing sleep. sleep must return early when
// cancel is closed.
func WithSleep(sleep func(d time.Duration, cancel <-chan struct{})) Option {
	return func(m *Machine) { m.sleep = sleep }
}

// Machine is the playback state machine. It can run any number of
// sessions one after another.
type Machine struct {
	log     *slog.Logger
	opener  Opener
	cfg     Config
	metrics Metrics
	now     func() time.Time
	sleep   func(time.Duration, <-chan struct{})

	// ctrl serializes control operations.
	ctrl sync.Mutex
	sess *session

	// mu guards the condition variables and acked. desiredChanged wakes a
	// paused worker; currentChanged wakes callers waiting for an
	// acknowledgement.
	mu             sync.Mutex
	desiredChanged *sync.Cond
	currentChanged *sync.Cond
	// acked trails current until observers have heard of the state.
	acked State

	desired     atomic.Int32
	current     atomic.Int32
	activeVideo atomic.Int32
	activeAudio atomic.Int32
	readTimeout atomic.Int64
	// sourceTimeout is the read timeout of the open source, -1 when it
	// has none.
	sourceTimeout atomic.Int64

	source   atomic.Pointer[catalog.Source]
	snapshot atomic.Pointer[catalog.Snapshot]

	notifier  catalog.Notifier
	observers observers
	meter     *level.Meter
}

// New returns a stopped machine that opens sources through opener.
func New(opener Opener, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		opener:  opener,
		cfg:     cfg,
		metrics: nopMetrics{},
		now:     time.Now,
		sleep:   sleepOrCancel,
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "player")
	if m.cfg.Codecs == nil {
		m.cfg.Codecs = codec.DefaultRegistry()
	}
	if m.cfg.MaxPacingGap == 0 {
		m.cfg.MaxPacingGap = DefaultMaxPacingGap
	}
	if m.cfg.LevelRate <= 0 {
		m.cfg.LevelRate = level.DefaultUpdateRate
	}
	m.desiredChanged = sync.NewCond(&m.mu)
	m.currentChanged = sync.NewCond(&m.mu)
	m.activeVideo.Store(catalog.None)
	m.activeAudio.Store(catalog.None)
	m.readTimeout.Store(int64(cfg.ReadTimeout))
	m.sourceTimeout.Store(-1)
	empty := (&catalog.Catalog{}).Snapshot()
	m.snapshot.Store(&empty)
	m.meter = level.NewMeter(m.log, m.publishLevels, level.WithUpdateRate(m.cfg.LevelRate))
	m.notifier.Subscribe(catalog.ObserverFuncs{
		Streams: func(s []catalog.StreamDescriptor) {
			m.emit(Event{Kind: EventStreams, Streams: s})
		},
		Programs: func(p []catalog.ProgramDescriptor) {
			m.emit(Event{Kind: EventPrograms, Programs: p})
		},
	})
	return m
}

func sleepOrCancel(d time.Duration, cancel <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-cancel:
	}
}

// Subscribe registers an event observer and returns a function removing it.
func (m *Machine) Subscribe(o Observer) (unsubscribe func()) {
	return m.observers.add(o)
}

// SubscribeCatalog registers a catalog observer. It receives the stream
// and program tables after every discovery and every reset.
func (m *Machine) SubscribeCatalog(o catalog.Observer) (unsubscribe func()) {
	return m.notifier.Subscribe(o)
}

// State returns the state the worker has reached.
func (m *Machine) State() State { return State(m.current.Load()) }

// DesiredState returns the most recently requested state.
func (m *Machine) DesiredState() State { return State(m.desired.Load()) }

// ActiveStream returns the index of the active stream of kind, or
// catalog.None.
func (m *Machine) ActiveStream(kind media.MediaKind) int {
	switch kind {
	case media.KindVideo:
		return int(m.activeVideo.Load())
	case media.KindAudio:
		return int(m.activeAudio.Load())
	}
	return catalog.None
}

// Catalog returns a copy of the current stream and program tables.
func (m *Machine) Catalog() catalog.Snapshot { return *m.snapshot.Load() }

// Source returns the most recently opened source.
func (m *Machine) Source() (catalog.Source, bool) {
	if s := m.source.Load(); s != nil {
		return *s, true
	}
	return catalog.Source{}, false
}

// ReadTimeout returns the active read timeout: the open source's own
// timeout when it has one, otherwise the machine default.
func (m *Machine) ReadTimeout() time.Duration {
	if d := m.sourceTimeout.Load(); d >= 0 {
		return time.Duration(d)
	}
	return time.Duration(m.readTimeout.Load())
}

// SetReadTimeout changes the default read timeout and drops the override
// of the open source. It applies to reads already in progress. Zero
// disables the timeout.
func (m *Machine) SetReadTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.readTimeout.Store(int64(d))
	m.sourceTimeout.Store(-1)
}

// Open stops any running session, opens src, discovers its streams,
// selects the first video and audio stream and starts playing. It returns
// once the worker has reached Playing or has already finished.
func (m *Machine) Open(ctx context.Context, src catalog.Source) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	if err := m.load(ctx, src); err != nil {
		return err
	}
	return m.start(ctx)
}

// Load opens src and prepares a session without starting it. Play starts
// it; SwitchStream may change the selection first.
func (m *Machine) Load(ctx context.Context, src catalog.Source) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	return m.load(ctx, src)
}

// Play starts a prepared session, re-opens the last source after a session
// ended, or resumes from Paused. It is a no-op while Playing.
func (m *Machine) Play(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	return m.play(ctx)
}

// Pause blocks until the worker has paused. It is a no-op unless Playing.
func (m *Machine) Pause(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	return m.pause(ctx)
}

// Stop ends the session and blocks until the worker has exited. Calling
// it while stopped does nothing.
func (m *Machine) Stop(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	return m.stop(ctx)
}

// SwitchStream makes index the active stream of kind. catalog.None
// deactivates the kind. A playing session is paused for the swap and
// resumed afterwards.
func (m *Machine) SwitchStream(ctx context.Context, kind media.MediaKind, index int) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	return m.switchStreams(ctx, map[media.MediaKind]int{kind: index})
}

// SwitchProgram activates the first video and first audio stream of the
// program with the given id. A kind the program lacks is deactivated.
func (m *Machine) SwitchProgram(ctx context.Context, id int) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()
	s := m.sess
	if s == nil || s.finished() {
		return ErrNoSource
	}
	if _, ok := s.catalog.Program(id); !ok {
		return fmt.Errorf("%w: program %d", ErrInvalidStream, id)
	}
	return m.switchStreams(ctx, map[media.MediaKind]int{
		media.KindVideo: s.catalog.FirstOfKindInProgram(id, media.KindVideo),
		media.KindAudio: s.catalog.FirstOfKindInProgram(id, media.KindAudio),
	})
}

func (m *Machine) load(ctx context.Context, src catalog.Source) error {
	if err := m.stop(ctx); err != nil {
		return err
	}
	if src.ReadTimeout > 0 {
		m.sourceTimeout.Store(int64(src.ReadTimeout))
	} else {
		m.sourceTimeout.Store(-1)
	}
	m.source.Store(&src)

	m.emit(Event{Kind: EventSourceLock, Locked: true})
	defer m.emit(Event{Kind: EventSourceLock, Locked: false})

	s, err := m.prepare(ctx, src)
	if err != nil {
		m.log.Error("open failed", "uri", src.URI, "error", err)
		m.publishCatalog(&catalog.Catalog{})
		return err
	}
	m.sess = s
	m.publishCatalog(&s.catalog)
	return nil
}

// prepare opens the container, builds the catalog and opens decoders for
// the default selection.
func (m *Machine) prepare(ctx context.Context, src catalog.Source) (*session, error) {
	m.clearSelection()
	s := m.newSession(src)
	s.lastRead.Store(m.now().UnixNano())

	// The interrupt also fires when ctx ends while the source connects
	// and is probed.
	detach := context.AfterFunc(ctx, s.cancel)
	c, err := m.opener.Open(ctx, src, s.interrupt)
	if !detach() {
		if c != nil {
			c.Close()
		}
		return nil, fmt.Errorf("player: opening %s: %w", src.URI, context.Cause(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenSource, err)
	}
	s.container = c
	if err := s.catalog.Build(c.Streams(), c.Programs()); err != nil {
		s.release()
		return nil, fmt.Errorf("%w: %w", ErrOpenSource, err)
	}
	v := s.catalog.FirstOfKind(media.KindVideo)
	a := s.catalog.FirstOfKind(media.KindAudio)
	if v == catalog.None && a == catalog.None {
		s.release()
		return nil, ErrNoStreams
	}

	var errs []error
	for _, sel := range []struct {
		kind media.MediaKind
		idx  int
	}{{media.KindVideo, v}, {media.KindAudio, a}} {
		if sel.idx == catalog.None {
			continue
		}
		kind, idx := sel.kind, sel.idx
		if err := m.openDecoder(s, kind, idx); err != nil {
			m.log.Warn("stream disabled", "kind", kind.String(), "stream", idx, "error", err)
			errs = append(errs, err)
		}
	}
	if m.ActiveStream(media.KindVideo) == catalog.None && m.ActiveStream(media.KindAudio) == catalog.None {
		s.release()
		return nil, errors.Join(errs...)
	}
	m.log.Info("source opened", "uri", src.URI, "kind", src.Kind.String(),
		"streams", s.catalog.Len(),
		"video", m.ActiveStream(media.KindVideo), "audio", m.ActiveStream(media.KindAudio))
	return s, nil
}

// openDecoder opens the decoder of kind for stream idx and activates it.
// On failure the kind stays deactivated.
func (m *Machine) openDecoder(s *session, kind media.MediaKind, idx int) error {
	sd, ok := s.catalog.Stream(idx)
	if !ok || sd.Kind != kind {
		return fmt.Errorf("%w: %s stream %d", ErrInvalidStream, kind, idx)
	}
	if err := s.decoder(kind).Open(sd); err != nil {
		return fmt.Errorf("%w: %w", ErrCodecUnavailable, err)
	}
	m.setActive(kind, idx)
	return nil
}

func (m *Machine) setActive(kind media.MediaKind, idx int) {
	switch kind {
	case media.KindVideo:
		m.activeVideo.Store(int32(idx))
	case media.KindAudio:
		m.activeAudio.Store(int32(idx))
	}
}

func (m *Machine) play(ctx context.Context) error {
	switch m.State() {
	case Playing:
		return nil
	case Paused:
		m.setDesired(Playing)
		return m.waitCurrent(ctx, m.sess, Playing)
	}
	if s := m.sess; s != nil && !s.started {
		return m.start(ctx)
	}
	src, ok := m.Source()
	if !ok {
		return ErrNoSource
	}
	if err := m.load(ctx, src); err != nil {
		return err
	}
	return m.start(ctx)
}

// start launches the worker for the prepared session.
func (m *Machine) start(ctx context.Context) error {
	s := m.sess
	s.started = true
	m.setDesired(Playing)
	go m.run(s)
	err := m.waitCurrent(ctx, s, Playing)
	if errors.Is(err, ErrStopped) {
		// Finished before the caller observed Playing.
		return nil
	}
	return err
}

func (m *Machine) pause(ctx context.Context) error {
	s := m.sess
	if s == nil || !s.started || s.finished() {
		return nil
	}
	m.mu.Lock()
	switch State(m.desired.Load()) {
	case Stopped:
		m.mu.Unlock()
		if m.State() == Stopped {
			return nil
		}
		return ErrStopped
	case Playing:
		m.desired.Store(int32(Paused))
	}
	m.mu.Unlock()
	return m.waitCurrent(ctx, s, Paused)
}

func (m *Machine) stop(ctx context.Context) error {
	s := m.sess
	if s == nil {
		return nil
	}
	if !s.started {
		s.release()
		m.sess = nil
		m.clearSelection()
		m.publishCatalog(&catalog.Catalog{})
		return nil
	}
	m.requestStop(s)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.sess = nil
	return nil
}

// requestStop asks the worker of s to exit and wakes it wherever it waits.
func (m *Machine) requestStop(s *session) {
	m.mu.Lock()
	m.desired.Store(int32(Stopped))
	m.desiredChanged.Broadcast()
	m.mu.Unlock()
	s.cancel()
}

func (m *Machine) switchStreams(ctx context.Context, sel map[media.MediaKind]int) error {
	s := m.sess
	if s == nil {
		return ErrNoSource
	}
	if s.finished() {
		return ErrStopped
	}
	changed := false
	for kind, idx := range sel {
		if kind != media.KindVideo && kind != media.KindAudio {
			return fmt.Errorf("%w: kind %s", ErrInvalidStream, kind)
		}
		if idx == m.ActiveStream(kind) {
			continue
		}
		if idx != catalog.None {
			if sd, ok := s.catalog.Stream(idx); !ok || sd.Kind != kind {
				return fmt.Errorf("%w: %s stream %d", ErrInvalidStream, kind, idx)
			}
		}
		changed = true
	}
	if !changed {
		return nil
	}

	wasPlaying := m.State() == Playing
	if wasPlaying {
		if err := m.pause(ctx); err != nil {
			return err
		}
	}

	// The worker is parked or gone. ending tells the two apart and keeps
	// it from releasing the decoders underneath us.
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return ErrStopped
	}
	var errs []error
	for _, kind := range []media.MediaKind{media.KindVideo, media.KindAudio} {
		idx, ok := sel[kind]
		if !ok || idx == m.ActiveStream(kind) {
			continue
		}
		// The old decoder is gone before the new one is opened.
		m.setActive(kind, catalog.None)
		s.decoder(kind).Close()
		s.clock.Reset()
		if idx == catalog.None {
			m.log.Info("stream deactivated", "kind", kind.String())
			continue
		}
		if err := m.openDecoder(s, kind, idx); err != nil {
			m.log.Warn("stream switch failed", "kind", kind.String(), "stream", idx, "error", err)
			errs = append(errs, err)
			continue
		}
		m.log.Info("stream switched", "kind", kind.String(), "stream", idx)
	}
	s.mu.Unlock()

	if wasPlaying {
		if err := m.play(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Machine) clearSelection() {
	m.activeVideo.Store(catalog.None)
	m.activeAudio.Store(catalog.None)
}

func (m *Machine) setDesired(st State) {
	m.mu.Lock()
	m.desired.Store(int32(st))
	m.desiredChanged.Broadcast()
	m.mu.Unlock()
}

// publish is called by the worker after the side effect of st happened.
// State reports st from then on, including inside observers, and
// observers hear of st before any waiter is released.
func (m *Machine) publish(st State) {
	m.log.Debug("state", "state", st.String())
	m.current.Store(int32(st))
	m.metrics.StateChanged(st)
	m.emit(Event{Kind: EventState, State: st})
	m.mu.Lock()
	m.acked = st
	m.currentChanged.Broadcast()
	m.mu.Unlock()
}

// waitCurrent blocks until current equals want. It returns ErrStopped if
// the worker of s exits first.
func (m *Machine) waitCurrent(ctx context.Context, s *session, want State) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.currentChanged.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.acked != want {
		if s.exited {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.currentChanged.Wait()
	}
	return nil
}

func (m *Machine) publishCatalog(c *catalog.Catalog) {
	snap := c.Snapshot()
	m.snapshot.Store(&snap)
	m.notifier.Publish(c)
}

func (m *Machine) publishLevels(levels []float64) {
	m.emit(Event{Kind: EventLevels, Levels: levels})
}

func (m *Machine) emit(ev Event) {
	ev.At = m.now()
	m.observers.emit(ev)
}
