package demux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/ingest"
	"github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/media"
)

var (
	// ErrInterrupted is returned by blocking reads abandoned because the
	// interrupt predicate fired.
	ErrInterrupted = ingest.ErrInterrupted
	// ErrUnsupported is returned by Open for sources no container handles.
	ErrUnsupported = errors.New("demux: unsupported source")
)

// Container is an open source.
type Container interface {
	Streams() []catalog.StreamDescriptor
	Programs() []catalog.ProgramDescriptor
	// ReadPacket blocks until the next packet is available. It returns
	// io.EOF at end of stream and ErrInterrupted when the interrupt
	// predicate fires.
	ReadPacket() (*media.Packet, error)
	// Pause and Resume bracket a paused session. Network containers keep
	// draining their input while paused, drop it, and resume with live
	// data.
	Pause()
	Resume()
	Close() error
}

// DefaultProbeBytes bounds how much of a transport stream is read while
// discovering its programs.
const DefaultProbeBytes = 2 << 20

// Options configures Open.
type Options struct {
	// Interrupt is polled before and during blocking reads.
	Interrupt func() bool
	// ProbeBytes bounds transport stream discovery. Zero means
	// DefaultProbeBytes.
	ProbeBytes int64
	// Registry receives network sources. A private registry is used when
	// nil.
	Registry *ingest.Registry
	// SRT dials srt:// sources. A caller on Registry is created when nil.
	SRT *srt.Caller
	Log *slog.Logger
}

func (o *Options) defaults() {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Interrupt == nil {
		o.Interrupt = func() bool { return false }
	}
	if o.ProbeBytes <= 0 {
		o.ProbeBytes = DefaultProbeBytes
	}
	if o.Registry == nil {
		o.Registry = ingest.NewRegistry()
	}
	if o.SRT == nil {
		o.SRT = srt.NewCaller(o.Registry, o.Log)
	}
}

// Open opens src. Network URIs (udp://, srt://) carry MPEG-TS; files are
// dispatched by extension and, failing that, by their leading bytes.
func Open(ctx context.Context, src catalog.Source, opts Options) (Container, error) {
	opts.defaults()
	log := opts.Log.With("component", "demux", "uri", src.URI)

	u, err := url.Parse(src.URI)
	if err == nil {
		switch u.Scheme {
		case "udp":
			return openNetwork(ctx, src, opts, log, func(lctx context.Context) (io.ReadCloser, error) {
				return ingest.ListenUDP(lctx, opts.Registry, src.URI, opts.Log)
			})
		case "srt":
			return openNetwork(ctx, src, opts, log, func(lctx context.Context) (io.ReadCloser, error) {
				return opts.SRT.Open(lctx, src.URI)
			})
		case "file":
			return openFile(ctx, u.Path, opts, log)
		case "":
		default:
			if len(u.Scheme) > 1 { // not a Windows drive letter
				return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
			}
		}
	}
	return openFile(ctx, src.URI, opts, log)
}

func openNetwork(ctx context.Context, src catalog.Source, opts Options, log *slog.Logger,
	dial func(context.Context) (io.ReadCloser, error)) (Container, error) {
	// The source outlives the open call; Close ends it. Until the probe
	// is done, ctx bounds the dial and the probe reads as well.
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	detach := context.AfterFunc(ctx, cancel)
	var opening atomic.Bool
	opening.Store(true)
	interrupt := func() bool {
		return (opening.Load() && ctx.Err() != nil) || opts.Interrupt()
	}

	rc, err := dial(lctx)
	if err != nil {
		detach()
		cancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("demux: opening %s: %w", src.URI, context.Cause(ctx))
		}
		return nil, fmt.Errorf("demux: opening %s: %w", src.URI, err)
	}
	r := ingest.NewReader(rc, interrupt)
	c, err := newTS(r, closerFunc(func() error {
		cancel()
		return r.Close()
	}), tsConfig{packetSize: tsPacketSize, probeBytes: opts.ProbeBytes, live: true}, log)
	opening.Store(false)
	if !detach() {
		err = fmt.Errorf("demux: opening %s: %w", src.URI, context.Cause(ctx))
	}
	if err != nil {
		cancel()
		r.Close()
		return nil, err
	}
	c.input = r
	return c, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatTS
	formatM2TS
	formatWAV
	formatAIFF
	formatMP3
	formatOgg
)

var extFormats = map[string]fileFormat{
	".ts":   formatTS,
	".m2ts": formatM2TS,
	".mts":  formatM2TS,
	".wav":  formatWAV,
	".aif":  formatAIFF,
	".aiff": formatAIFF,
	".mp3":  formatMP3,
	".ogg":  formatOgg,
	".oga":  formatOgg,
}

// sniff guesses the format of a file from its first bytes.
func sniff(head []byte) fileFormat {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return formatWAV
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("FORM")):
		return formatAIFF
	case bytes.HasPrefix(head, []byte("OggS")):
		return formatOgg
	case bytes.HasPrefix(head, []byte("ID3")):
		return formatMP3
	case len(head) > 2*tsPacketSize && head[0] == 0x47 && head[tsPacketSize] == 0x47:
		return formatTS
	case len(head) > 2*m2tsPacketSize+4 && head[4] == 0x47 && head[m2tsPacketSize+4] == 0x47:
		return formatM2TS
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return formatMP3
	}
	return formatUnknown
}

func openFile(ctx context.Context, path string, opts Options, log *slog.Logger) (Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("demux: %w", err)
	}

	format := extFormats[strings.ToLower(filepath.Ext(path))]
	if format == formatUnknown {
		head := make([]byte, 1024)
		n, _ := io.ReadFull(f, head)
		format = sniff(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("demux: %w", err)
		}
	}

	var c Container
	switch format {
	case formatTS, formatM2TS:
		size := tsPacketSize
		if format == formatM2TS {
			size = m2tsPacketSize
		}
		r := &interruptReader{r: bufio.NewReaderSize(f, 64<<10), interrupt: opts.Interrupt}
		c, err = newTS(r, f, tsConfig{packetSize: size, probeBytes: opts.ProbeBytes}, log)
	case formatWAV, formatAIFF, formatMP3, formatOgg:
		c, err = newAudioFile(f, format, opts.Interrupt, log)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// interruptReader checks the predicate before every read. File reads do not
// block long enough to need the pump in ingest.Reader.
type interruptReader struct {
	r         io.Reader
	interrupt func() bool
}

func (r *interruptReader) Read(p []byte) (int, error) {
	if r.interrupt() {
		return 0, ErrInterrupted
	}
	return r.r.Read(p)
}
