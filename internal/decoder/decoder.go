// Package decoder binds one codec context to one active stream of a given
// media kind and drains its frames into an output step.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/media"
)

var (
	// ErrKindMismatch is returned by Open for a stream of another kind.
	ErrKindMismatch = errors.New("decoder: stream kind mismatch")
	// ErrNotOpen is returned by Decode before Open succeeds.
	ErrNotOpen = errors.New("decoder: not open")
)

// Output receives every frame a decoder produces, in order.
type Output interface {
	WriteFrame(f codec.Frame) error
}

// Decoder is the per-kind decoding slot. It is used from the playback
// worker only.
type Decoder struct {
	log    *slog.Logger
	kind   media.MediaKind
	out    Output
	reg    *codec.Registry
	codec  codec.Codec
	stream catalog.StreamDescriptor
	frames uint64
}

// New returns a closed decoder for kind. A nil registry means
// codec.DefaultRegistry.
func New(kind media.MediaKind, out Output, reg *codec.Registry, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = codec.DefaultRegistry()
	}
	return &Decoder{
		log:  log.With("component", "decoder", "kind", kind.String()),
		kind: kind,
		out:  out,
		reg:  reg,
	}
}

// Kind returns the media kind this decoder serves.
func (d *Decoder) Kind() media.MediaKind { return d.kind }

// Open activates the decoder for sd, closing any previous codec first.
// Unknown codecs wrap codec.ErrNotFound.
func (d *Decoder) Open(sd catalog.StreamDescriptor) error {
	d.Close()
	if sd.Kind != d.kind {
		return fmt.Errorf("%w: stream %d is %s, want %s", ErrKindMismatch, sd.Index, sd.Kind, d.kind)
	}
	c, err := d.reg.New(sd.Params.Codec)
	if err != nil {
		return fmt.Errorf("decoder: stream %d: %w", sd.Index, err)
	}
	if err := c.Configure(sd.Params, sd.TimeBase); err != nil {
		c.Close()
		return fmt.Errorf("decoder: configuring %s for stream %d: %w", sd.Params.Codec, sd.Index, err)
	}
	d.codec = c
	d.stream = sd
	d.frames = 0
	d.log.Info("decoder opened", "stream", sd.Index, "codec", sd.Params.Codec)
	return nil
}

// IsOpen reports whether a codec is active.
func (d *Decoder) IsOpen() bool { return d.codec != nil }

// Stream returns the stream the decoder was opened for.
func (d *Decoder) Stream() catalog.StreamDescriptor { return d.stream }

// Frames returns the number of frames delivered since Open.
func (d *Decoder) Frames() uint64 { return d.frames }

// Decode sends pkt to the codec and delivers every frame it makes
// available. A nil packet drains the codec.
func (d *Decoder) Decode(pkt *media.Packet) error {
	if d.codec == nil {
		return ErrNotOpen
	}
	if err := d.codec.SendPacket(pkt); err != nil {
		d.log.Warn("send packet failed", "stream", d.stream.Index, "error", err)
		return fmt.Errorf("decoder: send: %w", err)
	}
	for {
		f, err := d.codec.ReceiveFrame()
		if errors.Is(err, codec.ErrAgain) || errors.Is(err, codec.ErrEOF) {
			return nil
		}
		if err != nil {
			d.log.Warn("receive frame failed", "stream", d.stream.Index, "error", err)
			return fmt.Errorf("decoder: receive: %w", err)
		}
		d.frames++
		if d.out == nil {
			continue
		}
		if err := d.out.WriteFrame(f); err != nil {
			d.log.Warn("output failed", "stream", d.stream.Index, "error", err)
			return fmt.Errorf("decoder: output: %w", err)
		}
	}
}

// Close releases the codec. It is safe to call on a closed decoder.
func (d *Decoder) Close() {
	if d.codec == nil {
		return
	}
	if err := d.codec.Close(); err != nil {
		d.log.Debug("codec close", "error", err)
	}
	d.codec = nil
	d.stream = catalog.StreamDescriptor{}
}
