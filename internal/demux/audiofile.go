package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/dhowden/tag"
	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/media"
)

// packetSamples is the number of samples per channel in each packet read
// from an audio file. It matches one MPEG audio layer III frame.
const packetSamples = 1152

// sampleReader yields the next packet payload in the stream codec's wire
// layout, returning the number of samples per channel it holds.
type sampleReader func() ([]byte, int, error)

// audioFile is a single-stream container over a decoded audio file.
type audioFile struct {
	log       *slog.Logger
	f         *os.File
	interrupt func() bool
	stream    catalog.StreamDescriptor
	next      sampleReader
	pos       int64
	eof       bool
}

func newAudioFile(f *os.File, format fileFormat, interrupt func() bool, log *slog.Logger) (*audioFile, error) {
	a := &audioFile{log: log, f: f, interrupt: interrupt}
	meta := readTags(f, log)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("demux: %w", err)
	}

	var (
		params media.CodecParams
		err    error
	)
	switch format {
	case formatWAV:
		params, a.next, err = openWAV(f)
	case formatAIFF:
		params, a.next, err = openAIFF(f)
	case formatMP3:
		params, a.next, err = openMP3(f)
	case formatOgg:
		params, a.next, err = openOgg(f)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		return nil, err
	}

	a.stream = catalog.StreamDescriptor{
		Index:    0,
		Kind:     media.KindAudio,
		TimeBase: media.Rational{Num: 1, Den: int64(params.SampleRate)},
		Params:   params,
		Metadata: meta,
	}
	log.Info("audio file opened", "codec", params.Codec,
		"sample_rate", params.SampleRate, "channels", params.Channels)
	return a, nil
}

// readTags reads title/artist/album tags. Files without tags, and formats
// the tag reader does not know, yield an empty map.
func readTags(rs io.ReadSeeker, log *slog.Logger) map[string]string {
	meta := map[string]string{}
	m, err := tag.ReadFrom(rs)
	if err != nil {
		log.Debug("no tags", "error", err)
		return meta
	}
	for k, v := range map[string]string{
		catalog.MetaTitle:  m.Title(),
		catalog.MetaArtist: m.Artist(),
		catalog.MetaAlbum:  m.Album(),
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

// pcmCodecFor maps an integer PCM bit depth to a codec name.
func pcmCodecFor(bitDepth int) (string, int, error) {
	switch bitDepth {
	case 8:
		return codec.PCMU8, 1, nil
	case 16:
		return codec.PCMS16LE, 2, nil
	case 24:
		return codec.PCMS24LE, 3, nil
	case 32:
		return codec.PCMS32LE, 4, nil
	}
	return "", 0, fmt.Errorf("%w: %d-bit PCM", ErrUnsupported, bitDepth)
}

// intPCMDecoder is the part of the go-audio WAV and AIFF decoders used here.
type intPCMDecoder interface {
	PCMBuffer(buf *audio.IntBuffer) (int, error)
}

// intPCMReader packs go-audio integer buffers into little-endian PCM.
// signed8 marks 8-bit input that must be offset to unsigned.
func intPCMReader(dec intPCMDecoder, format *audio.Format, width int, signed8 bool) sampleReader {
	buf := &audio.IntBuffer{
		Format: format,
		Data:   make([]int, packetSamples*format.NumChannels),
	}
	return func() ([]byte, int, error) {
		buf.Data = buf.Data[:cap(buf.Data)]
		n, err := dec.PCMBuffer(buf)
		if n == 0 {
			if err == nil {
				err = io.EOF
			}
			return nil, 0, err
		}
		n -= n % format.NumChannels
		out := make([]byte, n*width)
		for i, v := range buf.Data[:n] {
			b := out[i*width:]
			switch width {
			case 1:
				if signed8 {
					v += 128
				}
				b[0] = byte(v)
			case 2:
				binary.LittleEndian.PutUint16(b, uint16(int16(v)))
			case 3:
				b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
			case 4:
				binary.LittleEndian.PutUint32(b, uint32(int32(v)))
			}
		}
		return out, n / format.NumChannels, nil
	}
}

func openWAV(rs io.ReadSeeker) (media.CodecParams, sampleReader, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return media.CodecParams{}, nil, fmt.Errorf("%w: not a PCM WAV file", ErrUnsupported)
	}
	dec.ReadInfo()
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		return media.CodecParams{}, nil, fmt.Errorf("%w: WAV without a usable format chunk", ErrUnsupported)
	}
	name, width, err := pcmCodecFor(int(dec.BitDepth))
	if err != nil {
		return media.CodecParams{}, nil, err
	}
	params := media.CodecParams{
		Codec:      name,
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	return params, intPCMReader(dec, format, width, false), nil
}

func openAIFF(rs io.ReadSeeker) (media.CodecParams, sampleReader, error) {
	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return media.CodecParams{}, nil, fmt.Errorf("%w: not an AIFF file", ErrUnsupported)
	}
	dec.ReadInfo()
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		return media.CodecParams{}, nil, fmt.Errorf("%w: AIFF without a usable COMM chunk", ErrUnsupported)
	}
	name, width, err := pcmCodecFor(int(dec.BitDepth))
	if err != nil {
		return media.CodecParams{}, nil, err
	}
	params := media.CodecParams{
		Codec:      name,
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	// AIFF samples are signed at every depth.
	return params, intPCMReader(dec, format, width, true), nil
}

func openMP3(r io.Reader) (media.CodecParams, sampleReader, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return media.CodecParams{}, nil, fmt.Errorf("demux: mp3: %w", err)
	}
	// go-mp3 always produces interleaved 16-bit stereo.
	const channels, width = 2, 2
	params := media.CodecParams{
		Codec:      codec.PCMS16LE,
		SampleRate: dec.SampleRate(),
		Channels:   channels,
		BitDepth:   16,
	}
	frame := channels * width
	next := func() ([]byte, int, error) {
		buf := make([]byte, packetSamples*frame)
		n, err := io.ReadFull(dec, buf)
		n -= n % frame
		if n == 0 {
			if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return nil, 0, err
		}
		return buf[:n], n / frame, nil
	}
	return params, next, nil
}

func openOgg(r io.Reader) (media.CodecParams, sampleReader, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return media.CodecParams{}, nil, fmt.Errorf("demux: ogg: %w", err)
	}
	channels := dec.Channels()
	params := media.CodecParams{
		Codec:      codec.PCMF32LEPlanar,
		SampleRate: dec.SampleRate(),
		Channels:   channels,
		BitDepth:   32,
	}
	interleaved := make([]float32, packetSamples*channels)
	next := func() ([]byte, int, error) {
		n, err := dec.Read(interleaved)
		n -= n % channels
		if n == 0 {
			if err == nil {
				err = io.EOF
			}
			return nil, 0, err
		}
		samples := n / channels
		// Planar layout: all of channel 0, then channel 1, ...
		out := make([]byte, n*4)
		for i := 0; i < samples; i++ {
			for ch := 0; ch < channels; ch++ {
				off := (ch*samples + i) * 4
				binary.LittleEndian.PutUint32(out[off:], math.Float32bits(interleaved[i*channels+ch]))
			}
		}
		return out, samples, nil
	}
	return params, next, nil
}

func (a *audioFile) Streams() []catalog.StreamDescriptor   { return []catalog.StreamDescriptor{a.stream} }
func (a *audioFile) Programs() []catalog.ProgramDescriptor { return nil }

func (a *audioFile) ReadPacket() (*media.Packet, error) {
	if a.eof {
		return nil, io.EOF
	}
	if a.interrupt() {
		return nil, ErrInterrupted
	}
	data, samples, err := a.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			a.eof = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("demux: reading audio: %w", err)
	}
	pkt := &media.Packet{
		StreamIndex: 0,
		PTS:         a.pos,
		DTS:         a.pos,
		HasPTS:      true,
		HasDTS:      true,
		Keyframe:    true,
		Data:        data,
	}
	a.pos += int64(samples)
	return pkt, nil
}

// Files need no pause handling; reading stops with the worker.
func (a *audioFile) Pause()  {}
func (a *audioFile) Resume() {}

func (a *audioFile) Close() error {
	return a.f.Close()
}
