package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zsiec/reel/internal/media"
)

// ErrFormatChanged is returned when a WAV writer receives audio whose
// sample rate or channel count differs from the first frame.
var ErrFormatChanged = errors.New("sink: audio format changed mid-stream")

// WAVWriter writes decoded audio to a 16-bit PCM WAV file. The header is
// taken from the first frame; Close finalizes the chunk sizes.
type WAVWriter struct {
	mu       sync.Mutex
	w        io.WriteSeeker
	enc      *wav.Encoder
	rate     int
	channels int
	buf      *audio.IntBuffer
}

// NewWAVWriter returns a writer targeting w. The encoder is created lazily
// once the stream format is known.
func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{w: w}
}

func (s *WAVWriter) WriteAudio(f *media.AudioFrame) error {
	if f.Format == media.SampleFormatEncoded {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		s.rate, s.channels = f.SampleRate, f.Channels
		s.enc = wav.NewEncoder(s.w, s.rate, 16, s.channels, 1)
		s.buf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: s.channels, SampleRate: s.rate},
			SourceBitDepth: 16,
		}
	}
	if f.SampleRate != s.rate || f.Channels != s.channels {
		return fmt.Errorf("%w: %d Hz/%d ch, writing %d Hz/%d ch",
			ErrFormatChanged, f.SampleRate, f.Channels, s.rate, s.channels)
	}

	s.buf.Data = appendS16(s.buf.Data[:0], f)
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("sink: writing wav: %w", err)
	}
	return nil
}

// Close finalizes the WAV header. It does not close the underlying writer.
func (s *WAVWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}
	err := s.enc.Close()
	s.enc = nil
	return err
}

// appendS16 appends f's samples, interleaved and scaled to 16 bits.
func appendS16(dst []int, f *media.AudioFrame) []int {
	for i := 0; i < f.Samples; i++ {
		for ch := 0; ch < f.Channels; ch++ {
			dst = append(dst, int(f.S16(i, ch)))
		}
	}
	return dst
}
