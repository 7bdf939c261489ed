package media

import (
	"encoding/binary"
	"math"
)

// PixelFormat identifies the layout of VideoFrame.Planes.
type PixelFormat int

const (
	// PixelFormatAnnexB marks a compressed access unit; Planes[0] holds the
	// Annex B byte stream.
	PixelFormatAnnexB PixelFormat = iota
	// PixelFormatGray8 is a single 8-bit luma plane.
	PixelFormatGray8
	// PixelFormatYUV420P is three planes, chroma subsampled 2x2.
	PixelFormatYUV420P
)

// Raw reports whether frames in this format carry pixels that filters can
// operate on.
func (f PixelFormat) Raw() bool {
	return f != PixelFormatAnnexB
}

// SampleFormat identifies the layout of AudioFrame samples.
type SampleFormat int

const (
	SampleFormatU8 SampleFormat = iota
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
	// SampleFormatEncoded marks compressed audio (ADTS, MPEG audio) carried
	// through without decoding.
	SampleFormatEncoded
)

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "f32"
	case SampleFormatEncoded:
		return "encoded"
	}
	return "unknown"
}

// BytesPerSample returns the size of one sample, or 0 for encoded audio.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	}
	return 0
}

// Caption is one decoded caption update attached to the video frame that
// carried it.
type Caption struct {
	Channel int
	Text    string
}

// VideoFrame is one decoded picture (or one compressed access unit when
// Format is PixelFormatAnnexB). PTS is in the stream's time base.
type VideoFrame struct {
	PTS        int64
	Keyframe   bool
	Codec      string
	Format     PixelFormat
	Width      int
	Height     int
	SARNum     int
	SARDen     int
	Interlaced bool
	Planes     [][]byte
	Strides    []int
	Captions   []Caption
}

// AudioFrame is a run of decoded samples. When Planar is true Data holds one
// slice per channel, otherwise Data[0] holds interleaved samples.
type AudioFrame struct {
	PTS        int64
	Codec      string
	Format     SampleFormat
	SampleRate int
	Channels   int
	Samples    int
	Planar     bool
	Data       [][]byte
}

// S16 returns sample i of channel ch scaled to signed 16 bits. Out of range
// positions and encoded frames read as silence.
func (f *AudioFrame) S16(i, ch int) int16 {
	bps := f.Format.BytesPerSample()
	if bps == 0 || i < 0 || ch < 0 || ch >= f.Channels {
		return 0
	}
	var b []byte
	if f.Planar {
		if ch >= len(f.Data) || (i+1)*bps > len(f.Data[ch]) {
			return 0
		}
		b = f.Data[ch][i*bps:]
	} else {
		off := (i*f.Channels + ch) * bps
		if len(f.Data) == 0 || off+bps > len(f.Data[0]) {
			return 0
		}
		b = f.Data[0][off:]
	}

	switch f.Format {
	case SampleFormatU8:
		return int16(int(b[0])-128) << 8
	case SampleFormatS16:
		return int16(binary.LittleEndian.Uint16(b))
	case SampleFormatS32:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	case SampleFormatF32:
		v := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return int16(max(-1, min(1, v)) * math.MaxInt16)
	}
	return 0
}

// Interleave returns a copy of f with planar data merged into a single
// interleaved buffer. Interleaved frames are returned unchanged.
func (f *AudioFrame) Interleave() *AudioFrame {
	if !f.Planar {
		return f
	}
	bps := f.Format.BytesPerSample()
	out := *f
	out.Planar = false
	buf := make([]byte, f.Samples*f.Channels*bps)
	for ch := 0; ch < f.Channels && ch < len(f.Data); ch++ {
		plane := f.Data[ch]
		for i := 0; i < f.Samples && (i+1)*bps <= len(plane); i++ {
			copy(buf[(i*f.Channels+ch)*bps:], plane[i*bps:(i+1)*bps])
		}
	}
	out.Data = [][]byte{buf}
	return &out
}
