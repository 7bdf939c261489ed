package codec

import (
	"errors"

	"github.com/zsiec/reel/internal/media"
)

// ErrInvalidMPEGAudio is returned when an MPEG audio frame header is
// malformed.
var ErrInvalidMPEGAudio = errors.New("codec: invalid MPEG audio header")

// Bitrates in kbit/s indexed by [lsf][layer-1][index]; lsf is 1 for
// MPEG-2 and MPEG-2.5.
var mpaBitrates = [2][3][15]int{
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var mpaSampleRates = [3]int{44100, 48000, 32000}

// MPEGAudioHeader is a parsed MPEG-1/2/2.5 audio frame header.
type MPEGAudioHeader struct {
	Layer      int
	SampleRate int
	Channels   int
	Bitrate    int // bit/s
	FrameSize  int
	Samples    int
}

// ParseMPEGAudioHeader parses the four header bytes at the start of b.
func ParseMPEGAudioHeader(b []byte) (MPEGAudioHeader, error) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return MPEGAudioHeader{}, ErrInvalidMPEGAudio
	}
	version := (b[1] >> 3) & 0x03 // 0: 2.5, 2: 2, 3: 1
	layerBits := (b[1] >> 1) & 0x03
	brIdx := int(b[2] >> 4)
	srIdx := int(b[2]>>2) & 0x03
	if version == 1 || layerBits == 0 || brIdx == 0 || brIdx == 15 || srIdx == 3 {
		return MPEGAudioHeader{}, ErrInvalidMPEGAudio
	}
	padding := int(b[2]>>1) & 0x01

	h := MPEGAudioHeader{Layer: 4 - int(layerBits), Channels: 2}
	if b[3]>>6 == 3 {
		h.Channels = 1
	}
	lsf := 0
	h.SampleRate = mpaSampleRates[srIdx]
	switch version {
	case 2:
		lsf = 1
		h.SampleRate /= 2
	case 0:
		lsf = 1
		h.SampleRate /= 4
	}
	h.Bitrate = mpaBitrates[lsf][h.Layer-1][brIdx] * 1000

	switch h.Layer {
	case 1:
		h.Samples = 384
		h.FrameSize = (12*h.Bitrate/h.SampleRate + padding) * 4
	case 2:
		h.Samples = 1152
		h.FrameSize = 144*h.Bitrate/h.SampleRate + padding
	default:
		h.Samples = 1152
		if lsf == 1 {
			h.Samples = 576
		}
		h.FrameSize = h.Samples/8*h.Bitrate/h.SampleRate + padding
	}
	return h, nil
}

// mpegAudioCodec frames MPEG audio (layer I-III) carried in TS.
type mpegAudioCodec struct {
	frameQueue
	name     string
	timeBase media.Rational
}

func (c *mpegAudioCodec) Configure(_ media.CodecParams, tb media.Rational) error {
	c.timeBase = tb
	return nil
}

func (c *mpegAudioCodec) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		c.draining = true
		return nil
	}
	pts := pkt.PTS
	found := false
	for off := 0; off+4 <= len(pkt.Data); {
		h, err := ParseMPEGAudioHeader(pkt.Data[off:])
		if err != nil || off+h.FrameSize > len(pkt.Data) {
			off++
			continue
		}
		found = true
		c.push(Frame{Audio: &media.AudioFrame{
			PTS:        pts,
			Codec:      c.name,
			Format:     media.SampleFormatEncoded,
			SampleRate: h.SampleRate,
			Channels:   h.Channels,
			Samples:    h.Samples,
			Data:       [][]byte{pkt.Data[off : off+h.FrameSize]},
		}})
		pts += samplesToTicks(h.Samples, h.SampleRate, c.timeBase)
		off += h.FrameSize
	}
	if !found {
		return ErrInvalidMPEGAudio
	}
	return nil
}

func (c *mpegAudioCodec) Close() error {
	c.reset()
	return nil
}
