package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/reel/internal/media"
)

// PCM codec names.
const (
	PCMU8          = "pcm_u8"
	PCMS16LE       = "pcm_s16le"
	PCMS16BE       = "pcm_s16be"
	PCMS24LE       = "pcm_s24le"
	PCMS32LE       = "pcm_s32le"
	PCMF32LE       = "pcm_f32le"
	PCMF32LEPlanar = "pcm_f32le_planar"
)

type pcmLayout struct {
	width  int // bytes per sample in the packet
	format media.SampleFormat
	planar bool
	// convert writes one wire sample to dst in the output format. Nil when
	// the layouts match.
	convert func(dst, src []byte)
}

var pcmLayouts = map[string]pcmLayout{
	PCMU8:    {width: 1, format: media.SampleFormatU8},
	PCMS16LE: {width: 2, format: media.SampleFormatS16},
	PCMS16BE: {width: 2, format: media.SampleFormatS16, convert: func(dst, src []byte) {
		binary.LittleEndian.PutUint16(dst, binary.BigEndian.Uint16(src))
	}},
	PCMS24LE: {width: 3, format: media.SampleFormatS32, convert: func(dst, src []byte) {
		dst[0], dst[1], dst[2], dst[3] = 0, src[0], src[1], src[2]
	}},
	PCMS32LE:       {width: 4, format: media.SampleFormatS32},
	PCMF32LE:       {width: 4, format: media.SampleFormatF32},
	PCMF32LEPlanar: {width: 4, format: media.SampleFormatF32, planar: true},
}

type pcmCodec struct {
	frameQueue
	name     string
	layout   pcmLayout
	params   media.CodecParams
	timeBase media.Rational
}

func newPCM(name string) Factory {
	return func() Codec { return &pcmCodec{name: name, layout: pcmLayouts[name]} }
}

func (c *pcmCodec) Configure(p media.CodecParams, tb media.Rational) error {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return fmt.Errorf("codec: %s needs sample rate and channels, got %d/%d", c.name, p.SampleRate, p.Channels)
	}
	c.params = p
	c.timeBase = tb
	return nil
}

func (c *pcmCodec) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		c.draining = true
		return nil
	}
	block := c.layout.width * c.params.Channels
	if len(pkt.Data)%block != 0 {
		return fmt.Errorf("codec: %s packet of %d bytes is not a multiple of %d", c.name, len(pkt.Data), block)
	}
	samples := len(pkt.Data) / block
	if samples == 0 {
		return nil
	}

	data := pkt.Data
	if c.layout.convert != nil {
		outWidth := c.layout.format.BytesPerSample()
		out := make([]byte, samples*c.params.Channels*outWidth)
		for i := 0; i < samples*c.params.Channels; i++ {
			c.layout.convert(out[i*outWidth:], data[i*c.layout.width:])
		}
		data = out
	}

	f := &media.AudioFrame{
		PTS:        pkt.PTS,
		Codec:      c.name,
		Format:     c.layout.format,
		SampleRate: c.params.SampleRate,
		Channels:   c.params.Channels,
		Samples:    samples,
		Planar:     c.layout.planar,
	}
	if c.layout.planar {
		plane := len(data) / c.params.Channels
		for ch := 0; ch < c.params.Channels; ch++ {
			f.Data = append(f.Data, data[ch*plane:(ch+1)*plane])
		}
	} else {
		f.Data = [][]byte{data}
	}
	c.push(Frame{Audio: f})
	return nil
}

func (c *pcmCodec) Close() error {
	c.reset()
	return nil
}
