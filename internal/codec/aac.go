package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/reel/internal/media"
)

// Audio codec names for compressed audio carried through undecoded.
const (
	AAC = "aac"
	MP2 = "mp2"
	MP3 = "mp3"
)

// ErrInvalidADTS is returned when an ADTS header is malformed.
var ErrInvalidADTS = errors.New("codec: invalid ADTS header")

// ISO 14496-3 sampling_frequency_index table.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

const aacFrameSamples = 1024

// ADTSFrame is one AAC frame including its ADTS header.
type ADTSFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// ParseADTS splits an ADTS byte stream into frames. Bytes before a sync
// word are skipped; a truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]ADTSFrame, error) {
	var frames []ADTSFrame
	for off := 0; len(data)-off >= 7; {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF6 != 0xF0 {
			off++
			continue
		}
		headerLen := 7
		if h[1]&0x01 == 0 {
			headerLen = 9 // CRC present
		}
		srIdx := int(h[2]>>2) & 0x0F
		if srIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		size := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if size < headerLen || size > len(h) {
			break
		}
		frames = append(frames, ADTSFrame{
			Data:       h[:size],
			SampleRate: aacSampleRates[srIdx],
			Channels:   int(h[2]&0x01)<<2 | int(h[3]>>6),
		})
		off += size
	}
	return frames, nil
}

// adtsCodec frames ADTS audio. Each AAC frame becomes one encoded
// AudioFrame with a PTS advanced by 1024 samples per frame.
type adtsCodec struct {
	frameQueue
	timeBase media.Rational
}

func (c *adtsCodec) Configure(_ media.CodecParams, tb media.Rational) error {
	c.timeBase = tb
	return nil
}

func (c *adtsCodec) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		c.draining = true
		return nil
	}
	frames, err := ParseADTS(pkt.Data)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frame in %d bytes", ErrInvalidADTS, len(pkt.Data))
	}
	pts := pkt.PTS
	for _, fr := range frames {
		c.push(Frame{Audio: &media.AudioFrame{
			PTS:        pts,
			Codec:      AAC,
			Format:     media.SampleFormatEncoded,
			SampleRate: fr.SampleRate,
			Channels:   fr.Channels,
			Samples:    aacFrameSamples,
			Data:       [][]byte{fr.Data},
		}})
		pts += samplesToTicks(aacFrameSamples, fr.SampleRate, c.timeBase)
	}
	return nil
}

func (c *adtsCodec) Close() error {
	c.reset()
	return nil
}

// samplesToTicks converts a sample count to ticks of tb.
func samplesToTicks(samples, rate int, tb media.Rational) int64 {
	if rate <= 0 || !tb.Valid() {
		return 0
	}
	return media.Rational{Num: 1, Den: int64(rate)}.Rescale(int64(samples), tb)
}
