package demux

import (
	"bytes"

	"github.com/zsiec/reel/internal/mpegts"
)

// tsWriter assembles single-packet PSI sections and PES units.
type tsWriter struct {
	bytes.Buffer
	cc map[uint16]uint8
}

func newTSWriter() *tsWriter {
	return &tsWriter{cc: make(map[uint16]uint8)}
}

func (w *tsWriter) packet(pid uint16, payload []byte) {
	buf := make([]byte, tsPacketSize)
	buf[0] = 0x47
	buf[1] = 0x40 | byte(pid>>8)&0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | w.cc[pid]
	copy(buf[4:], payload)
	w.cc[pid] = (w.cc[pid] + 1) & 0x0F
	w.Write(buf)
}

func section(tableID uint8, ext uint16, version uint8, body []byte) []byte {
	sl := 5 + len(body) + 4
	s := []byte{
		tableID, 0xB0 | byte(sl>>8)&0x0F, byte(sl),
		byte(ext >> 8), byte(ext),
		0xC1 | (version&0x1F)<<1,
		0x00, 0x00,
	}
	return mpegts.AppendSectionCRC(append(s, body...))
}

func (w *tsWriter) pat(program, pmtPID uint16) {
	body := []byte{byte(program >> 8), byte(program), 0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID)}
	w.packet(0x0000, append([]byte{0}, section(0x00, 1, 0, body)...))
}

type es struct {
	streamType uint8
	pid        uint16
	lang       string
}

func (w *tsWriter) pmt(pmtPID, program uint16, version uint8, streams ...es) {
	body := []byte{0xE0 | byte(streams[0].pid>>8)&0x1F, byte(streams[0].pid), 0xF0, 0x00}
	for _, s := range streams {
		var desc []byte
		if s.lang != "" {
			desc = append([]byte{mpegts.DescriptorTagISO639, 4}, s.lang...)
			desc = append(desc, 0x00)
		}
		body = append(body, s.streamType, 0xE0|byte(s.pid>>8)&0x1F, byte(s.pid), 0xF0, byte(len(desc)))
		body = append(body, desc...)
	}
	w.packet(pmtPID, append([]byte{0}, section(0x02, program, version, body)...))
}

func (w *tsWriter) sdt(service uint16, provider, name string) {
	desc := []byte{mpegts.DescriptorTagService, byte(3 + len(provider) + len(name)), 0x01, byte(len(provider))}
	desc = append(desc, provider...)
	desc = append(desc, byte(len(name)))
	desc = append(desc, name...)
	body := []byte{0x00, 0x01, 0xFF, byte(service >> 8), byte(service), 0xFC, 0x80, byte(len(desc))}
	body = append(body, desc...)
	w.packet(0x0011, append([]byte{0}, section(0x42, 1, 0, body)...))
}

func encodePTS(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte((v>>29)&0x0E) | 0x01,
		byte(v >> 22),
		byte((v>>14)&0xFE) | 0x01,
		byte(v >> 7),
		byte((v<<1)&0xFE) | 0x01,
	}
}

// pes writes one PES unit with a PTS. Audio stream ids carry an explicit
// length so the packet's zero fill is excluded.
func (w *tsWriter) pes(pid uint16, streamID byte, pts int64, data []byte) {
	opt := encodePTS(0x02, pts)
	length := 3 + len(opt) + len(data)
	if streamID >= 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, 0x80, byte(len(opt))}
	buf = append(buf, opt...)
	w.packet(pid, append(buf, data...))
}

// 720x576 interlaced, SAR 16:11.
var spsPAL = []byte{0x67, 0x42, 0x00, 0x1e, 0xda, 0x02, 0xd0, 0x91, 0x60, 0x80, 0x10}

func h264AccessUnit() []byte {
	au := append([]byte{0, 0, 0, 1}, spsPAL...)
	return append(au, 0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21)
}

// adtsFrame builds an ADTS frame (no CRC) for 48 kHz stereo AAC-LC.
func adtsFrame(payload int) []byte {
	size := 7 + payload
	f := make([]byte, size)
	f[0] = 0xFF
	f[1] = 0xF1
	f[2] = 0x01<<6 | 3<<2
	f[3] = 2<<6 | byte(size>>11)&0x03
	f[4] = byte(size >> 3)
	f[5] = byte(size&0x07)<<5 | 0x1F
	f[6] = 0xFC
	return f
}

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x0100
	testAudioPID = 0x0101
)

// sampleTS is a one-program stream: H.264 video, AAC audio tagged "eng",
// SDT naming the service, then two access units per stream.
func sampleTS() []byte {
	w := newTSWriter()
	w.sample(0)
	return w.Bytes()
}

func (w *tsWriter) sample(offset int64) {
	w.pat(1, testPMTPID)
	w.pmt(testPMTPID, 1, 3,
		es{streamType: 0x1B, pid: testVideoPID},
		es{streamType: 0x0F, pid: testAudioPID, lang: "eng"},
	)
	w.sdt(1, "Prov", "News")
	w.pes(testVideoPID, 0xE0, offset+90000, h264AccessUnit())
	w.pes(testAudioPID, 0xC0, offset+90000, adtsFrame(16))
	w.pes(testVideoPID, 0xE0, offset+93600, h264AccessUnit())
	w.pes(testAudioPID, 0xC0, offset+91920, adtsFrame(16))
}

// esDesc describes a PMT entry with at most one descriptor.
type esDesc struct {
	streamType uint8
	tag        uint8
}

func (e esDesc) pmt() *mpegts.ElementaryStream {
	es := &mpegts.ElementaryStream{StreamType: e.streamType}
	if e.tag != 0 {
		es.Descriptors = []mpegts.Descriptor{{Tag: e.tag}}
	}
	return es
}
