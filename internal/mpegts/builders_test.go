package mpegts

import "bytes"

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F)
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, afFlags byte, afLen int, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x20 | (cc & 0x0F)
	if len(payload) > 0 {
		buf[3] |= 0x10
	}
	buf[4] = byte(afLen)
	if afLen > 0 {
		buf[5] = afFlags
	}
	copy(buf[5+afLen:], payload)
	return buf
}

type testES struct {
	streamType uint8
	pid        uint16
	lang       string
}

// longSection wraps body in a long-form PSI header and appends the CRC.
func longSection(tableID uint8, ext uint16, version uint8, body []byte) []byte {
	sl := 5 + len(body) + 4
	s := []byte{
		tableID, 0xB0 | byte(sl>>8)&0x0F, byte(sl),
		byte(ext >> 8), byte(ext),
		0xC1 | (version&0x1F)<<1,
		0x00, 0x00,
	}
	s = append(s, body...)
	return AppendSectionCRC(s)
}

func buildPAT(tsID uint16, programs []struct{ num, pid uint16 }) []byte {
	var body []byte
	for _, p := range programs {
		body = append(body, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return longSection(tableIDPAT, tsID, 0, body)
}

func buildPMT(programNum, pcrPID uint16, version uint8, streams []testES) []byte {
	body := []byte{0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, s := range streams {
		var desc []byte
		if s.lang != "" {
			desc = append(desc, DescriptorTagISO639, 4)
			desc = append(desc, s.lang...)
			desc = append(desc, 0x00)
		}
		body = append(body, s.streamType, 0xE0|byte(s.pid>>8)&0x1F, byte(s.pid),
			0xF0|byte(len(desc)>>8)&0x0F, byte(len(desc)))
		body = append(body, desc...)
	}
	return longSection(tableIDPMT, programNum, version, body)
}

func buildSDT(tsID uint16, services map[uint16][2]string) []byte {
	body := []byte{0x00, 0x01, 0xFF}
	for id := uint16(1); id < 0x100; id++ {
		names, ok := services[id]
		if !ok {
			continue
		}
		provider, name := names[0], names[1]
		desc := []byte{DescriptorTagService, byte(3 + len(provider) + len(name)), 0x01, byte(len(provider))}
		desc = append(desc, provider...)
		desc = append(desc, byte(len(name)))
		desc = append(desc, name...)
		body = append(body, byte(id>>8), byte(id), 0xFC, 0x80|byte(len(desc)>>8)&0x0F, byte(len(desc)))
		body = append(body, desc...)
	}
	return longSection(tableIDSDT, tsID, 0, body)
}

// withPointer prefixes a PSI section with a zero pointer field.
func withPointer(section []byte) []byte {
	return append([]byte{0x00}, section...)
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

func buildPESPacket(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case hasPTS && hasDTS:
		flags = 3
		opt = append(encodePTS(0x03, pts), encodePTS(0x01, dts)...)
	case hasPTS:
		flags = 2
		opt = encodePTS(0x02, pts)
	}
	length := 3 + len(opt) + len(data)
	if streamID >= 0xE0 && streamID <= 0xEF {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, flags << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}

// tsBuilder assembles a transport stream, tracking continuity counters.
type tsBuilder struct {
	bytes.Buffer
	cc map[uint16]uint8
}

func newTSBuilder() *tsBuilder {
	return &tsBuilder{cc: make(map[uint16]uint8)}
}

func (b *tsBuilder) psi(pid uint16, section []byte) {
	b.packet(pid, true, withPointer(section))
}

func (b *tsBuilder) pes(pid uint16, streamID byte, pts int64, data []byte) {
	b.packet(pid, true, buildPESPacket(streamID, pts, 0, true, false, data))
}

func (b *tsBuilder) packet(pid uint16, pusi bool, payload []byte) {
	cc := b.cc[pid]
	b.Write(makePacket(pid, cc, pusi, payload))
	b.cc[pid] = (cc + 1) & 0x0F
}
