package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errNotPES = errors.New("mpegts: missing PES start code")

func hasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x01
}

// hasPESHeader reports whether packets of streamID carry the optional PES
// header (and therefore timestamps).
func hasPESHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(b []byte) (*PES, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet of %d bytes", len(b))
	}
	if !hasStartCode(b) {
		return nil, errNotPES
	}
	pes := &PES{StreamID: b[3]}

	// A zero length means unbounded, as used by video.
	end := len(b)
	if n := int(binary.BigEndian.Uint16(b[4:6])); n > 0 && 6+n < end {
		end = 6 + n
	}
	if !hasPESHeader(pes.StreamID) {
		pes.Data = b[6:end]
		return pes, nil
	}
	if len(b) < 9 {
		return nil, errors.New("mpegts: PES header truncated")
	}

	// b[7] holds PTS_DTS_flags in its top two bits; b[8] is the header
	// data length.
	flags := b[7] >> 6
	hdr := b[9:min(9+int(b[8]), len(b))]
	if flags&0x2 != 0 && len(hdr) >= 5 {
		pes.PTS, pes.HasPTS = timestamp(hdr), true
		if flags&0x1 != 0 && len(hdr) >= 10 {
			pes.DTS, pes.HasDTS = timestamp(hdr[5:]), true
		}
	}
	start := min(9+len(hdr), end)
	pes.Data = b[start:end]
	return pes, nil
}

// timestamp decodes a 33-bit PTS or DTS from its 5-byte marker-bit form.
func timestamp(b []byte) int64 {
	return int64(b[0]&0x0E)<<29 |
		int64(b[1])<<22 |
		int64(b[2]&0xFE)<<14 |
		int64(b[3])<<7 |
		int64(b[4])>>1
}
