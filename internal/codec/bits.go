package codec

import "errors"

var errShortRBSP = errors.New("codec: truncated RBSP")

// rbspReader reads Exp-Golomb coded fields MSB first.
type rbspReader struct {
	buf []byte
	off int // bit offset
}

func (r *rbspReader) u(n int) (uint32, error) {
	var v uint32
	for range n {
		if r.off>>3 >= len(r.buf) {
			return 0, errShortRBSP
		}
		bit := r.buf[r.off>>3] >> (7 - uint(r.off&7)) & 1
		v = v<<1 | uint32(bit)
		r.off++
	}
	return v, nil
}

func (r *rbspReader) flag() (bool, error) {
	v, err := r.u(1)
	return v == 1, err
}

func (r *rbspReader) ue() (uint32, error) {
	zeros := 0
	for {
		b, err := r.u(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		if zeros++; zeros > 31 {
			return 0, errShortRBSP
		}
	}
	suffix, err := r.u(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<zeros - 1 + suffix, nil
}

func (r *rbspReader) se() (int32, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v&1 == 0 {
		return -int32(v >> 1), nil
	}
	return int32(v>>1) + 1, nil
}

// unescapeRBSP removes emulation prevention bytes (00 00 03 -> 00 00).
func unescapeRBSP(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 3 {
			zeros = 0
			continue
		}
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, c)
	}
	return out
}

// NALUnit is one NAL unit of an Annex B byte stream, without start code.
type NALUnit struct {
	Type byte
	Data []byte
}

// splitAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
// typeOf extracts the codec-specific NAL type from the unit's first bytes;
// units shorter than minLen are dropped.
func splitAnnexB(b []byte, minLen int, typeOf func([]byte) byte) []NALUnit {
	var units []NALUnit
	start := -1
	emit := func(end int) {
		if start < 0 {
			return
		}
		// A 4-byte start code leaves one extra zero on the previous unit.
		for end > start && b[end-1] == 0 {
			end--
		}
		if end-start >= minLen {
			units = append(units, NALUnit{Type: typeOf(b[start:end]), Data: b[start:end]})
		}
	}
	for i := 0; i+2 < len(b); {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			emit(i)
			i += 3
			start = i
			continue
		}
		i++
	}
	emit(len(b))
	return units
}
