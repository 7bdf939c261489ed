package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

var errSync = errors.New("mpegts: lost sync")

// packet is a decoded transport packet header. payload aliases the buffer
// passed to decode and is only valid until that buffer is reused.
type packet struct {
	pid           uint16
	cc            uint8
	unitStart     bool
	transportErr  bool
	hasPayload    bool
	discontinuity bool
	randomAccess  bool
	payload       []byte
}

func (p *packet) decode(b []byte) error {
	if len(b) != packetSize {
		return fmt.Errorf("mpegts: %d-byte packet", len(b))
	}
	if b[0] != syncByte {
		return errSync
	}
	*p = packet{
		pid:          binary.BigEndian.Uint16(b[1:3]) & 0x1FFF,
		cc:           b[3] & 0x0F,
		unitStart:    b[1]&0x40 != 0,
		transportErr: b[1]&0x80 != 0,
		hasPayload:   b[3]&0x10 != 0,
	}
	body := b[4:]
	if b[3]&0x20 != 0 {
		n := int(body[0])
		if n > 0 && len(body) > 1 {
			p.discontinuity = body[1]&0x80 != 0
			p.randomAccess = body[1]&0x40 != 0
		}
		body = body[min(1+n, len(body)):]
	}
	if p.hasPayload {
		p.payload = body
	}
	return nil
}
