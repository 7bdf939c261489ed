package mpegts

import (
	"encoding/binary"
	"errors"
)

var errCRCMismatch = errors.New("CRC32 mismatch")

// crcTable is the MSB-first table for the MPEG-2 polynomial 0x04C11DB7.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// checkSectionCRC validates a PSI section whose last four bytes are its
// CRC. Running the CRC over the whole section yields zero when intact.
func checkSectionCRC(section []byte) error {
	if len(section) < 4 {
		return errors.New("section too short for CRC32")
	}
	if crc32MPEG(section) != 0 {
		return errCRCMismatch
	}
	return nil
}

// AppendSectionCRC appends the MPEG-2 CRC32 of a PSI section to it.
func AppendSectionCRC(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, crc32MPEG(section))
}
