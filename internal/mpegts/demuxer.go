package mpegts

import (
	"errors"
	"io"
)

// Demuxer reads transport packets and yields complete units. It is not
// safe for concurrent use.
type Demuxer struct {
	r     io.Reader
	size  int
	buf   []byte
	pkt   packet
	asm   *assembler
	queue []*Unit
	done  []chunk
	eof   bool
	read  int64
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithPacketSize sets the on-wire packet size: 188, 192 for M2TS (a 4-byte
// timecode precedes each packet) or 204 (16 bytes of FEC follow it).
func WithPacketSize(n int) Option {
	return func(d *Demuxer) { d.size = n }
}

func NewDemuxer(r io.Reader, opts ...Option) *Demuxer {
	d := &Demuxer{r: r, size: packetSize, asm: newAssembler()}
	for _, opt := range opts {
		opt(d)
	}
	d.buf = make([]byte, d.size)
	return d
}

// SetPIDFilter limits PES reassembly to PIDs for which keep returns true.
// A nil keep accepts every PID.
func (d *Demuxer) SetPIDFilter(keep func(pid uint16) bool) {
	d.asm.keep = keep
}

// BytesRead returns the number of bytes consumed from the reader.
func (d *Demuxer) BytesRead() int64 {
	return d.read
}

// Next returns the next unit, or io.EOF once the reader is exhausted and
// every buffered unit has been returned. Packets without sync and units
// that fail to parse are skipped.
func (d *Demuxer) Next() (*Unit, error) {
	for len(d.queue) == 0 {
		if d.eof {
			return nil, io.EOF
		}
		n, err := io.ReadFull(d.r, d.buf)
		d.read += int64(n)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			d.eof = true
			d.decode(d.asm.flush())
			continue
		case err != nil:
			return nil, err
		}

		b := d.buf[:packetSize]
		if d.size == 192 {
			b = d.buf[4:]
		}
		if d.pkt.decode(b) != nil {
			continue
		}
		d.done = d.asm.push(&d.pkt, d.done[:0])
		d.decode(d.done)
	}
	u := d.queue[0]
	d.queue = d.queue[1:]
	return u, nil
}

func (d *Demuxer) decode(chunks []chunk) {
	for _, c := range chunks {
		if d.asm.isPSI(c.pid) {
			units, _ := parsePSI(c.pid, c.data)
			for _, u := range units {
				if u.PAT == nil {
					continue
				}
				for _, p := range u.PAT.Programs {
					d.asm.addPMT(p.PMTPID)
				}
			}
			d.queue = append(d.queue, units...)
			continue
		}
		if !hasStartCode(c.data) {
			continue
		}
		pes, err := parsePES(c.data)
		if err != nil {
			continue
		}
		d.queue = append(d.queue, &Unit{PID: c.pid, RandomAccess: c.randomAccess, PES: pes})
	}
}
