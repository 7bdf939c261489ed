package mpegts

import (
	"maps"
	"slices"
)

const (
	pidPAT  = 0x0000
	pidSDT  = 0x0011
	pidNull = 0x1FFF
)

// chunk is the payload of one complete unit on a PID.
type chunk struct {
	pid          uint16
	randomAccess bool
	data         []byte
}

type unitBuffer struct {
	started      bool
	cc           uint8
	randomAccess bool
	data         []byte
}

// assembler joins packet payloads into units per PID. A PID's buffer starts
// at a payload_unit_start packet and is dropped on a continuity gap or a
// transport error, so a unit is either complete or never emitted.
type assembler struct {
	units   map[uint16]*unitBuffer
	pmtPIDs map[uint16]bool

	// keep, when set, limits PES reassembly. Table PIDs always pass.
	keep func(pid uint16) bool
}

func newAssembler() *assembler {
	return &assembler{
		units:   make(map[uint16]*unitBuffer),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (a *assembler) isPSI(pid uint16) bool {
	return pid == pidPAT || pid == pidSDT || a.pmtPIDs[pid]
}

// addPMT marks pid as carrying a PMT, dropping anything buffered on it
// before the PAT named it.
func (a *assembler) addPMT(pid uint16) {
	if !a.pmtPIDs[pid] {
		a.pmtPIDs[pid] = true
		delete(a.units, pid)
	}
}

// push adds p and appends any units it completed to out.
func (a *assembler) push(p *packet, out []chunk) []chunk {
	if p.pid == pidNull || !p.hasPayload {
		return out
	}
	psi := a.isPSI(p.pid)
	if !psi && a.keep != nil && !a.keep(p.pid) {
		delete(a.units, p.pid)
		return out
	}
	if p.transportErr {
		delete(a.units, p.pid)
		return out
	}

	u := a.units[p.pid]
	if u == nil {
		u = &unitBuffer{}
		a.units[p.pid] = u
	}
	if u.started && !p.discontinuity {
		switch p.cc {
		case u.cc:
			return out // duplicate
		case (u.cc + 1) & 0x0F:
		default:
			u.started, u.data = false, nil
		}
	}
	u.cc = p.cc

	switch {
	case p.unitStart:
		if u.started && len(u.data) > 0 {
			out = append(out, chunk{pid: p.pid, randomAccess: u.randomAccess, data: u.data})
		}
		u.started = true
		u.randomAccess = p.randomAccess
		u.data = append([]byte(nil), p.payload...)
	case u.started:
		u.data = append(u.data, p.payload...)
	default:
		return out
	}

	if psi && sectionComplete(u.data) {
		out = append(out, chunk{pid: p.pid, randomAccess: u.randomAccess, data: u.data})
		u.started, u.data = false, nil
	}
	return out
}

// flush returns every partially buffered unit in PID order.
func (a *assembler) flush() []chunk {
	var out []chunk
	for _, pid := range slices.Sorted(maps.Keys(a.units)) {
		if u := a.units[pid]; u.started && len(u.data) > 0 {
			out = append(out, chunk{pid: pid, randomAccess: u.randomAccess, data: u.data})
		}
	}
	clear(a.units)
	return out
}

// sectionComplete reports whether a PSI payload, starting at its pointer
// field, holds the whole of its first section.
func sectionComplete(b []byte) bool {
	if len(b) < 1 {
		return false
	}
	off := 1 + int(b[0])
	if off+3 > len(b) {
		return false
	}
	return off+3+sectionLength(b[off:]) <= len(b)
}
