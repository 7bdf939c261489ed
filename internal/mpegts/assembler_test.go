package mpegts

import "testing"

func push(t *testing.T, a *assembler, bufs ...[]byte) []chunk {
	t.Helper()
	var out []chunk
	for _, b := range bufs {
		var p packet
		if err := p.decode(b); err != nil {
			t.Fatal(err)
		}
		out = a.push(&p, out)
	}
	return out
}

func TestAssembler_JoinsUnits(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	got := push(t, a,
		makePacket(0x100, 0, true, []byte{1}),
		makePacket(0x100, 1, false, []byte{2}),
		makePacket(0x100, 2, true, []byte{3}),
	)
	if len(got) != 1 {
		t.Fatalf("got %d units, want 1", len(got))
	}
	if n := len(got[0].data); n != 2*184 {
		t.Errorf("unit length = %d, want %d", n, 2*184)
	}
	if got[0].data[0] != 1 || got[0].data[184] != 2 {
		t.Errorf("unit starts %X/%X, want 01/02", got[0].data[0], got[0].data[184])
	}
	if rest := a.flush(); len(rest) != 1 || rest[0].data[0] != 3 {
		t.Errorf("flush = %d units, want the pending one", len(rest))
	}
}

func TestAssembler_WaitsForUnitStart(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	got := push(t, a,
		makePacket(0x100, 4, false, []byte{9}),
		makePacket(0x100, 5, true, []byte{1}),
	)
	if len(got) != 0 {
		t.Fatalf("got %d units, want 0", len(got))
	}
	rest := a.flush()
	if len(rest) != 1 || len(rest[0].data) != 184 || rest[0].data[0] != 1 {
		t.Errorf("flush = %+v, want one unit starting 01", rest)
	}
}

func TestAssembler_DropsDuplicates(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	push(t, a,
		makePacket(0x100, 0, true, []byte{1}),
		makePacket(0x100, 1, false, []byte{2}),
		makePacket(0x100, 1, false, []byte{2}),
	)
	rest := a.flush()
	if len(rest) != 1 || len(rest[0].data) != 2*184 {
		t.Errorf("flush = %d units, want one of %d bytes", len(rest), 2*184)
	}
}

func TestAssembler_ContinuityGap(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	got := push(t, a,
		makePacket(0x100, 0, true, []byte{1}),
		makePacket(0x100, 2, false, []byte{2}),
		makePacket(0x100, 3, true, []byte{3}),
	)
	if len(got) != 0 {
		t.Errorf("got %d units across a gap, want 0", len(got))
	}
	if rest := a.flush(); len(rest) != 1 || rest[0].data[0] != 3 {
		t.Errorf("flush = %+v, want the unit after the gap", rest)
	}
}

func TestAssembler_Discontinuity(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	got := push(t, a,
		makePacket(0x100, 0, true, []byte{1}),
		makePacketWithAF(0x100, 7, 0x80, 1, []byte{2}),
		makePacket(0x100, 8, true, []byte{3}),
	)
	if len(got) != 1 {
		t.Errorf("got %d units, want 1 (signalled discontinuity)", len(got))
	}
}

func TestAssembler_TransportError(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	bad := makePacket(0x100, 1, false, []byte{2})
	bad[1] |= 0x80
	push(t, a, makePacket(0x100, 0, true, []byte{1}), bad)
	if rest := a.flush(); len(rest) != 0 {
		t.Errorf("flush = %d units, want 0 after a transport error", len(rest))
	}
}

func TestAssembler_PIDFilter(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	a.keep = func(pid uint16) bool { return pid == 0x101 }
	push(t, a,
		makePacket(0x100, 0, true, []byte{1}),
		makePacket(0x101, 0, true, []byte{2}),
		makePacket(pidPAT, 0, true, withPointer(buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))),
	)
	rest := a.flush()
	if len(rest) != 1 || rest[0].pid != 0x101 {
		t.Errorf("flush = %+v, want only PID 0x101", rest)
	}
}

func TestAssembler_SectionFlushedEarly(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	got := push(t, a, makePacket(pidPAT, 0, true, withPointer(buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))))
	if len(got) != 1 || got[0].pid != pidPAT {
		t.Fatalf("got %+v, want the PAT at once", got)
	}
	if rest := a.flush(); len(rest) != 0 {
		t.Errorf("flush = %d units, want 0", len(rest))
	}
}

func TestAssembler_SectionAcrossPackets(t *testing.T) {
	t.Parallel()
	var streams []testES
	for i := range 20 {
		streams = append(streams, testES{streamType: 0x0F, pid: uint16(0x200 + i), lang: "eng"})
	}
	payload := withPointer(buildPMT(1, 0x200, 0, streams))
	if len(payload) <= 184 {
		t.Fatalf("section of %d bytes fits one packet", len(payload))
	}
	a := newAssembler()
	a.pmtPIDs[0x1000] = true
	got := push(t, a,
		makePacket(0x1000, 0, true, payload[:184]),
		makePacket(0x1000, 1, false, payload[184:]),
	)
	if len(got) != 1 {
		t.Fatalf("got %d units, want 1", len(got))
	}
	units, err := parsePSI(0x1000, got[0].data)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || len(units[0].PMT.Streams) != 20 {
		t.Errorf("parsed %d units, want one PMT of 20 streams", len(units))
	}
}

func TestAssembler_FlushOrder(t *testing.T) {
	t.Parallel()
	a := newAssembler()
	push(t, a,
		makePacket(0x300, 0, true, []byte{3}),
		makePacket(0x100, 0, true, []byte{1}),
		makePacket(0x200, 0, true, []byte{2}),
	)
	rest := a.flush()
	if len(rest) != 3 {
		t.Fatalf("flush = %d units, want 3", len(rest))
	}
	for i, want := range []uint16{0x100, 0x200, 0x300} {
		if rest[i].pid != want {
			t.Errorf("unit %d pid = 0x%X, want 0x%X", i, rest[i].pid, want)
		}
	}
}
