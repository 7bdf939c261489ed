package mpegts

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func syntheticStream() *tsBuilder {
	b := newTSBuilder()
	b.psi(pidPAT, buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))
	b.psi(0x1000, buildPMT(1, 0x100, 0, []testES{
		{streamType: 0x1B, pid: 0x100},
		{streamType: 0x0F, pid: 0x101, lang: "eng"},
	}))
	b.psi(pidSDT, buildSDT(1, map[uint16][2]string{1: {"reel", "Channel One"}}))
	idr := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	adts := []byte{0xFF, 0xF1, 0x50, 0x40}
	b.pes(0x100, 0xE0, 90000, idr)
	b.pes(0x101, 0xC0, 90000, adts)
	b.pes(0x100, 0xE0, 93003, idr)
	b.pes(0x101, 0xC0, 91920, adts)
	return b
}

func drain(t *testing.T, d *Demuxer) []*Unit {
	t.Helper()
	var out []*Unit
	for {
		u, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, u)
	}
}

func TestDemuxer_Synthetic(t *testing.T) {
	t.Parallel()
	var (
		pat *PAT
		pmt *PMT
		sdt *SDT
		pts = map[uint16][]int64{}
	)
	for _, u := range drain(t, NewDemuxer(syntheticStream())) {
		switch {
		case u.PAT != nil:
			pat = u.PAT
		case u.PMT != nil:
			pmt = u.PMT
		case u.SDT != nil:
			sdt = u.SDT
		case u.PES != nil:
			pts[u.PID] = append(pts[u.PID], u.PES.PTS)
		}
	}

	if pat == nil || len(pat.Programs) != 1 {
		t.Fatalf("PAT = %+v, want one program", pat)
	}
	if pmt == nil || len(pmt.Streams) != 2 {
		t.Fatalf("PMT = %+v, want two streams", pmt)
	}
	if got := pmt.Streams[1].Language(); got != "eng" {
		t.Errorf("audio language = %q, want eng", got)
	}
	if sdt == nil || len(sdt.Services) != 1 || sdt.Services[0].Name != "Channel One" {
		t.Errorf("SDT = %+v, want service Channel One", sdt)
	}
	if got := pts[0x100]; len(got) != 2 || got[0] != 90000 || got[1] != 93003 {
		t.Errorf("video PTS = %v, want [90000 93003]", got)
	}
	if got := pts[0x101]; len(got) != 2 || got[0] != 90000 || got[1] != 91920 {
		t.Errorf("audio PTS = %v, want [90000 91920]", got)
	}
}

func TestDemuxer_PMTBeforePAT(t *testing.T) {
	t.Parallel()
	b := newTSBuilder()
	b.psi(0x1000, buildPMT(1, 0x100, 0, []testES{{streamType: 0x1B, pid: 0x100}}))
	b.psi(pidPAT, buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))
	b.psi(0x1000, buildPMT(1, 0x100, 0, []testES{{streamType: 0x1B, pid: 0x100}}))

	var pmts int
	for _, u := range drain(t, NewDemuxer(b)) {
		if u.PMT != nil {
			pmts++
		}
	}
	if pmts != 1 {
		t.Errorf("PMTs = %d, want 1 (only after the PAT names the PID)", pmts)
	}
}

func TestDemuxer_PIDFilter(t *testing.T) {
	t.Parallel()
	dmx := NewDemuxer(syntheticStream())
	dmx.SetPIDFilter(func(pid uint16) bool { return pid == 0x101 })

	var pmtSeen bool
	for _, u := range drain(t, dmx) {
		if u.PMT != nil {
			pmtSeen = true
		}
		if u.PES != nil && u.PID != 0x101 {
			t.Errorf("PES on filtered PID 0x%X", u.PID)
		}
	}
	if !pmtSeen {
		t.Error("table PIDs must bypass the PID filter")
	}
}

func TestDemuxer_RandomAccess(t *testing.T) {
	t.Parallel()
	b := newTSBuilder()
	b.psi(pidPAT, buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))
	b.Write(makePacketWithAF(0x100, 0, 0x40, 1, buildPESPacket(0xE0, 90000, 0, true, false, []byte{0x65})))
	b.Write(makePacket(0x100, 1, true, buildPESPacket(0xE0, 93003, 0, true, false, []byte{0x41})))

	var got []bool
	for _, u := range drain(t, NewDemuxer(b)) {
		if u.PES != nil {
			got = append(got, u.RandomAccess)
		}
	}
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("random access = %v, want [true false]", got)
	}
}

func TestDemuxer_M2TS(t *testing.T) {
	t.Parallel()
	var m2ts bytes.Buffer
	src := syntheticStream().Bytes()
	for off := 0; off < len(src); off += packetSize {
		m2ts.Write([]byte{0, 0, 0, 0})
		m2ts.Write(src[off : off+packetSize])
	}
	dmx := NewDemuxer(&m2ts, WithPacketSize(192))
	var pes int
	for _, u := range drain(t, dmx) {
		if u.PES != nil {
			pes++
		}
	}
	if pes != 4 {
		t.Errorf("PES count = %d, want 4", pes)
	}
	if want := int64(len(src) / packetSize * 192); dmx.BytesRead() != want {
		t.Errorf("BytesRead = %d, want %d", dmx.BytesRead(), want)
	}
}

func TestDemuxer_EOF(t *testing.T) {
	t.Parallel()
	dmx := NewDemuxer(bytes.NewReader(nil))
	for range 2 {
		if _, err := dmx.Next(); !errors.Is(err, io.EOF) {
			t.Errorf("err = %v, want io.EOF", err)
		}
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestDemuxer_ReadError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	if _, err := NewDemuxer(failingReader{boom}).Next(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestDemuxer_CorruptPacketSkipped(t *testing.T) {
	t.Parallel()
	b := newTSBuilder()
	b.psi(pidPAT, buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))
	b.Write(make([]byte, packetSize))
	b.psi(pidPAT, buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))

	var pats int
	for _, u := range drain(t, NewDemuxer(b)) {
		if u.PAT != nil {
			pats++
		}
	}
	if pats != 2 {
		t.Errorf("PATs = %d, want 2", pats)
	}
}
