package catalog

import (
	"slices"
	"testing"

	"github.com/zsiec/reel/internal/media"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	streams := []StreamDescriptor{
		{Index: 0, ID: 0x100, Kind: media.KindVideo},
		{Index: 1, ID: 0x101, Kind: media.KindAudio, Metadata: map[string]string{MetaLanguage: "eng"}},
		{Index: 2, ID: 0x200, Kind: media.KindVideo},
		{Index: 3, ID: 0x201, Kind: media.KindAudio, Metadata: map[string]string{MetaLanguage: "deu", MetaTitle: "Commentary"}},
		{Index: 4, ID: 0x202, Kind: media.KindOther},
	}
	programs := []ProgramDescriptor{
		{ID: 1, Streams: []int{0, 1}, Metadata: map[string]string{MetaServiceName: "News"}},
		{ID: 2, Streams: []int{4, 3, 2}},
	}
	var c Catalog
	if err := c.Build(streams, programs); err != nil {
		t.Fatal(err)
	}
	return &c
}

func TestCatalog_FirstOfKind(t *testing.T) {
	t.Parallel()
	c := testCatalog(t)
	tests := []struct {
		kind media.MediaKind
		want int
	}{
		{media.KindVideo, 0},
		{media.KindAudio, 1},
		{media.KindOther, 4},
	}
	for _, tt := range tests {
		if got := c.FirstOfKind(tt.kind); got != tt.want {
			t.Errorf("FirstOfKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}

	var empty Catalog
	if got := empty.FirstOfKind(media.KindVideo); got != None {
		t.Errorf("empty FirstOfKind = %d, want None", got)
	}
}

func TestCatalog_FirstOfKindInProgram(t *testing.T) {
	t.Parallel()
	c := testCatalog(t)
	tests := []struct {
		program int
		kind    media.MediaKind
		want    int
	}{
		{1, media.KindVideo, 0},
		{1, media.KindAudio, 1},
		{1, media.KindOther, None},
		{2, media.KindVideo, 2},
		{2, media.KindAudio, 3},
		{9, media.KindVideo, None},
	}
	for _, tt := range tests {
		if got := c.FirstOfKindInProgram(tt.program, tt.kind); got != tt.want {
			t.Errorf("FirstOfKindInProgram(%d, %v) = %d, want %d", tt.program, tt.kind, got, tt.want)
		}
	}
}

func TestCatalog_BuildRejectsBadIndices(t *testing.T) {
	t.Parallel()
	var c Catalog
	if err := c.Build([]StreamDescriptor{{Index: 1}}, nil); err == nil {
		t.Error("expected error for misplaced stream index")
	}
	err := c.Build([]StreamDescriptor{{Index: 0}}, []ProgramDescriptor{{ID: 1, Streams: []int{0, 1}}})
	if err == nil {
		t.Error("expected error for out-of-range program stream")
	}
	if c.Len() != 0 {
		t.Errorf("failed Build left %d streams", c.Len())
	}
}

func TestCatalog_SnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()
	c := testCatalog(t)
	snap := c.Snapshot()
	snap.Streams[1].Metadata[MetaLanguage] = "fra"
	snap.Programs[0].Streams[0] = 3

	s, _ := c.Stream(1)
	if s.Metadata[MetaLanguage] != "eng" {
		t.Errorf("snapshot mutation leaked into catalog: %q", s.Metadata[MetaLanguage])
	}
	p, _ := c.Program(1)
	if !slices.Equal(p.Streams, []int{0, 1}) {
		t.Errorf("program streams = %v, want [0 1]", p.Streams)
	}

	c.Reset()
	empty := c.Snapshot()
	if empty.Streams == nil || empty.Programs == nil || len(empty.Streams) != 0 {
		t.Errorf("reset snapshot = %+v, want empty non-nil slices", empty)
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()
	c := testCatalog(t)
	tests := []struct {
		idx  int
		want string
	}{
		{0, "256"},
		{1, "257 - eng"},
		{3, "513 - deu - Commentary"},
	}
	for _, tt := range tests {
		s, _ := c.Stream(tt.idx)
		if got := s.Label(); got != tt.want {
			t.Errorf("stream %d label = %q, want %q", tt.idx, got, tt.want)
		}
	}
	if got := (StreamDescriptor{Index: 7}).Label(); got != "7" {
		t.Errorf("bare label = %q, want 7", got)
	}
	if got := (StreamDescriptor{Index: 7}).Key(); got != 7 {
		t.Errorf("bare key = %d, want 7", got)
	}

	p1, _ := c.Program(1)
	p2, _ := c.Program(2)
	if p1.Label() != "1 - News" || p2.Label() != "2" {
		t.Errorf("program labels = %q, %q", p1.Label(), p2.Label())
	}
}

func TestNotifier(t *testing.T) {
	t.Parallel()
	c := testCatalog(t)
	var n Notifier
	var gotStreams, gotPrograms int
	unsub := n.Subscribe(ObserverFuncs{
		Streams:  func(s []StreamDescriptor) { gotStreams = len(s) },
		Programs: func(p []ProgramDescriptor) { gotPrograms = len(p) },
	})
	n.Publish(c)
	if gotStreams != 5 || gotPrograms != 2 {
		t.Errorf("published %d streams, %d programs; want 5, 2", gotStreams, gotPrograms)
	}

	unsub()
	c.Reset()
	n.Publish(c)
	if gotStreams != 5 {
		t.Error("observer called after unsubscribe")
	}
}

func TestSourceFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		uri  string
		want SourceKind
	}{
		{"udp://239.1.1.1:5000", SourceStream},
		{"udp://@:1234?fifo_size=4096", SourceStream},
		{"srt://host:9000?streamid=live", SourceStream},
		{"/media/clip.ts", SourceFile},
		{"file:///media/clip.ts", SourceFile},
		{`C:\media\clip.ts`, SourceFile},
	}
	for _, tt := range tests {
		got := SourceFor(tt.uri)
		if got.Kind != tt.want || got.URI != tt.uri {
			t.Errorf("SourceFor(%q) = %+v, want kind %v", tt.uri, got, tt.want)
		}
	}
}
