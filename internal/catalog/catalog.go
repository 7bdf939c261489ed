// Package catalog holds the stream and program tables discovered when a
// source is opened. Programs reference streams by index only; the catalog
// owns stream lifetime.
package catalog

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// Metadata keys shared by containers and labels.
const (
	MetaLanguage    = "language"
	MetaTitle       = "title"
	MetaServiceName = "service_name"
	MetaProvider    = "service_provider"
	MetaArtist      = "artist"
	MetaAlbum       = "album"
)

// SourceKind distinguishes local files from live network streams.
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceStream
)

func (k SourceKind) String() string {
	if k == SourceStream {
		return "stream"
	}
	return "file"
}

// Source identifies what to play. It is fixed for the lifetime of a
// playback session.
type Source struct {
	URI         string
	Kind        SourceKind
	ReadTimeout time.Duration
}

// SourceFor describes uri, treating udp:// and srt:// as live streams and
// anything else as a file.
func SourceFor(uri string) Source {
	src := Source{URI: uri}
	if u, err := url.Parse(uri); err == nil && (u.Scheme == "udp" || u.Scheme == "srt") {
		src.Kind = SourceStream
	}
	return src
}

// StreamDescriptor describes one elementary stream of an open source.
type StreamDescriptor struct {
	Index    int
	ID       int
	Kind     media.MediaKind
	TimeBase media.Rational
	Params   media.CodecParams
	Metadata map[string]string
}

// Key identifies the stream for selection widgets: the container id when
// set, otherwise the index.
func (s StreamDescriptor) Key() int {
	if s.ID != 0 {
		return s.ID
	}
	return s.Index
}

// Label renders "id - language - title", skipping empty parts. Streams
// without any of these are labelled by index.
func (s StreamDescriptor) Label() string {
	var parts []string
	if s.ID != 0 {
		parts = append(parts, strconv.Itoa(s.ID))
	}
	for _, k := range []string{MetaLanguage, MetaTitle} {
		if v := s.Metadata[k]; v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return strconv.Itoa(s.Index)
	}
	return strings.Join(parts, " - ")
}

func (s StreamDescriptor) clone() StreamDescriptor {
	s.Metadata = maps.Clone(s.Metadata)
	s.Params.Extradata = slices.Clone(s.Params.Extradata)
	return s
}

// ProgramDescriptor groups streams into a logical service.
type ProgramDescriptor struct {
	ID       int
	Version  int
	Streams  []int
	Metadata map[string]string
}

// Label renders "id - service_name", or just the id.
func (p ProgramDescriptor) Label() string {
	if name := p.Metadata[MetaServiceName]; name != "" {
		return fmt.Sprintf("%d - %s", p.ID, name)
	}
	return strconv.Itoa(p.ID)
}

func (p ProgramDescriptor) clone() ProgramDescriptor {
	p.Streams = slices.Clone(p.Streams)
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

// None is returned by selection queries that find no match.
const None = -1

// Catalog is the stream/program table of one session. It is owned by the
// playback worker; other goroutines read it through Snapshot.
type Catalog struct {
	streams  []StreamDescriptor
	programs []ProgramDescriptor
}

// Build replaces the catalog contents. Stream indices must equal their
// position in streams; program stream references must be in range.
func (c *Catalog) Build(streams []StreamDescriptor, programs []ProgramDescriptor) error {
	for i, s := range streams {
		if s.Index != i {
			return fmt.Errorf("catalog: stream at position %d has index %d", i, s.Index)
		}
	}
	for _, p := range programs {
		for _, idx := range p.Streams {
			if idx < 0 || idx >= len(streams) {
				return fmt.Errorf("catalog: program %d references stream %d of %d", p.ID, idx, len(streams))
			}
		}
	}
	c.streams = streams
	c.programs = programs
	return nil
}

// Reset clears both tables.
func (c *Catalog) Reset() {
	c.streams = nil
	c.programs = nil
}

// Len returns the number of streams.
func (c *Catalog) Len() int {
	return len(c.streams)
}

// Stream returns the stream at index i.
func (c *Catalog) Stream(i int) (StreamDescriptor, bool) {
	if i < 0 || i >= len(c.streams) {
		return StreamDescriptor{}, false
	}
	return c.streams[i], true
}

// Program returns the program with the given id.
func (c *Catalog) Program(id int) (ProgramDescriptor, bool) {
	for _, p := range c.programs {
		if p.ID == id {
			return p, true
		}
	}
	return ProgramDescriptor{}, false
}

// HasKind reports whether any stream is of kind k.
func (c *Catalog) HasKind(k media.MediaKind) bool {
	return c.FirstOfKind(k) != None
}

// FirstOfKind returns the lowest stream index of kind k, or None.
func (c *Catalog) FirstOfKind(k media.MediaKind) int {
	for _, s := range c.streams {
		if s.Kind == k {
			return s.Index
		}
	}
	return None
}

// FirstOfKindInProgram returns the lowest index of kind k among the
// streams of program id, or None.
func (c *Catalog) FirstOfKindInProgram(id int, k media.MediaKind) int {
	p, ok := c.Program(id)
	if !ok {
		return None
	}
	best := None
	for _, idx := range p.Streams {
		if sd, ok := c.Stream(idx); ok && sd.Kind == k && (best == None || idx < best) {
			best = idx
		}
	}
	return best
}

// Snapshot is a deep copy of a catalog, safe to share across goroutines.
type Snapshot struct {
	Streams  []StreamDescriptor
	Programs []ProgramDescriptor
}

// Snapshot copies the current tables. Empty tables yield non-nil empty
// slices so observers can tell a cleared catalog from no event.
func (c *Catalog) Snapshot() Snapshot {
	s := Snapshot{
		Streams:  make([]StreamDescriptor, 0, len(c.streams)),
		Programs: make([]ProgramDescriptor, 0, len(c.programs)),
	}
	for _, sd := range c.streams {
		s.Streams = append(s.Streams, sd.clone())
	}
	for _, pd := range c.programs {
		s.Programs = append(s.Programs, pd.clone())
	}
	return s
}
