// Package mpegts parses MPEG transport streams into program tables and
// reassembled PES payloads. It understands the PAT, the PMT (including
// elementary stream descriptors) and the DVB SDT, which together are enough
// to build a stream and program catalog for playback.
package mpegts

// Unit is one table section or PES packet read from the stream. Exactly
// one of PAT, PMT, SDT or PES is non-nil.
type Unit struct {
	PID uint16

	// RandomAccess mirrors the random_access_indicator of the packet that
	// started the unit.
	RandomAccess bool

	PAT *PAT
	PMT *PMT
	SDT *SDT
	PES *PES
}

// PAT is the Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Programs          []Program
}

// Program maps a program number to the PID carrying its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT is the Program Map Table of one program.
type PMT struct {
	Program     uint16
	Version     uint8
	PCRPID      uint16
	Descriptors []Descriptor
	Streams     []ElementaryStream
}

// ElementaryStream is one entry of a PMT's stream loop.
type ElementaryStream struct {
	PID         uint16
	StreamType  uint8
	Descriptors []Descriptor
}

// Language returns the ISO 639 code from the stream's descriptors, or "".
func (es *ElementaryStream) Language() string {
	if d, ok := es.descriptor(DescriptorTagISO639); ok && len(d.Data) >= 3 {
		return string(d.Data[:3])
	}
	return ""
}

// HasDescriptor reports whether a descriptor with the given tag is present.
func (es *ElementaryStream) HasDescriptor(tag uint8) bool {
	_, ok := es.descriptor(tag)
	return ok
}

func (es *ElementaryStream) descriptor(tag uint8) (Descriptor, bool) {
	for _, d := range es.Descriptors {
		if d.Tag == tag {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Descriptor is a raw tag/length/value descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

const (
	DescriptorTagISO639   = 0x0A
	DescriptorTagTeletext = 0x56
	DescriptorTagService  = 0x48
	DescriptorTagSubtitle = 0x59
	DescriptorTagAC3      = 0x6A
	DescriptorTagEAC3     = 0x7A
)

// SDT is the DVB Service Description Table.
type SDT struct {
	TransportStreamID uint16
	Services          []Service
}

// Service names one program of the transport stream.
type Service struct {
	ID       uint16
	Type     uint8
	Provider string
	Name     string
}

// PES is a reassembled elementary stream packet. PTS and DTS are 33-bit
// values on the 90 kHz clock.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	HasPTS   bool
	HasDTS   bool
	Data     []byte
}
