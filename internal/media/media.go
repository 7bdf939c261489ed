// Package media defines the value types that flow through the reel playback
// engine, from container demultiplexing through decoding to the frame sinks.
package media

import (
	"fmt"
	"time"
)

// MediaKind classifies an elementary stream.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindVideo
	KindAudio
)

func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// ParseKind is the inverse of MediaKind.String.
func ParseKind(s string) (MediaKind, error) {
	switch s {
	case "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	case "other":
		return KindOther, nil
	}
	return KindOther, fmt.Errorf("media: unknown kind %q", s)
}

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// Common time bases.
var (
	MPEGTSTimeBase  = Rational{Num: 1, Den: 90000}
	MicrosecondBase = Rational{Num: 1, Den: 1000000}
)

// Valid reports whether r can be used to rescale timestamps.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts ts from time base r to time base to, rounding toward
// zero. The quotient and remainder are scaled separately so 33-bit MPEG
// timestamps converted to microseconds do not overflow.
func (r Rational) Rescale(ts int64, to Rational) int64 {
	if !r.Valid() || !to.Valid() {
		return 0
	}
	num := r.Num * to.Den
	den := r.Den * to.Num
	return (ts/den)*num + (ts%den)*num/den
}

// Duration converts ts in time base r to a time.Duration.
func (r Rational) Duration(ts int64) time.Duration {
	return time.Duration(r.Rescale(ts, MicrosecondBase)) * time.Microsecond
}

// Packet is one compressed, timestamped chunk of an elementary stream as
// produced by a container. Timestamps are in the owning stream's time base.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	HasPTS      bool
	HasDTS      bool
	Keyframe    bool
	Data        []byte
}

// DecodeTS returns the timestamp used for pacing: DTS when present,
// otherwise PTS. ok is false when the packet carries neither.
func (p *Packet) DecodeTS() (ts int64, ok bool) {
	switch {
	case p.HasDTS:
		return p.DTS, true
	case p.HasPTS:
		return p.PTS, true
	}
	return 0, false
}

// CodecParams describes how a stream's packets are encoded.
type CodecParams struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Width      int
	Height     int
	Extradata  []byte
}
