package server

import (
	"time"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/player"
)

// StreamInfo is the JSON form of one catalog stream.
type StreamInfo struct {
	Index      int               `json:"index"`
	ID         int               `json:"id,omitempty"`
	Key        int               `json:"key"`
	Kind       string            `json:"kind"`
	Label      string            `json:"label"`
	Codec      string            `json:"codec,omitempty"`
	TimeBase   string            `json:"timeBase"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	SampleRate int               `json:"sampleRate,omitempty"`
	Channels   int               `json:"channels,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProgramInfo is the JSON form of one catalog program.
type ProgramInfo struct {
	ID       int               `json:"id"`
	Version  int               `json:"version"`
	Label    string            `json:"label"`
	Streams  []int             `json:"streams"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CatalogInfo is returned by GET /api/catalog.
type CatalogInfo struct {
	Streams  []StreamInfo  `json:"streams"`
	Programs []ProgramInfo `json:"programs"`
}

// SourceInfo describes the loaded source.
type SourceInfo struct {
	URI         string `json:"uri"`
	Kind        string `json:"kind"`
	ReadTimeout string `json:"readTimeout,omitempty"`
}

// StateInfo is returned by GET /api/state and by every control endpoint.
type StateInfo struct {
	State       player.State `json:"state"`
	Desired     player.State `json:"desired"`
	Source      *SourceInfo  `json:"source,omitempty"`
	Video       int          `json:"video"`
	Audio       int          `json:"audio"`
	ReadTimeout string       `json:"readTimeout"`
}

// EventMessage is pushed to websocket clients for every player event.
type EventMessage struct {
	Type     player.EventKind `json:"type"`
	State    player.State     `json:"state"`
	Locked   bool             `json:"locked,omitempty"`
	Streams  []StreamInfo     `json:"streams,omitempty"`
	Programs []ProgramInfo    `json:"programs,omitempty"`
	Levels   []float64        `json:"levels,omitempty"`
	At       int64            `json:"at"`
}

type openRequest struct {
	URI         string `json:"uri"`
	Kind        string `json:"kind,omitempty"`
	ReadTimeout string `json:"readTimeout,omitempty"`
}

type readTimeoutRequest struct {
	ReadTimeout string `json:"readTimeout"`
}

func streamInfo(sd catalog.StreamDescriptor) StreamInfo {
	return StreamInfo{
		Index:      sd.Index,
		ID:         sd.ID,
		Key:        sd.Key(),
		Kind:       sd.Kind.String(),
		Label:      sd.Label(),
		Codec:      sd.Params.Codec,
		TimeBase:   sd.TimeBase.String(),
		Width:      sd.Params.Width,
		Height:     sd.Params.Height,
		SampleRate: sd.Params.SampleRate,
		Channels:   sd.Params.Channels,
		Metadata:   sd.Metadata,
	}
}

func programInfo(pd catalog.ProgramDescriptor) ProgramInfo {
	streams := pd.Streams
	if streams == nil {
		streams = []int{}
	}
	return ProgramInfo{
		ID:       pd.ID,
		Version:  pd.Version,
		Label:    pd.Label(),
		Streams:  streams,
		Metadata: pd.Metadata,
	}
}

func streamInfos(sds []catalog.StreamDescriptor) []StreamInfo {
	out := make([]StreamInfo, 0, len(sds))
	for _, sd := range sds {
		out = append(out, streamInfo(sd))
	}
	return out
}

func programInfos(pds []catalog.ProgramDescriptor) []ProgramInfo {
	out := make([]ProgramInfo, 0, len(pds))
	for _, pd := range pds {
		out = append(out, programInfo(pd))
	}
	return out
}

func catalogInfo(s catalog.Snapshot) CatalogInfo {
	return CatalogInfo{Streams: streamInfos(s.Streams), Programs: programInfos(s.Programs)}
}

func eventMessage(ev player.Event) EventMessage {
	msg := EventMessage{
		Type:   ev.Kind,
		State:  ev.State,
		Locked: ev.Locked,
		Levels: ev.Levels,
		At:     ev.At.UnixMilli(),
	}
	switch ev.Kind {
	case player.EventStreams:
		msg.Streams = streamInfos(ev.Streams)
	case player.EventPrograms:
		msg.Programs = programInfos(ev.Programs)
	}
	return msg
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.String()
}
