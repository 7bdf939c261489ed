// Package sink receives decoded frames at the end of the playback
// pipeline. reel does not render; sinks write frames to files, logs or
// nowhere.
package sink

import (
	"errors"

	"github.com/zsiec/reel/internal/media"
)

// VideoSink consumes video frames in presentation order.
type VideoSink interface {
	WriteVideo(f *media.VideoFrame) error
}

// AudioSink consumes audio frames in presentation order.
type AudioSink interface {
	WriteAudio(f *media.AudioFrame) error
}

// CaptionSink consumes caption updates. pts is in the carrying video
// stream's time base.
type CaptionSink interface {
	WriteCaptions(pts int64, captions []media.Caption) error
}

// Null discards everything.
type Null struct{}

func (Null) WriteVideo(*media.VideoFrame) error         { return nil }
func (Null) WriteAudio(*media.AudioFrame) error         { return nil }
func (Null) WriteCaptions(int64, []media.Caption) error { return nil }
func (Null) Close() error                               { return nil }

// MultiVideo fans video frames out to every sink and joins their errors.
type MultiVideo []VideoSink

func (m MultiVideo) WriteVideo(f *media.VideoFrame) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteVideo(f))
	}
	return errors.Join(errs...)
}

// MultiAudio fans audio frames out to every sink and joins their errors.
type MultiAudio []AudioSink

func (m MultiAudio) WriteAudio(f *media.AudioFrame) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteAudio(f))
	}
	return errors.Join(errs...)
}

// MultiCaption fans caption updates out to every sink.
type MultiCaption []CaptionSink

func (m MultiCaption) WriteCaptions(pts int64, c []media.Caption) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteCaptions(pts, c))
	}
	return errors.Join(errs...)
}
