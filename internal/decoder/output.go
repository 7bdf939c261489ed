package decoder

import (
	"fmt"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/filter"
	"github.com/zsiec/reel/internal/level"
	"github.com/zsiec/reel/internal/sink"
)

// AudioOutput interleaves planar audio, feeds the level meter and
// forwards frames to the audio sink. Meter and Sink may be nil.
type AudioOutput struct {
	Meter *level.Meter
	Sink  sink.AudioSink
}

func (o *AudioOutput) WriteFrame(f codec.Frame) error {
	if f.Audio == nil {
		return fmt.Errorf("decoder: audio output got a non-audio frame")
	}
	a := f.Audio.Interleave()
	if o.Meter != nil {
		o.Meter.Push(a)
	}
	if o.Sink == nil {
		return nil
	}
	return o.Sink.WriteAudio(a)
}

// VideoOutput runs raw frames through the filter chain and
// forwards them to the video sink. Captions carried on a frame go to the
// caption sink. Any field may be nil.
type VideoOutput struct {
	Chain    filter.Chain
	Sink     sink.VideoSink
	Captions sink.CaptionSink
}

func (o *VideoOutput) WriteFrame(f codec.Frame) error {
	v := f.Video
	if v == nil {
		return fmt.Errorf("decoder: video output got a non-video frame")
	}
	if len(v.Captions) > 0 && o.Captions != nil {
		if err := o.Captions.WriteCaptions(v.PTS, v.Captions); err != nil {
			return err
		}
	}
	if v.Format.Raw() && len(o.Chain) > 0 {
		out, err := o.Chain.Apply(v)
		if err != nil {
			return fmt.Errorf("decoder: filter: %w", err)
		}
		v = out
	}
	if o.Sink == nil {
		return nil
	}
	return o.Sink.WriteVideo(v)
}
