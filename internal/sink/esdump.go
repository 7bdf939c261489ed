package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// ESDump writes compressed frames back out as a raw elementary stream:
// Annex B for video, ADTS or MPEG audio frames for audio. Raw frames are
// skipped.
type ESDump struct {
	mu      sync.Mutex
	w       io.Writer
	written int64
}

// NewESDump returns a dump writing to w.
func NewESDump(w io.Writer) *ESDump {
	return &ESDump{w: w}
}

func (d *ESDump) WriteVideo(f *media.VideoFrame) error {
	if f.Format != media.PixelFormatAnnexB || len(f.Planes) == 0 {
		return nil
	}
	return d.write(f.Planes[0])
}

func (d *ESDump) WriteAudio(f *media.AudioFrame) error {
	if f.Format != media.SampleFormatEncoded || len(f.Data) == 0 {
		return nil
	}
	return d.write(f.Data[0])
}

func (d *ESDump) write(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.w.Write(b)
	d.written += int64(n)
	if err != nil {
		return fmt.Errorf("sink: es dump: %w", err)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (d *ESDump) Written() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}
