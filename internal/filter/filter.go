// Package filter implements the video post-processing chain applied to
// decoded pictures before they reach a sink.
package filter

import (
	"fmt"

	"github.com/zsiec/reel/internal/media"
)

// Stage transforms one frame. A stage that does not apply to a frame
// returns it unchanged.
type Stage interface {
	Name() string
	Apply(f *media.VideoFrame) (*media.VideoFrame, error)
}

// Chain runs stages in order.
type Chain []Stage

// DefaultChain is deinterlace followed by the PAL crop.
func DefaultChain() Chain {
	return Chain{Deinterlace{}, PALCrop{}}
}

// Apply runs every stage on f. Compressed frames pass through untouched.
func (c Chain) Apply(f *media.VideoFrame) (*media.VideoFrame, error) {
	if !f.Format.Raw() {
		return f, nil
	}
	for _, s := range c {
		out, err := s.Apply(f)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", s.Name(), err)
		}
		f = out
	}
	return f, nil
}

// planeGeometry returns the width and height of plane i.
func planeGeometry(f *media.VideoFrame, i int) (w, h int) {
	if f.Format == media.PixelFormatYUV420P && i > 0 {
		return (f.Width + 1) / 2, (f.Height + 1) / 2
	}
	return f.Width, f.Height
}

func checkPlanes(f *media.VideoFrame) error {
	if len(f.Planes) != len(f.Strides) {
		return fmt.Errorf("%d planes with %d strides", len(f.Planes), len(f.Strides))
	}
	for i, p := range f.Planes {
		w, h := planeGeometry(f, i)
		if f.Strides[i] < w || len(p) < f.Strides[i]*(h-1)+w {
			return fmt.Errorf("plane %d too small for %dx%d", i, w, h)
		}
	}
	return nil
}

// Deinterlace converts an interlaced frame to progressive by keeping the
// top field and interpolating the bottom field lines from their
// neighbours.
type Deinterlace struct{}

func (Deinterlace) Name() string { return "deinterlace" }

func (Deinterlace) Apply(f *media.VideoFrame) (*media.VideoFrame, error) {
	if !f.Interlaced {
		return f, nil
	}
	if err := checkPlanes(f); err != nil {
		return nil, err
	}
	out := *f
	out.Interlaced = false
	out.Planes = make([][]byte, len(f.Planes))
	for i, src := range f.Planes {
		w, h := planeGeometry(f, i)
		stride := f.Strides[i]
		dst := make([]byte, len(src))
		copy(dst, src)
		for y := 1; y < h; y += 2 {
			above := src[(y-1)*stride:]
			row := dst[y*stride:]
			if y+1 < h {
				below := src[(y+1)*stride:]
				for x := 0; x < w; x++ {
					row[x] = byte((int(above[x]) + int(below[x]) + 1) / 2)
				}
			} else {
				copy(row[:w], above[:w])
			}
		}
		out.Planes[i] = dst
	}
	return &out, nil
}

// PAL geometry handled by PALCrop.
const (
	palHeight     = 576
	palWideWidth  = 720
	palCropWidth  = 704
	palNarrowPad  = 2
	palWideShrink = 16
)

// PALCrop normalises 576-line pictures to the 704-pixel active width:
// 720x576 with a 16:11 sample aspect ratio is cropped to 704, narrower
// pictures gain two columns and wider ones lose sixteen.
type PALCrop struct{}

func (PALCrop) Name() string { return "crop" }

// TargetWidth returns the width PALCrop produces for a frame, and whether
// it changes anything.
func (PALCrop) TargetWidth(f *media.VideoFrame) (int, bool) {
	if f.Height != palHeight {
		return f.Width, false
	}
	switch {
	case f.Width == palWideWidth && f.SARNum == 16 && f.SARDen == 11:
		return palCropWidth, true
	case f.Width < palCropWidth:
		return f.Width + palNarrowPad, true
	case f.Width > palCropWidth:
		return f.Width - palWideShrink, true
	}
	return f.Width, false
}

func (c PALCrop) Apply(f *media.VideoFrame) (*media.VideoFrame, error) {
	target, ok := c.TargetWidth(f)
	if !ok {
		return f, nil
	}
	if err := checkPlanes(f); err != nil {
		return nil, err
	}
	out := *f
	out.Width = target
	out.Planes = make([][]byte, len(f.Planes))
	out.Strides = make([]int, len(f.Planes))
	for i, src := range f.Planes {
		srcW, h := planeGeometry(f, i)
		dstW, _ := planeGeometry(&out, i)
		left := 0
		if dstW < srcW {
			left = (srcW - dstW) / 2
		}
		dst := make([]byte, dstW*h)
		for y := 0; y < h; y++ {
			row := src[y*f.Strides[i]:]
			n := copy(dst[y*dstW:(y+1)*dstW], row[left:srcW])
			// Widened rows repeat the last source pixel.
			for x := n; x < dstW; x++ {
				dst[y*dstW+x] = row[srcW-1]
			}
		}
		out.Planes[i] = dst
		out.Strides[i] = dstW
	}
	return &out, nil
}
