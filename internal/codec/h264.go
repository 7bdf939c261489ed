package codec

import (
	"fmt"

	"github.com/zsiec/reel/internal/media"
)

// Video codec names.
const (
	H264 = "h264"
	HEVC = "hevc"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// SPS holds the fields of an H.264 sequence parameter set that playback
// needs.
type SPS struct {
	ProfileIDC   uint8
	LevelIDC     uint8
	Width        int
	Height       int
	FrameMBsOnly bool
	SARNum       int
	SARDen       int
}

// Interlaced reports whether the sequence may carry field-coded pictures.
func (s SPS) Interlaced() bool {
	return !s.FrameMBsOnly
}

// sarTable maps aspect_ratio_idc 1..16 to sample aspect ratios
// (ITU-T H.264 Table E-1).
var sarTable = [...][2]int{
	{0, 0}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2}, {2, 1},
}

var highProfiles = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an SPS NAL unit (header byte included, start code
// excluded).
func ParseSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, errShortRBSP
	}
	r := &rbspReader{buf: unescapeRBSP(nal[1:])}
	var s SPS

	profile, _ := r.u(8)
	r.u(8) // constraint flags
	level, _ := r.u(8)
	s.ProfileIDC, s.LevelIDC = uint8(profile), uint8(level)
	if _, err := r.ue(); err != nil { // seq_parameter_set_id
		return SPS{}, err
	}

	chromaFormat := uint32(1)
	separatePlanes := false
	if highProfiles[profile] {
		var err error
		if chromaFormat, err = r.ue(); err != nil {
			return SPS{}, err
		}
		if chromaFormat == 3 {
			separatePlanes, _ = r.flag()
		}
		r.ue() // bit_depth_luma_minus8
		r.ue() // bit_depth_chroma_minus8
		r.u(1) // qpprime_y_zero_transform_bypass_flag
		if present, _ := r.flag(); present {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := range lists {
				if listPresent, _ := r.flag(); listPresent {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return SPS{}, err
					}
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	pocType, err := r.ue()
	if err != nil {
		return SPS{}, err
	}
	switch pocType {
	case 0:
		r.ue()
	case 1:
		r.u(1)
		r.se()
		r.se()
		n, err := r.ue()
		if err != nil {
			return SPS{}, err
		}
		for range n {
			r.se()
		}
	}
	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMBs, _ := r.ue()
	heightMapUnits, _ := r.ue()
	s.FrameMBsOnly, err = r.flag()
	if err != nil {
		return SPS{}, err
	}
	if !s.FrameMBsOnly {
		r.u(1) // mb_adaptive_frame_field_flag
	}
	r.u(1) // direct_8x8_inference_flag

	var crop [4]uint32 // left, right, top, bottom
	if cropping, _ := r.flag(); cropping {
		for i := range crop {
			if crop[i], err = r.ue(); err != nil {
				return SPS{}, err
			}
		}
	}

	subW, subH := uint32(2), uint32(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subW, subH = 1, 1
	case chromaFormat == 2:
		subH = 1
	}
	fieldMul := uint32(2)
	if s.FrameMBsOnly {
		fieldMul = 1
	}
	s.Width = int((widthMBs+1)*16 - subW*(crop[0]+crop[1]))
	s.Height = int((heightMapUnits+1)*16*fieldMul - subH*fieldMul*(crop[2]+crop[3]))

	s.SARNum, s.SARDen = 1, 1
	if vui, _ := r.flag(); vui {
		if arPresent, _ := r.flag(); arPresent {
			idc, _ := r.u(8)
			switch {
			case idc == 255:
				n, _ := r.u(16)
				d, err := r.u(16)
				if err == nil && n > 0 && d > 0 {
					s.SARNum, s.SARDen = int(n), int(d)
				}
			case idc > 0 && int(idc) < len(sarTable):
				s.SARNum, s.SARDen = sarTable[idc][0], sarTable[idc][1]
			}
		}
	}
	if s.Width <= 0 || s.Height <= 0 {
		return SPS{}, fmt.Errorf("codec: SPS yields %dx%d", s.Width, s.Height)
	}
	return s, nil
}

func skipScalingList(r *rbspReader, size int) error {
	last, next := int32(8), int32(8)
	for range size {
		if next != 0 {
			delta, err := r.se()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

// SplitH264 splits an H.264 Annex B access unit into NAL units.
func SplitH264(b []byte) []NALUnit {
	return splitAnnexB(b, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// H264Codec parses Annex B access units, tracks the active SPS and
// extracts CEA-608/708 captions from SEI.
type H264Codec struct {
	frameQueue
	sps      *SPS
	captions *captionExtractor
	frames   int
}

// NewH264 returns an unconfigured H.264 codec.
func NewH264() *H264Codec {
	return &H264Codec{captions: newCaptionExtractor()}
}

func (c *H264Codec) Configure(p media.CodecParams, _ media.Rational) error {
	for _, nal := range SplitH264(p.Extradata) {
		if nal.Type == NALTypeSPS {
			if sps, err := ParseSPS(nal.Data); err == nil {
				c.sps = &sps
			}
		}
	}
	return nil
}

func (c *H264Codec) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		c.draining = true
		return nil
	}
	nals := SplitH264(pkt.Data)
	if len(nals) == 0 {
		return fmt.Errorf("codec: h264 packet has no NAL units")
	}

	f := &media.VideoFrame{
		PTS:    pkt.PTS,
		Codec:  H264,
		Format: media.PixelFormatAnnexB,
		Planes: [][]byte{pkt.Data},
	}
	for _, nal := range nals {
		switch nal.Type {
		case NALTypeSPS:
			sps, err := ParseSPS(nal.Data)
			if err != nil {
				return fmt.Errorf("codec: h264 SPS: %w", err)
			}
			c.sps = &sps
		case NALTypeIDR:
			f.Keyframe = true
		case NALTypeSEI:
			f.Captions = append(f.Captions, c.captions.extract(nal.Data, c.frames)...)
		}
	}
	if c.sps != nil {
		f.Width, f.Height = c.sps.Width, c.sps.Height
		f.SARNum, f.SARDen = c.sps.SARNum, c.sps.SARDen
		f.Interlaced = c.sps.Interlaced()
	}
	c.frames++
	c.push(Frame{Video: f})
	return nil
}

func (c *H264Codec) Close() error {
	c.reset()
	c.sps = nil
	c.captions = newCaptionExtractor()
	return nil
}

// HEVC NAL unit types used for keyframe detection.
const (
	HEVCNALBlaWLP = 16
	HEVCNALCraNut = 21
	HEVCNALVPS    = 32
	HEVCNALSPS    = 33
	HEVCNALPPS    = 34
)

// SplitHEVC splits an HEVC Annex B access unit into NAL units.
func SplitHEVC(b []byte) []NALUnit {
	return splitAnnexB(b, 2, func(d []byte) byte { return (d[0] >> 1) & 0x3F })
}

// HEVCCodec parses HEVC Annex B access units.
type HEVCCodec struct {
	frameQueue
}

// NewHEVC returns an unconfigured HEVC codec.
func NewHEVC() *HEVCCodec {
	return &HEVCCodec{}
}

func (c *HEVCCodec) Configure(media.CodecParams, media.Rational) error { return nil }

func (c *HEVCCodec) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		c.draining = true
		return nil
	}
	nals := SplitHEVC(pkt.Data)
	if len(nals) == 0 {
		return fmt.Errorf("codec: hevc packet has no NAL units")
	}
	f := &media.VideoFrame{PTS: pkt.PTS, Codec: HEVC, Format: media.PixelFormatAnnexB, Planes: [][]byte{pkt.Data}}
	for _, nal := range nals {
		if nal.Type >= HEVCNALBlaWLP && nal.Type <= HEVCNALCraNut {
			f.Keyframe = true
		}
	}
	c.push(Frame{Video: f})
	return nil
}

func (c *HEVCCodec) Close() error {
	c.reset()
	return nil
}
