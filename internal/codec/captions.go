package codec

import (
	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/internal/media"
)

// DTVCC services are reported on channels 7..12, after the four CEA-608
// channels.
const dtvccChannelOffset = 6

// captionExtractor decodes CEA-608 pairs and CEA-708 service blocks carried
// in H.264 SEI user data.
type captionExtractor struct {
	dec608 map[int]*ccx.CEA608Decoder
	svc708 map[int]*ccx.CEA708Service
	dtvcc  []byte

	// CEA-608 control codes are sent twice; the repeat is dropped when it
	// arrives within two frames on the same field.
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int
}

func newCaptionExtractor() *captionExtractor {
	e := &captionExtractor{
		dec608: make(map[int]*ccx.CEA608Decoder, 4),
		svc708: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		e.dec608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		e.svc708[svc] = ccx.NewCEA708Service()
	}
	return e
}

func (e *captionExtractor) extract(sei []byte, frame int) []media.Caption {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}

	var out []media.Caption
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if cc1 >= 0x10 && cc1 <= 0x1F {
			code := [2]byte{cc1, cc2}
			if e.lastWasCtrl[f] && e.lastCtrl[f] == code && frame-e.lastCtrlFrame[f] <= 2 {
				e.lastWasCtrl[f] = false
				continue
			}
			e.lastCtrl[f], e.lastWasCtrl[f], e.lastCtrlFrame[f] = code, true, frame
		} else {
			e.lastWasCtrl[f] = false
		}

		dec := e.dec608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			out = append(out, media.Caption{Channel: pair.Channel, Text: text})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = append(out, e.flushDTVCC()...)
			e.dtvcc = e.dtvcc[:0]
		}
		e.dtvcc = append(e.dtvcc, t.Data[0], t.Data[1])
	}
	return out
}

func (e *captionExtractor) flushDTVCC() []media.Caption {
	if len(e.dtvcc) == 0 {
		return nil
	}
	size := ccx.DTVCCPacketSize(e.dtvcc[0])
	if len(e.dtvcc) < size {
		return nil
	}
	var out []media.Caption
	for _, block := range ccx.ParseDTVCCPacket(e.dtvcc[:size]) {
		svc := e.svc708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			out = append(out, media.Caption{Channel: block.ServiceNum + dtvccChannelOffset, Text: text})
		}
	}
	return out
}
