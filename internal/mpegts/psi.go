package mpegts

import (
	"fmt"
	"strings"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
	tableIDSDT = 0x42
)

// parsePSI decodes the sections of a table payload that starts with its
// pointer field. Unknown tables are skipped; sections decoded before a
// failure are still returned.
func parsePSI(pid uint16, payload []byte) ([]*Unit, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("mpegts: empty PSI payload on PID 0x%X", pid)
	}
	off := 1 + int(payload[0])
	var units []*Unit
	for off+3 <= len(payload) && payload[off] != 0xFF {
		// Stuffing has the section_syntax_indicator clear.
		if payload[off+1]&0x80 == 0 {
			break
		}
		end := off + 3 + sectionLength(payload[off:])
		if end > len(payload) {
			break
		}
		section := payload[off:end]
		off = end

		u := &Unit{PID: pid}
		var err error
		switch section[0] {
		case tableIDPAT:
			u.PAT, err = parsePATSection(section)
		case tableIDPMT:
			u.PMT, err = parsePMTSection(section)
		case tableIDSDT:
			u.SDT, err = parseSDTSection(section)
		default:
			continue
		}
		if err != nil {
			return units, err
		}
		units = append(units, u)
	}
	return units, nil
}

func sectionLength(b []byte) int {
	return int(b[1]&0x0F)<<8 | int(b[2])
}

// Long-form section header, shared by PAT, PMT and SDT:
//
//	[0]    table_id
//	[1-2]  syntax(1) zero(1) reserved(2) section_length(12)
//	[3-4]  table_id_extension
//	[5]    reserved(2) version(5) current_next(1)
//	[6]    section_number
//	[7]    last_section_number
//
// The section ends with a 4-byte CRC32.
const longHeaderLen = 8

func checkLongSection(name string, data []byte, minLen int) (body []byte, err error) {
	if err := checkSectionCRC(data); err != nil {
		return nil, fmt.Errorf("mpegts: %s %w", name, err)
	}
	if len(data) < minLen {
		return nil, fmt.Errorf("mpegts: %s too short", name)
	}
	end := 3 + sectionLength(data) - 4
	if end > len(data)-4 {
		end = len(data) - 4
	}
	return data[longHeaderLen:end], nil
}

func parsePATSection(data []byte) (*PAT, error) {
	body, err := checkLongSection("PAT", data, longHeaderLen+4)
	if err != nil {
		return nil, err
	}

	pat := &PAT{TransportStreamID: uint16(data[3])<<8 | uint16(data[4])}
	for i := 0; i+4 <= len(body); i += 4 {
		num := uint16(body[i])<<8 | uint16(body[i+1])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, Program{
			Number: num,
			PMTPID: uint16(body[i+2]&0x1F)<<8 | uint16(body[i+3]),
		})
	}
	return pat, nil
}

func parsePMTSection(data []byte) (*PMT, error) {
	body, err := checkLongSection("PMT", data, longHeaderLen+4+4)
	if err != nil {
		return nil, err
	}

	// body: PCR_PID(2) program_info_length(2) descriptors ES-loop
	pmt := &PMT{
		Program: uint16(data[3])<<8 | uint16(data[4]),
		Version: (data[5] >> 1) & 0x1F,
		PCRPID:  uint16(body[0]&0x1F)<<8 | uint16(body[1]),
	}
	infoLen := int(body[2]&0x0F)<<8 | int(body[3])
	offset := 4 + infoLen
	if offset > len(body) {
		return nil, fmt.Errorf("mpegts: PMT program_info_length out of range")
	}
	pmt.Descriptors = parseDescriptors(body[4:offset])

	for offset+5 <= len(body) {
		esInfoLen := int(body[offset+3]&0x0F)<<8 | int(body[offset+4])
		end := offset + 5 + esInfoLen
		if end > len(body) {
			end = len(body)
		}
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			PID:         uint16(body[offset+1]&0x1F)<<8 | uint16(body[offset+2]),
			StreamType:  body[offset],
			Descriptors: parseDescriptors(body[offset+5 : end]),
		})
		offset = end
	}
	return pmt, nil
}

func parseSDTSection(data []byte) (*SDT, error) {
	body, err := checkLongSection("SDT", data, longHeaderLen+3+4)
	if err != nil {
		return nil, err
	}

	// body: original_network_id(2) reserved(1) service-loop
	sdt := &SDT{TransportStreamID: uint16(data[3])<<8 | uint16(data[4])}
	offset := 3
	for offset+5 <= len(body) {
		id := uint16(body[offset])<<8 | uint16(body[offset+1])
		loopLen := int(body[offset+3]&0x0F)<<8 | int(body[offset+4])
		end := offset + 5 + loopLen
		if end > len(body) {
			break
		}
		svc := Service{ID: id}
		for _, d := range parseDescriptors(body[offset+5 : end]) {
			if d.Tag == DescriptorTagService {
				svc.Type, svc.Provider, svc.Name = parseServiceDescriptor(d.Data)
			}
		}
		sdt.Services = append(sdt.Services, svc)
		offset = end
	}
	return sdt, nil
}

func parseDescriptors(b []byte) []Descriptor {
	var ds []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		ds = append(ds, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return ds
}

// parseServiceDescriptor decodes a DVB service_descriptor body:
// service_type(1) provider_len(1) provider name_len(1) name.
func parseServiceDescriptor(b []byte) (svcType uint8, provider, name string) {
	if len(b) < 2 {
		return 0, "", ""
	}
	svcType = b[0]
	pl := int(b[1])
	if 2+pl >= len(b) {
		return svcType, "", ""
	}
	provider = dvbString(b[2 : 2+pl])
	nl := int(b[2+pl])
	start := 3 + pl
	if start+nl > len(b) {
		return svcType, provider, ""
	}
	return svcType, provider, dvbString(b[start : start+nl])
}

// dvbString drops a leading character-table selector byte and control
// codes from a DVB text field.
func dvbString(b []byte) string {
	if len(b) > 0 && b[0] < 0x20 {
		b = b[1:]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x80 && r < 0xA0) {
			return -1
		}
		return r
	}, string(b))
}
