// Package h264 implements the H.264-specific RTP packetizer and
// depacketizer (spec §4.4): Annex-B start-code scanning, single-NAL
// packetization, and FU-A fragmentation/reassembly with loss detection.
package h264

import (
	"math/rand"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/rtp"
)

// fragmentationMargin leaves room below the hard MTU for lower-layer
// headers (IP/UDP) so a full-size RTP packet never needs IP fragmentation.
const fragmentationMargin = 28

// maxPayloadSize is the largest NAL body (or FU-A fragment) that fits in
// one RTP packet.
const maxPayloadSize = rtp.MTU - rtp.HeaderSize - fragmentationMargin

const nalTypeFUA = 28

// Packetizer turns an Annex-B H.264 bytestream into a sequence of RTP
// packets, fragmenting any NAL unit too large for one packet via FU-A.
type Packetizer struct {
	seq uint16
}

// NewPacketizer creates a Packetizer whose sequence numbers start at a
// random 16-bit value, as required by spec §4.4.
func NewPacketizer() *Packetizer {
	return &Packetizer{seq: uint16(rand.Intn(1 << 16))}
}

func (p *Packetizer) nextSeq() uint16 {
	s := p.seq
	p.seq++
	return s
}

// Packetize implements codec.Packetizer.
func (p *Packetizer) Packetize(accessUnit []byte, ts codec.Timestamps, endOfStream bool) ([][]byte, error) {
	nals := scanNALs(accessUnit)
	var out [][]byte
	for i, nal := range nals {
		if len(nal) == 0 {
			continue
		}
		isLastNAL := i == len(nals)-1
		if len(nal) <= maxPayloadSize {
			out = append(out, p.buildPacket(nal, ts, isLastNAL))
			continue
		}
		out = append(out, p.fragmentFUA(nal, ts, isLastNAL)...)
	}
	return out, nil
}

func (p *Packetizer) buildPacket(payload []byte, ts codec.Timestamps, marker bool) []byte {
	h := rtp.Header{
		SequenceNumber: p.nextSeq(),
		Timestamp:      ts.RTPTimestamp,
		SSRC:           ts.SSRC,
		PoseTimestamp:  ts.PoseTimestamp,
		FrameID:        ts.FrameID,
		PayloadType:    rtp.PayloadTypeH264,
		Marker:         marker,
	}
	buf := make([]byte, rtp.HeaderSize+len(payload))
	h.Marshal(buf)
	copy(buf[rtp.HeaderSize:], payload)
	return buf
}

// fragmentFUA splits one oversized NAL unit into FU-A fragments. The first
// fragment sets the S bit, the last sets the E bit; the FU indicator keeps
// the top 3 bits (F + NRI) of the original NAL header with type 28, and
// the FU header restores the original NAL type in its bottom 5 bits.
func (p *Packetizer) fragmentFUA(nal []byte, ts codec.Timestamps, isLastNAL bool) [][]byte {
	naluHeader := nal[0]
	fNRI := naluHeader & 0b11100000
	origType := naluHeader & 0b00011111
	body := nal[1:]

	chunkSize := maxPayloadSize - 2 // FU indicator + FU header
	var out [][]byte
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunk := body[offset:end]
		isStart := offset == 0
		isEnd := end == len(body)

		fuIndicator := fNRI | nalTypeFUA
		fuHeader := origType
		if isStart {
			fuHeader |= 0b10000000
		}
		if isEnd {
			fuHeader |= 0b01000000
		}

		payload := make([]byte, 2+len(chunk))
		payload[0] = fuIndicator
		payload[1] = fuHeader
		copy(payload[2:], chunk)

		marker := isEnd && isLastNAL
		out = append(out, p.buildPacket(payload, ts, marker))
	}
	return out
}

// findStartCode locates the next Annex-B start code at or after from,
// returning the index of its first zero byte (codeStart, handling both
// the 3- and 4-byte forms) and the index right after it (nalStart).
func findStartCode(data []byte, from int) (codeStart, nalStart int, ok bool) {
	for i := from; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			cs := i
			if cs > from && data[cs-1] == 0 {
				cs--
			}
			return cs, i + 3, true
		}
	}
	return -1, -1, false
}

// scanNALs splits an Annex-B bytestream into NAL unit bodies, each with
// its start code stripped.
func scanNALs(data []byte) [][]byte {
	_, nalStart, ok := findStartCode(data, 0)
	if !ok {
		return nil
	}
	var nals [][]byte
	for {
		codeStart, nextStart, ok2 := findStartCode(data, nalStart)
		end := len(data)
		if ok2 {
			end = codeStart
		}
		if end > nalStart {
			nals = append(nals, data[nalStart:end])
		}
		if !ok2 {
			break
		}
		nalStart = nextStart
	}
	return nals
}
