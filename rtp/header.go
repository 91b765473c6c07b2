// Package rtp implements the RTP header used to transport video between
// server and client (spec §4.2/§6.2), its wrap-aware timestamp and
// sequence-number arithmetic, and the jitter-tolerant reorder buffer
// shared by every codec-specific depacketizer (spec §4.3).
//
// The wire header is the standard 12-byte RTP layout (V=2, no padding,
// extension or CSRC) followed by 8 bytes of application extension fields
// specific to this bridge.
package rtp

import "github.com/martindanhier/wvb/wire"

// HeaderSize is the size in bytes of the fixed RTP header plus the VR
// application extension fields (12 + 8).
const HeaderSize = 20

// firstByteBase is the only legal value of the first header byte: version
// 2, no padding, no extension, no CSRC.
const firstByteBase = 0b10000000

const markerBit = 0b10000000
const payloadTypeMask = 0b01111111

// PayloadType identifies the codec carried in an RTP packet. H.264 uses
// 97, from the dynamic range (96-127) reserved by RFC 3551. Opus is 143,
// which does not fit the 7-bit payload-type field: Marshal writes it as
// 143&0x7F and Parse never returns PayloadTypeOpus.
type PayloadType uint8

// Reserved payload types.
const (
	PayloadTypeInvalid PayloadType = 0
	PayloadTypeH264    PayloadType = 97
	PayloadTypeOpus    PayloadType = 143
)

// Header is the in-memory representation of the 20-byte wire header: the
// standard 12-byte RTP header plus this bridge's pose/frame-id extension.
type Header struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PoseTimestamp  uint32
	FrameID        uint32
	PayloadType    PayloadType
	Marker         bool
}

// Marshal writes the header into b[0:HeaderSize]. Panics if b is too
// short.
func (h Header) Marshal(b []byte) {
	b[0] = firstByteBase
	pt := byte(h.PayloadType) & payloadTypeMask
	if h.Marker {
		pt |= markerBit
	}
	b[1] = pt
	wire.PutU16(b[2:4], h.SequenceNumber)
	wire.PutU32(b[4:8], h.Timestamp)
	wire.PutU32(b[8:12], h.SSRC)
	wire.PutU32(b[12:16], h.PoseTimestamp)
	wire.PutU32(b[16:20], h.FrameID)
}

// Parse reads a Header from b. It returns false if b is too short or the
// first byte does not match the V=2-baseline this protocol requires.
func Parse(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	if b[0] != firstByteBase {
		return Header{}, false
	}
	var h Header
	h.Marker = b[1]&markerBit != 0
	switch b[1] & payloadTypeMask {
	case byte(PayloadTypeH264):
		h.PayloadType = PayloadTypeH264
	case byte(PayloadTypeOpus):
		h.PayloadType = PayloadTypeOpus
	default:
		h.PayloadType = PayloadTypeInvalid
	}
	h.SequenceNumber = wire.U16(b[2:4])
	h.Timestamp = wire.U32(b[4:8])
	h.SSRC = wire.U32(b[8:12])
	h.PoseTimestamp = wire.U32(b[12:16])
	h.FrameID = wire.U32(b[16:20])
	return h, true
}

// CompareTimestamps returns true if a happened before b, taking 32-bit
// wrap-around into account: (a - b) mod 2^32 > 2^31.
func CompareTimestamps(a, b uint32) bool {
	return (a - b) > 0x80000000
}

// TimestampDistanceAbsolute returns the unsigned circular distance between
// two RTP timestamps, treating the two halves of the 32-bit space
// symmetrically around the wrap boundary.
func TimestampDistanceAbsolute(a, b uint32) uint32 {
	switch {
	case a <= 0x40000000 && b >= 0xC0000000:
		return (^uint32(0) - b) + a + 1
	case b <= 0x40000000 && a >= 0xC0000000:
		return (^uint32(0) - a) + b + 1
	case a > b:
		return a - b
	default:
		return b - a
	}
}

// TimestampDistanceSigned returns high - small as a wrap-aware signed
// distance: negative when wrap-around reverses the apparent order.
func TimestampDistanceSigned(small, high uint32) int64 {
	switch {
	case small <= 0x40000000 && high >= 0xC0000000:
		return -int64((^uint32(0) - high) + small + 1)
	case high <= 0x40000000 && small >= 0xC0000000:
		return int64((^uint32(0) - small) + high + 1)
	default:
		return int64(high) - int64(small)
	}
}

// CompareSeq returns true if a happened before b, taking 16-bit wrap into
// account.
func CompareSeq(a, b uint16) bool {
	return (a - b) > 0x8000
}

// SeqDistance returns the forward circular distance from small to high:
// the number of sequence-number increments needed to walk from small to
// high, wrapping through 65535 if small > high.
func SeqDistance(small, high uint16) uint16 {
	if small <= high {
		return high - small
	}
	return (^uint16(0) - small) + high + 1
}
