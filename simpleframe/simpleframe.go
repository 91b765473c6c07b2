// Package simpleframe implements the Simple (TCP) packetizer and
// depacketizer: a length-prefixed framing used when the video transport
// falls back to TCP instead of RTP/UDP (spec §4.5).
package simpleframe

import (
	"errors"
	"sync"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/wire"
)

// HeaderSize is the fixed 20-byte header prepended to every frame,
// matching the padded SimpleHeader struct layout (spec §4.5, §6.3).
const HeaderSize = 20

// Flag bits carried in the header's flags byte.
const (
	FlagEndOfFrame  uint8 = 0b001
	FlagSaveFrame   uint8 = 0b010
	FlagEndOfStream uint8 = 0b100
)

// FramebufferCount is the size of the depacketizer's completed-frame
// ring buffer. It decouples the network read loop (Feed) from the
// consumer (ReceiveFrame/ReleaseFrame): if the consumer falls behind,
// the oldest unconsumed frame is dropped to make room, per spec §4.5's
// catch-up note, rather than growing without bound.
const FramebufferCount = 10

// CatchUpThreshold is the ring occupancy at or above which the
// depacketizer starts dropping the oldest frame per newly completed one,
// instead of only when genuinely full. Zero disables the policy, which
// is the default: catch-up is an opt-in latency/completeness tradeoff.
var CatchUpThreshold = 0

// ErrShortBuffer indicates data does not yet contain a full header.
var ErrShortBuffer = errors.New("simpleframe: buffer shorter than header")

// Header is the 20-byte Simple framing header:
// size(u32, includes this header) sample_timestamp(u32) pose_timestamp(u32)
// frame_id(u32) flags(u8) + 3 bytes of struct padding.
type Header struct {
	Size            uint32
	SampleTimestamp uint32
	PoseTimestamp   uint32
	FrameID         uint32
	Flags           uint8
}

func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	wire.PutU32(b[0:4], h.Size)
	wire.PutU32(b[4:8], h.SampleTimestamp)
	wire.PutU32(b[8:12], h.PoseTimestamp)
	wire.PutU32(b[12:16], h.FrameID)
	b[16] = h.Flags
	return b
}

func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Size:            wire.U32(data[0:4]),
		SampleTimestamp: wire.U32(data[4:8]),
		PoseTimestamp:   wire.U32(data[8:12]),
		FrameID:         wire.U32(data[12:16]),
		Flags:           data[16],
	}, nil
}

// Packetizer prepends the Simple header to each outgoing frame; no
// fragmentation is needed since TCP handles reassembly, unlike the
// UDP/RTP path.
type Packetizer struct {
	nextFrameID uint32
}

// NewPacketizer creates a Simple-framing packetizer.
func NewPacketizer() *Packetizer { return &Packetizer{} }

// Packetize returns one wire buffer: header followed by the frame bytes.
func (p *Packetizer) Packetize(frame []byte, ts codec.Timestamps, endOfStream bool) []byte {
	flags := FlagEndOfFrame
	if endOfStream {
		flags |= FlagEndOfStream
	}
	h := Header{
		Size:            uint32(HeaderSize + len(frame)),
		SampleTimestamp: ts.RTPTimestamp,
		PoseTimestamp:   ts.PoseTimestamp,
		FrameID:         p.nextFrameID,
		Flags:           flags,
	}
	p.nextFrameID++
	out := h.Marshal()
	return append(out, frame...)
}

// Frame is one reassembled Simple-framed unit, along with its header.
type Frame struct {
	Header Header
	Data   []byte
}

// Depacketizer reassembles frames from an arbitrarily-segmented TCP byte
// stream and queues completed frames in a bounded ring, matching the
// original's receive_frame_data/release_frame_data locked-handoff
// pattern: the network goroutine calls Feed, a consumer calls
// ReceiveFrame/ReleaseFrame (or registers a codec.FrameSink for a
// push-style consumer).
type Depacketizer struct {
	mu   sync.Mutex
	buf  []byte
	ring []Frame

	sink codec.FrameSink

	dropped uint64
}

// NewDepacketizer creates a Simple-framing depacketizer. Completed frames
// are queued in the ring for ReceiveFrame/ReleaseFrame-style pull
// consumption whether or not a sink is set; sink may be nil, in which
// case the ring is the only way to consume them.
func NewDepacketizer(sink codec.FrameSink) *Depacketizer {
	return &Depacketizer{sink: sink}
}

// Feed appends newly received bytes and completes any frames that result.
func (d *Depacketizer) Feed(data []byte) error {
	d.mu.Lock()
	d.buf = append(d.buf, data...)
	var completed []Frame
	for {
		if len(d.buf) < HeaderSize {
			break
		}
		h, err := ParseHeader(d.buf)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		if h.Size < HeaderSize {
			d.mu.Unlock()
			return ErrShortBuffer
		}
		total := int(h.Size)
		if len(d.buf) < total {
			break
		}
		frame := make([]byte, total-HeaderSize)
		copy(frame, d.buf[HeaderSize:total])
		d.buf = append([]byte(nil), d.buf[total:]...)
		completed = append(completed, Frame{Header: h, Data: frame})
	}
	for _, f := range completed {
		d.enqueueLocked(f)
	}
	sink := d.sink
	d.mu.Unlock()

	if sink != nil {
		for _, f := range completed {
			sink.OnFrame(f.Data, f.Header.PoseTimestamp, f.Header.FrameID, f.Header.Flags&FlagEndOfStream != 0)
		}
	}
	return nil
}

// enqueueLocked appends a completed frame to the ring, applying the
// catch-up drop policy when CatchUpThreshold is non-zero, and the
// hard FramebufferCount cap regardless.
func (d *Depacketizer) enqueueLocked(f Frame) {
	if CatchUpThreshold > 0 && len(d.ring) >= CatchUpThreshold {
		d.ring = d.ring[1:]
		d.dropped++
	}
	if len(d.ring) >= FramebufferCount {
		d.ring = d.ring[1:]
		d.dropped++
	}
	d.ring = append(d.ring, f)
}

// ReceiveFrame returns the oldest queued frame without removing it, and
// whether one was available. Pair with ReleaseFrame once the caller is
// done reading it, mirroring the original's locked-pointer handoff.
func (d *Depacketizer) ReceiveFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ring) == 0 {
		return Frame{}, false
	}
	return d.ring[0], true
}

// ReleaseFrame removes the oldest queued frame, making room for more.
func (d *Depacketizer) ReleaseFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ring) > 0 {
		d.ring = d.ring[1:]
	}
}

// Dropped returns the number of frames dropped by the catch-up policy or
// by the FramebufferCount cap.
func (d *Depacketizer) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
