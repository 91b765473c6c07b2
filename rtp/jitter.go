package rtp

import (
	"errors"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// JitterBufferSize is the number of reorder-tolerance slots
// (WVB_EARLY_FRAME_TOLERANCE in the original implementation).
const JitterBufferSize = 128

// MTU is the maximum size of a single RTP packet, including header.
const MTU = 1500

// minPacketSize is the smallest legal packet: the header plus at least
// one byte of payload.
const minPacketSize = HeaderSize + 1

// Errors returned by Depacketizer.AddPacket.
var (
	ErrMalformed       = errors.New("rtp: malformed packet")
	ErrBufferExhausted = errors.New("rtp: jitter buffer exhausted")
)

// FrameHandler receives the codec-specific side effects of depacketization.
// Implementations are not required to be safe for concurrent use; the
// Depacketizer that owns them serializes all calls.
type FrameHandler interface {
	// BeginFrame resets per-frame accumulation state ahead of a new frame.
	BeginFrame()
	// ProcessPacket is invoked once per in-order packet with its header
	// and payload (the bytes following the 20-byte RTP+extension header).
	ProcessPacket(h Header, payload []byte)
	// HasPendingData reports whether the current frame has accumulated
	// any data yet (used to decide whether a timestamp change implies a
	// lost marker bit on the previous frame).
	HasPendingData() bool
	// FrameComplete is invoked when the marker bit is seen, or when a
	// timestamp change is observed while the previous frame still has
	// pending data (the marker is assumed lost).
	FrameComplete()
}

type packetView struct {
	valid bool
	size  int
}

// Depacketizer implements the jitter-tolerant reorder buffer shared by
// every codec (spec §4.3). It buffers up to JitterBufferSize out-of-order
// packets and hands in-order packets to a FrameHandler.
type Depacketizer struct {
	log *logrus.Entry

	// id correlates this depacketizer's log lines with the socket and
	// measurement logs for the same stream, across process restarts
	// where a monotonic counter would reset to zero.
	id xid.ID

	handler FrameHandler

	slots [JitterBufferSize][MTU]byte
	views [JitterBufferSize]packetView

	head       int
	desiredSeq uint16
	haveFirst  bool

	currentTimestamp uint32
	frameComplete    bool
}

// NewDepacketizer creates a Depacketizer delivering reassembled packets to
// handler.
func NewDepacketizer(handler FrameHandler) *Depacketizer {
	id := xid.New()
	return &Depacketizer{
		handler: handler,
		id:      id,
		log:     logrus.WithFields(logrus.Fields{"component": "rtp.depacketizer", "stream_id": id.String()}),
	}
}

// ID returns the depacketizer's correlation id, for tagging the socket
// and measurement log lines produced while feeding it packets.
func (d *Depacketizer) ID() xid.ID { return d.id }

// AddPacket ingests one raw RTP packet (header + payload). It returns
// ErrMalformed for packets failing the basic size/header checks; such
// packets are meant to be silently dropped by callers, not treated as a
// session-ending error.
func (d *Depacketizer) AddPacket(data []byte) error {
	if len(data) < minPacketSize || len(data) > MTU {
		return ErrMalformed
	}
	h, ok := Parse(data)
	if !ok {
		return ErrMalformed
	}
	payload := data[HeaderSize:]

	if d.frameComplete {
		d.handler.BeginFrame()
		d.frameComplete = false
	}

	if !d.haveFirst {
		d.desiredSeq = h.SequenceNumber
		d.currentTimestamp = h.Timestamp
		d.haveFirst = true
	}

	if CompareSeq(h.SequenceNumber, d.desiredSeq) || CompareTimestamps(h.Timestamp, d.currentTimestamp) {
		// Strictly older than what we're expecting: drop as late.
		return nil
	}

	dist := SeqDistance(d.desiredSeq, h.SequenceNumber)
	if dist >= JitterBufferSize {
		d.log.WithFields(logrus.Fields{"seq": h.SequenceNumber, "desired_seq": d.desiredSeq}).
			Debug("packet ahead of jitter buffer tolerance, forcing slots out")
	}
	for dist >= JitterBufferSize {
		if d.views[d.head].valid {
			d.emitSlot(d.head)
		}
		d.advanceHead()
		dist--
	}

	if dist == 0 {
		d.deliver(h, payload)
		d.advanceHead()
		for d.views[d.head].valid {
			view := d.views[d.head]
			slotData := d.slots[d.head][:view.size]
			sh, ok := Parse(slotData)
			if !ok {
				d.views[d.head] = packetView{}
				d.advanceHead()
				continue
			}
			d.deliver(sh, slotData[HeaderSize:])
			d.views[d.head] = packetView{}
			d.advanceHead()
		}
		return nil
	}

	slot := (d.head + int(dist)) % JitterBufferSize
	if len(data) > MTU {
		return ErrBufferExhausted
	}
	copy(d.slots[slot][:], data)
	d.views[slot] = packetView{valid: true, size: len(data)}
	return nil
}

func (d *Depacketizer) emitSlot(idx int) {
	view := d.views[idx]
	slotData := d.slots[idx][:view.size]
	sh, ok := Parse(slotData)
	d.views[idx] = packetView{}
	if !ok {
		return
	}
	d.deliver(sh, slotData[HeaderSize:])
}

func (d *Depacketizer) advanceHead() {
	d.head = (d.head + 1) % JitterBufferSize
	d.desiredSeq++
}

func (d *Depacketizer) deliver(h Header, payload []byte) {
	if h.Timestamp != d.currentTimestamp && d.handler.HasPendingData() {
		d.handler.FrameComplete()
		d.handler.BeginFrame()
	}
	d.currentTimestamp = h.Timestamp
	d.handler.ProcessPacket(h, payload)
	if h.Marker {
		d.handler.FrameComplete()
		d.frameComplete = true
	}
}
