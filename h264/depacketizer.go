package h264

import (
	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/rtp"
)

// startCode4 is always emitted at the very start of a reassembled buffer;
// subsequent NALs in the same frame use the 3-byte form, matching the
// original implementation's choice.
var startCode4 = []byte{0, 0, 0, 1}
var startCode3 = []byte{0, 0, 1}

// Depacketizer reassembles an Annex-B bytestream from RTP packets carrying
// single NALs or FU-A fragments. It implements rtp.FrameHandler and is
// meant to sit behind an rtp.Depacketizer, which handles reordering.
type Depacketizer struct {
	sink codec.FrameSink

	frame         []byte
	poseTimestamp uint32
	frameID       uint32
	endOfStream   bool

	fuInProgress   bool
	fuAborted      bool
	fuHeaderOffset int

	haveLastSeq bool
	lastSeq     uint16
}

// NewDepacketizer creates a Depacketizer delivering reassembled access
// units to sink.
func NewDepacketizer(sink codec.FrameSink) *Depacketizer {
	return &Depacketizer{sink: sink}
}

// NewChain builds the full receive-side stack: an rtp.Depacketizer
// (reorder/jitter tolerance) feeding an h264.Depacketizer (NAL
// reassembly) feeding sink.
func NewChain(sink codec.FrameSink) *rtp.Depacketizer {
	return rtp.NewDepacketizer(NewDepacketizer(sink))
}

// BeginFrame implements rtp.FrameHandler.
func (d *Depacketizer) BeginFrame() {
	d.frame = nil
	d.poseTimestamp = 0
	d.frameID = 0
	d.endOfStream = false
	d.fuInProgress = false
	d.fuAborted = false
}

// HasPendingData implements rtp.FrameHandler.
func (d *Depacketizer) HasPendingData() bool { return len(d.frame) > 0 }

func (d *Depacketizer) appendStartCode() {
	if len(d.frame) == 0 {
		d.frame = append(d.frame, startCode4...)
	} else {
		d.frame = append(d.frame, startCode3...)
	}
}

// ProcessPacket implements rtp.FrameHandler.
func (d *Depacketizer) ProcessPacket(h rtp.Header, payload []byte) {
	d.poseTimestamp = h.PoseTimestamp
	d.frameID = h.FrameID

	if len(payload) < 1 {
		return
	}

	nalType := payload[0] & 0b00011111
	if nalType != nalTypeFUA {
		d.processSingleNAL(payload)
	} else {
		d.processFUA(h, payload)
	}

	d.haveLastSeq = true
	d.lastSeq = h.SequenceNumber
}

func (d *Depacketizer) processSingleNAL(payload []byte) {
	if d.fuInProgress {
		// The in-progress fragmented unit never saw its end fragment:
		// mark the reassembled NAL header's F-bit as a visible
		// corruption flag before moving on.
		d.frame[d.fuHeaderOffset] |= 0b10000000
		d.fuInProgress = false
	}
	d.appendStartCode()
	d.frame = append(d.frame, payload...)
}

func (d *Depacketizer) processFUA(h rtp.Header, payload []byte) {
	if len(payload) < 2 {
		return
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	sBit := fuHeader&0b10000000 != 0
	eBit := fuHeader&0b01000000 != 0
	origType := fuHeader & 0b00011111
	body := payload[2:]

	if sBit {
		d.appendStartCode()
		reconstructed := (fuIndicator & 0b11100000) | origType
		d.fuHeaderOffset = len(d.frame)
		d.frame = append(d.frame, reconstructed)
		d.frame = append(d.frame, body...)
		d.fuInProgress = true
		d.fuAborted = false
		return
	}

	gap := !d.haveLastSeq || rtp.SeqDistance(d.lastSeq, h.SequenceNumber) != 1
	if !d.fuInProgress || gap {
		if d.fuInProgress {
			d.frame[d.fuHeaderOffset] |= 0b10000000
		}
		d.fuAborted = true
		d.fuInProgress = false
	}

	if !d.fuAborted {
		d.frame = append(d.frame, body...)
	}

	if eBit {
		d.fuAborted = false
		d.fuInProgress = false
	}
}

// FrameComplete implements rtp.FrameHandler.
func (d *Depacketizer) FrameComplete() {
	if d.fuInProgress {
		d.frame[d.fuHeaderOffset] |= 0b10000000
		d.fuInProgress = false
	}
	if d.sink != nil && len(d.frame) > 0 {
		d.sink.OnFrame(d.frame, d.poseTimestamp, d.frameID, d.endOfStream)
	}
}
