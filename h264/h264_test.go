package h264

import (
	"bytes"
	"testing"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSink struct {
	frames [][]byte
}

func (s *capturingSink) OnFrame(frame []byte, poseTimestamp, frameID uint32, endOfStream bool) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestPacketizeDepacketizeRoundTripSmallNALs(t *testing.T) {
	sink := &capturingSink{}
	rd := NewChain(sink)

	input := annexB([]byte{0x67, 1, 2, 3}, []byte{0x68, 4, 5}, []byte{0x65, 6, 7, 8, 9})

	p := NewPacketizer()
	pkts, err := p.Packetize(input, codec.Timestamps{RTPTimestamp: 1000, PoseTimestamp: 2000, FrameID: 1, SSRC: 9}, false)
	require.NoError(t, err)
	require.NotEmpty(t, pkts)

	for _, pkt := range pkts {
		require.NoError(t, rd.AddPacket(pkt))
	}

	// The depacketizer writes a 4-byte start code before the first NAL and
	// 3-byte start codes before the following ones.
	want := []byte{0, 0, 0, 1, 0x67, 1, 2, 3, 0, 0, 1, 0x68, 4, 5, 0, 0, 1, 0x65, 6, 7, 8, 9}
	require.Len(t, sink.frames, 1)
	assert.True(t, bytes.Equal(want, sink.frames[0]), "reassembled bytestream must carry the input NALs in order")
}

func TestPacketizeDepacketizeRoundTripLargeNAL(t *testing.T) {
	sink := &capturingSink{}
	rd := NewChain(sink)

	big := make([]byte, 6000)
	big[0] = 0x65
	for i := 1; i < len(big); i++ {
		big[i] = byte(i)
	}
	input := annexB(big)

	p := NewPacketizer()
	pkts, err := p.Packetize(input, codec.Timestamps{RTPTimestamp: 42}, false)
	require.NoError(t, err)
	require.Greater(t, len(pkts), 1, "a 6000-byte NAL must be fragmented")

	for _, pkt := range pkts {
		require.NoError(t, rd.AddPacket(pkt))
	}

	require.Len(t, sink.frames, 1)
	assert.True(t, bytes.Equal(input, sink.frames[0]))
}

// TestFUALossStallsWithinJitterTolerance reproduces spec §8 scenario 5: a
// 3-NAL stream where one of the middle FU-A fragments of the second NAL is
// dropped. Per spec §4.3 step 5, the jitter buffer withholds everything
// from the gap onward until either the missing sequence number arrives or
// the forward distance reaches JitterBufferSize (128); it does not give up
// early. With only two packets following the drop (the remainder of the
// fragmented NAL and the third NAL), that distance never gets close to
// 128, so both stay buffered and only the first NAL is delivered.
func TestFUALossStallsWithinJitterTolerance(t *testing.T) {
	sink := &capturingSink{}
	rd := NewChain(sink)

	small1 := []byte{0x67, 1, 2, 3}
	big := make([]byte, 5000)
	big[0] = 0x65
	for i := 1; i < len(big); i++ {
		big[i] = byte(i % 256)
	}
	small2 := []byte{0x68, 9, 9, 9}

	p := NewPacketizer()

	pkts1, err := p.Packetize(annexB(small1), codec.Timestamps{RTPTimestamp: 10, FrameID: 1}, false)
	require.NoError(t, err)
	pktsBig, err := p.Packetize(annexB(big), codec.Timestamps{RTPTimestamp: 20, FrameID: 2}, false)
	require.NoError(t, err)
	require.Greater(t, len(pktsBig), 2, "must fragment into at least 3 pieces to drop a middle one")
	pkts2, err := p.Packetize(annexB(small2), codec.Timestamps{RTPTimestamp: 30, FrameID: 3}, false)
	require.NoError(t, err)

	for _, pkt := range pkts1 {
		require.NoError(t, rd.AddPacket(pkt))
	}
	dropIdx := len(pktsBig) / 2
	for i, pkt := range pktsBig {
		if i == dropIdx {
			continue
		}
		require.NoError(t, rd.AddPacket(pkt))
	}
	for _, pkt := range pkts2 {
		require.NoError(t, rd.AddPacket(pkt))
	}

	require.Len(t, sink.frames, 1, "only the first NAL is deliverable before the jitter tolerance is exhausted")
	assert.True(t, bytes.Equal(annexB(small1), sink.frames[0]))
}

// TestFUALossSetsForbiddenBit exercises the h264.Depacketizer's forbidden-
// bit marking directly (bypassing rtp.Depacketizer's reorder buffer, whose
// 128-slot tolerance window is covered separately), reproducing the same
// gap as spec §8 scenario 5: a continuation FU-A fragment whose sequence
// number isn't one more than the last fragment processed must mark the
// reassembled NAL's F-bit before delivering it.
func TestFUALossSetsForbiddenBit(t *testing.T) {
	sink := &capturingSink{}
	d := NewDepacketizer(sink)
	d.BeginFrame()

	// payload[0] is the FU indicator (F+NRI bits, type 28); payload[1] is
	// the FU header (S/E bits plus the original NAL type in its low 5 bits).
	start := rtp.Header{SequenceNumber: 100, Timestamp: 20, PoseTimestamp: 2000, FrameID: 2}
	d.ProcessPacket(start, []byte{28, 0b10000000 | 0x05, 1, 2, 3}) // S bit set, original type 0x05

	// Sequence jumps from 100 to 105 (a dropped middle fragment), then
	// delivers the end fragment.
	end := rtp.Header{SequenceNumber: 105, Timestamp: 20, PoseTimestamp: 2000, FrameID: 2, Marker: true}
	d.ProcessPacket(end, []byte{28, 0b01000000 | 0x05, 9, 9, 9}) // E bit set
	d.FrameComplete()                                            // normally invoked by rtp.Depacketizer on the marker bit

	require.Len(t, sink.frames, 1)
	corrupted := sink.frames[0]
	headerOffset := 4 // after the leading 4-byte start code
	assert.NotZero(t, corrupted[headerOffset]&0b10000000, "forbidden bit must be set on loss")
	assert.Equal(t, byte(0x05)|0b10000000, corrupted[headerOffset])
}
