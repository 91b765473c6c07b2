package rtp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		SequenceNumber: 1234,
		Timestamp:      999999,
		SSRC:           42,
		PoseTimestamp:  555,
		FrameID:        7,
		PayloadType:    PayloadTypeH264,
		Marker:         true,
	}
	buf := make([]byte, HeaderSize)
	h.Marshal(buf)
	got, ok := Parse(buf)
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func TestParseRejectsBadVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0x00
	_, ok := Parse(buf)
	assert.False(t, ok)
}

func TestCompareTimestampsWrap(t *testing.T) {
	assert.True(t, CompareTimestamps(0xFFFFFFF0, 0x00000010))
	assert.False(t, CompareTimestamps(0x00000010, 0xFFFFFFF0))
}

func TestSeqDistance(t *testing.T) {
	assert.Equal(t, uint16(11), SeqDistance(65530, 5))
	// NOTE: spec.md's worked example states this case equals 65531, but
	// that conflicts with the wrap-aware formula in original_source
	// (wvb_common/rtp.h rtp_seq_distance), which this implementation
	// follows; see DESIGN.md for the resolved discrepancy.
	assert.Equal(t, uint16(65525), SeqDistance(5, 65530))
}

type recordingHandler struct {
	frames       [][]byte
	cur          []byte
	pending      bool
}

func (r *recordingHandler) BeginFrame()          { r.cur = nil; r.pending = false }
func (r *recordingHandler) HasPendingData() bool { return r.pending }
func (r *recordingHandler) ProcessPacket(h Header, payload []byte) {
	r.cur = append(r.cur, payload...)
	r.pending = true
}
func (r *recordingHandler) FrameComplete() {
	r.frames = append(r.frames, r.cur)
	r.cur = nil
	r.pending = false
}

func packetFor(seq uint16, ts uint32, payload []byte, marker bool) []byte {
	h := Header{SequenceNumber: seq, Timestamp: ts, PayloadType: PayloadTypeH264, Marker: marker}
	buf := make([]byte, HeaderSize+len(payload))
	h.Marshal(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

func TestDepacketizerInOrder(t *testing.T) {
	h := &recordingHandler{}
	d := NewDepacketizer(h)
	require.NoError(t, d.AddPacket(packetFor(0, 100, []byte("a"), false)))
	require.NoError(t, d.AddPacket(packetFor(1, 100, []byte("b"), true)))
	require.Len(t, h.frames, 1)
	assert.Equal(t, []byte("ab"), h.frames[0])
}

func TestDepacketizerTolerateReorder(t *testing.T) {
	h := &recordingHandler{}
	d := NewDepacketizer(h)
	pkts := [][]byte{
		packetFor(0, 100, []byte("a"), false),
		packetFor(1, 100, []byte("b"), false),
		packetFor(2, 100, []byte("c"), false),
		packetFor(3, 100, []byte("d"), true),
	}
	order := []int{0, 2, 1, 3}
	for _, i := range order {
		require.NoError(t, d.AddPacket(pkts[i]))
	}
	require.Len(t, h.frames, 1)
	assert.Equal(t, []byte("abcd"), h.frames[0])
}

func TestDepacketizerPermutedWithinTolerance(t *testing.T) {
	h := &recordingHandler{}
	d := NewDepacketizer(h)

	n := 50
	pkts := make([][]byte, n)
	var want []byte
	for i := 0; i < n; i++ {
		b := []byte{byte(i)}
		want = append(want, b...)
		marker := i == n-1
		pkts[i] = packetFor(uint16(i), 100, b, marker)
	}

	order := rand.New(rand.NewSource(1)).Perm(n)
	// Keep displacement bounded well under the 128-slot tolerance.
	for _, i := range order {
		require.NoError(t, d.AddPacket(pkts[i]))
	}
	require.Len(t, h.frames, 1)
	assert.Equal(t, want, h.frames[0])
}

func TestTimestampChangeFlushesIncompleteFrame(t *testing.T) {
	h := &recordingHandler{}
	d := NewDepacketizer(h)
	require.NoError(t, d.AddPacket(packetFor(0, 100, []byte("a"), false)))
	// No marker seen, but the timestamp changes: previous frame must be
	// flushed as complete before the new one starts.
	require.NoError(t, d.AddPacket(packetFor(1, 200, []byte("b"), false)))
	require.Len(t, h.frames, 1)
	assert.Equal(t, []byte("a"), h.frames[0])
}
