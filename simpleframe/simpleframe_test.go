package simpleframe

import (
	"math/rand"
	"testing"

	"github.com/martindanhier/wvb/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	frames []([]byte)
	poseTs []uint32
	ids    []uint32
}

func (s *recordingSink) OnFrame(data []byte, poseTimestamp, frameID uint32, endOfStream bool) {
	cp := append([]byte(nil), data...)
	s.frames = append(s.frames, cp)
	s.poseTs = append(s.poseTs, poseTimestamp)
	s.ids = append(s.ids, frameID)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Size: 1234, SampleTimestamp: 10, PoseTimestamp: 20, FrameID: 5, Flags: FlagEndOfFrame}
	got, err := ParseHeader(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDepacketizerHandlesArbitrarySegmentation(t *testing.T) {
	p := NewPacketizer()
	sizes := []int{0, 1, 17, 4000, 31}
	var wire []byte
	for i, sz := range sizes {
		frame := make([]byte, sz)
		for j := range frame {
			frame[j] = byte(i + j)
		}
		wire = append(wire, p.Packetize(frame, codec.Timestamps{PoseTimestamp: uint32(i)}, false)...)
	}

	sink := &recordingSink{}
	d := NewDepacketizer(sink)

	r := rand.New(rand.NewSource(1))
	for len(wire) > 0 {
		n := 1 + r.Intn(7)
		if n > len(wire) {
			n = len(wire)
		}
		require.NoError(t, d.Feed(wire[:n]))
		wire = wire[n:]
	}

	require.Len(t, sink.frames, len(sizes))
	for i, sz := range sizes {
		assert.Len(t, sink.frames[i], sz)
		assert.Equal(t, uint32(i), sink.poseTs[i])
		assert.Equal(t, uint32(i), sink.ids[i])
	}
}

func TestReceiveReleaseFramePullStyle(t *testing.T) {
	p := NewPacketizer()
	d := NewDepacketizer(nil)
	require.NoError(t, d.Feed(p.Packetize([]byte("abc"), codec.Timestamps{}, false)))

	f, ok := d.ReceiveFrame()
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), f.Data)

	// ReceiveFrame does not consume; the same frame is returned again.
	f2, ok := d.ReceiveFrame()
	require.True(t, ok)
	assert.Equal(t, f.Data, f2.Data)

	d.ReleaseFrame()
	_, ok = d.ReceiveFrame()
	assert.False(t, ok)
}

func TestCatchUpDropsOldestWhenOverThreshold(t *testing.T) {
	CatchUpThreshold = 2
	defer func() { CatchUpThreshold = 0 }()

	p := NewPacketizer()
	d := NewDepacketizer(nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Feed(p.Packetize([]byte{byte(i)}, codec.Timestamps{}, false)))
	}
	assert.True(t, d.Dropped() > 0)
	f, ok := d.ReceiveFrame()
	require.True(t, ok)
	assert.Equal(t, byte(3), f.Data[0], "oldest frames should have been dropped under catch-up")
}
