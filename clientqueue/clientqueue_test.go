package clientqueue

import (
	"testing"

	"github.com/martindanhier/wvb/vrcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	available int
}

func (d *fakeDecoder) PushPacket(data []byte, endOfStream bool) error { return nil }

func (d *fakeDecoder) PullFrame() bool {
	if d.available > 0 {
		d.available--
		return true
	}
	return false
}

func fallback() vrcp.TrackingData { return vrcp.TrackingData{SampleTimestamp: 0xFFFFFFFF} }

func TestPoseCacheRecordAndLookup(t *testing.T) {
	c := NewPoseCache()
	c.Record(100, vrcp.TrackingData{PoseTimestamp: 100, PositionX: 1})
	got, ok := c.Lookup(100)
	require.True(t, ok)
	assert.Equal(t, float32(1), got.PositionX)

	_, ok = c.Lookup(999)
	assert.False(t, ok)
}

func TestPoseCacheWrapsAfterCapacity(t *testing.T) {
	c := NewPoseCache()
	for i := 0; i < PoseCacheSize+5; i++ {
		c.Record(uint32(i), vrcp.TrackingData{PoseTimestamp: uint32(i)})
	}
	_, ok := c.Lookup(0) // evicted by wraparound
	assert.False(t, ok)
	_, ok = c.Lookup(uint32(PoseCacheSize + 4))
	assert.True(t, ok)
}

func TestCoordinatorDeliversFrameWithMatchingPose(t *testing.T) {
	dec := &fakeDecoder{available: 1}
	c := NewCoordinator(dec)
	c.Poses().Record(50, vrcp.TrackingData{PoseTimestamp: 50, PositionY: 2})
	require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: 1, PoseTimestamp: 50}))

	rf := c.RenderNextFrame(fallback)
	assert.False(t, rf.Dropped)
	assert.Equal(t, uint32(1), rf.Info.FrameID)
	assert.Equal(t, float32(2), rf.Pose.PositionY)
}

func TestCoordinatorReusesLastFrameAndAccumulatesDelay(t *testing.T) {
	dec := &fakeDecoder{available: 1}
	c := NewCoordinator(dec)
	require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: 1}))

	first := c.RenderNextFrame(fallback)
	require.False(t, first.Dropped)

	second := c.RenderNextFrame(fallback)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, c.accumulatedDelay)
}

func TestCoordinatorCatchUpDecrementsDelay(t *testing.T) {
	dec := &fakeDecoder{available: 0}
	c := NewCoordinator(dec)
	c.accumulatedDelay = 1
	dec.available = 2
	require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: 8}))
	require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: 9}))

	rf := c.RenderNextFrame(fallback)
	assert.Equal(t, uint32(9), rf.Info.FrameID)
	assert.Equal(t, 0, c.accumulatedDelay)
}

func TestCoordinatorQueueSizeCatchUpDrainsBacklog(t *testing.T) {
	dec := &fakeDecoder{available: QueueSizeCatchUpThreshold + 2}
	c := NewCoordinator(dec)
	for i := 0; i < QueueSizeCatchUpThreshold+2; i++ {
		require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: uint32(i)}))
	}

	rf := c.RenderNextFrame(fallback)
	require.False(t, rf.Dropped)
	assert.Equal(t, uint32(1), rf.Info.FrameID, "queue-size catch-up should pull an extra frame past the first")
}

func TestCoordinatorFallsBackToPredictedPose(t *testing.T) {
	dec := &fakeDecoder{available: 1}
	c := NewCoordinator(dec)
	require.NoError(t, c.OnPacketPushed(nil, FrameInfo{FrameID: 1, PoseTimestamp: 12345}))

	rf := c.RenderNextFrame(fallback)
	assert.Equal(t, uint32(0xFFFFFFFF), rf.Pose.SampleTimestamp)
}
