// Package clientqueue implements the client render/decode coordinator
// (spec §4.9): a FrameInfo FIFO correlating decoder pulls with pushes,
// a frame-drop/queue-size catch-up policy, and the pose cache ring used
// to recover the head pose in effect when a given frame was generated.
package clientqueue

import (
	"github.com/martindanhier/wvb/vrcp"
)

// PoseCacheSize is TRACKING_STATE_CACHE_SIZE from spec §3.
const PoseCacheSize = 100

// QueueSizeCatchUpThreshold: if the FrameInfo queue grows past this many
// pending entries, the coordinator attempts an extra decoder pull per
// render iteration to drain the backlog (spec §4.9 step 4).
const QueueSizeCatchUpThreshold = 3

// FrameInfo correlates one decoder push with the metadata needed once
// it is later pulled out as a decoded frame.
type FrameInfo struct {
	FrameID                     uint32
	EndOfStream                 bool
	PoseTimestamp               uint32
	PushTimestamp               uint32
	LastPacketReceivedTimestamp uint32
	FrameSize                   int
	ShouldSaveFrame             bool
}

// Decoder is the minimal capability the coordinator needs from the
// platform video decoder.
type Decoder interface {
	PushPacket(data []byte, endOfStream bool) error
	PullFrame() (ok bool)
}

// PoseCacheEntry is one ring slot.
type PoseCacheEntry struct {
	PoseTimestamp uint32
	Tracking      vrcp.TrackingData
	Valid         bool
}

// PoseCache is a fixed-size ring buffer mapping emitted pose_timestamp
// values to the tracking sample that produced them, so the coordinator
// can recover the exact pose a frame was rendered for (spec §4.9 step 6).
type PoseCache struct {
	entries [PoseCacheSize]PoseCacheEntry
	next    int
}

// NewPoseCache creates an empty pose cache.
func NewPoseCache() *PoseCache { return &PoseCache{} }

// Record stores a tracking sample keyed by the pose timestamp that will
// be stamped on the frame generated from it.
func (c *PoseCache) Record(poseTimestamp uint32, td vrcp.TrackingData) {
	c.entries[c.next] = PoseCacheEntry{PoseTimestamp: poseTimestamp, Tracking: td, Valid: true}
	c.next = (c.next + 1) % PoseCacheSize
}

// Lookup finds the entry recorded for poseTimestamp. The ring is small
// and unordered by timestamp, so this is a linear scan; PoseCacheSize is
// small enough (100) that this stays cheap relative to one frame budget.
func (c *PoseCache) Lookup(poseTimestamp uint32) (vrcp.TrackingData, bool) {
	for _, e := range c.entries {
		if e.Valid && e.PoseTimestamp == poseTimestamp {
			return e.Tracking, true
		}
	}
	return vrcp.TrackingData{}, false
}

// Coordinator drives one client's render-thread frame selection logic
// (spec §4.9). The push path (PushPacket/OnFrame) runs on the video
// receive thread; RenderNextFrame runs on the presentation thread. The
// FrameInfo queue is the single piece of state shared between them, so
// all queue access goes through the coordinator's own lock-free slice
// operations guarded by the caller's external synchronization — callers
// are expected to serialize calls the way the original single-consumer,
// single-producer queue did.
type Coordinator struct {
	decoder Decoder
	poses   *PoseCache

	queue []FrameInfo

	accumulatedDelay int
	lastFrame        *RenderedFrame
}

// RenderedFrame is what one RenderNextFrame call hands to the
// compositor.
type RenderedFrame struct {
	Info    FrameInfo
	Pose    vrcp.TrackingData
	Reused  bool
	Dropped bool
}

// NewCoordinator creates a coordinator around decoder and an empty pose
// cache.
func NewCoordinator(decoder Decoder) *Coordinator {
	return &Coordinator{decoder: decoder, poses: NewPoseCache()}
}

// Poses exposes the pose cache so the tracking-receive path can Record
// into it.
func (c *Coordinator) Poses() *PoseCache { return c.poses }

// OnPacketPushed implements the push path: every received video packet
// is pushed into the decoder and, once any info is known for it,
// enqueues a FrameInfo. Callers typically call this once per completed
// access unit, with fi.FrameSize already filled in.
func (c *Coordinator) OnPacketPushed(data []byte, fi FrameInfo) error {
	if err := c.decoder.PushPacket(data, fi.EndOfStream); err != nil {
		return err
	}
	c.queue = append(c.queue, fi)
	return nil
}

// QueueLen reports the number of FrameInfo entries still pending a
// decoder pull.
func (c *Coordinator) QueueLen() int { return len(c.queue) }

func (c *Coordinator) dequeue() (FrameInfo, bool) {
	if len(c.queue) == 0 {
		return FrameInfo{}, false
	}
	fi := c.queue[0]
	c.queue = c.queue[1:]
	return fi, true
}

func (c *Coordinator) pullOne() (FrameInfo, bool) {
	if !c.decoder.PullFrame() {
		return FrameInfo{}, false
	}
	return c.dequeue()
}

// approximatePose is the fallback when the pose cache has no entry for a
// frame's pose_timestamp, matching spec §4.9 step 6's "approximate pose
// at predicted display time" note. Real prediction belongs to the XR
// runtime integration; this keeps the contract explicit for callers that
// supply one.
type approximatePose func() vrcp.TrackingData

// RenderNextFrame implements the full per-frame selection algorithm from
// spec §4.9, steps 2-6. predictedDisplayPose supplies the fallback pose
// when no cache entry matches.
func (c *Coordinator) RenderNextFrame(predictedDisplayPose approximatePose) RenderedFrame {
	fi, ok := c.pullOne()

	if c.accumulatedDelay > 0 {
		if fi2, ok2 := c.pullOne(); ok2 {
			fi, ok = fi2, true
			c.accumulatedDelay--
		}
	}

	if len(c.queue) > QueueSizeCatchUpThreshold {
		if fi2, ok2 := c.pullOne(); ok2 {
			fi, ok = fi2, true
		}
	}

	if !ok {
		if c.lastFrame == nil {
			return RenderedFrame{Dropped: true}
		}
		c.accumulatedDelay++
		reused := *c.lastFrame
		reused.Reused = true
		reused.Dropped = true
		return reused
	}

	pose, found := c.poses.Lookup(fi.PoseTimestamp)
	if !found {
		pose = predictedDisplayPose()
	}

	rf := RenderedFrame{Info: fi, Pose: pose}
	c.lastFrame = &rf
	return rf
}
