// Package pipeline implements the server video-pipeline worker (spec
// §4.8): a dedicated loop that drains present-info notifications from
// the driver, feeds frames through an encoder, and hands encoded
// packets to the video transport, correlating the encoder's (possibly
// delayed) output back to the frame it belongs to via a FIFO queue.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/driveripc"
	"github.com/sirupsen/logrus"
)

// WaitTimeout is how long the worker blocks on new_present_info before
// re-checking its should_stop/should_kill flags, per spec §4.8.
const WaitTimeout = 250 * time.Millisecond

// Encoder abstracts the platform video encoder. Implementations may be
// software (x264), or GPU-backed via a texture handle or shared handle;
// EncoderCategory records which, purely for logging/metrics, since the
// worker's control flow is identical across categories.
type Encoder interface {
	Category() EncoderCategory
	Submit(textureHandle uintptr, ts codec.Timestamps) error
	Pull() (packet []byte, ts codec.Timestamps, ok bool, err error)
}

// EncoderCategory names the encoder submission path.
type EncoderCategory int

const (
	EncoderSoftware EncoderCategory = iota
	EncoderHWTexture
	EncoderHWSharedHandle
	EncoderHWPreprocessThenTexture
)

// VideoSender is the minimal capability pipeline needs from the
// transport layer: packetize and send one encoded access unit.
type VideoSender interface {
	SendFrame(packet []byte, ts codec.Timestamps, endOfStream bool) error
}

// ImageQualityReader captures a raw RGBA readback of the backbuffer for
// the benchmark's image-quality phase (spec §4.8's "read back to a
// staging texture and written to disk as raw RGBA").
type ImageQualityReader interface {
	ReadBack(textureHandle uintptr) ([]byte, error)
}

// MeasurementSink receives per-frame timing samples.
type MeasurementSink interface {
	AddFrameTime(rtpTimestamp uint32, seconds float64)
	IsInImageQualityPhase(rtpTimestamp uint32) bool
}

// frameInfo correlates an encoder submission with the metadata needed
// once its packet eventually comes out the other end.
type frameInfo struct {
	frameID         uint32
	sampleTimestamp uint32
	poseTimestamp   uint32
	submittedAt     time.Time
}

// Worker runs the dedicated video-pipeline loop described in spec §4.8.
type Worker struct {
	log *logrus.Entry

	server  driveripc.Server
	encoder Encoder
	sender  VideoSender
	iqr     ImageQualityReader
	meas    MeasurementSink

	frameInterval time.Duration
	slack         time.Duration

	shouldStop atomic.Bool
	shouldKill atomic.Bool

	queue []frameInfo

	textureCache map[uintptr]struct{}

	framesDropped atomic.Uint64
	framesSent    atomic.Uint64
}

// Config bundles Worker's dependencies.
type Config struct {
	Server        driveripc.Server
	Encoder       Encoder
	Sender        VideoSender
	ImageQuality  ImageQualityReader
	Measurements  MeasurementSink
	FrameInterval time.Duration
	Slack         time.Duration
}

// NewWorker creates a pipeline worker ready to Run.
func NewWorker(cfg Config) *Worker {
	return &Worker{
		log:           logrus.WithField("component", "pipeline.worker"),
		server:        cfg.Server,
		encoder:       cfg.Encoder,
		sender:        cfg.Sender,
		iqr:           cfg.ImageQuality,
		meas:          cfg.Measurements,
		frameInterval: cfg.FrameInterval,
		slack:         cfg.Slack,
		textureCache:  make(map[uintptr]struct{}),
	}
}

// RequestStop asks the worker to finish any in-flight frame and exit.
func (w *Worker) RequestStop() { w.shouldStop.Store(true) }

// RequestKill asks the worker to exit immediately, abandoning any
// in-flight frame.
func (w *Worker) RequestKill() { w.shouldKill.Store(true) }

// FramesDropped / FramesSent expose running counters for metrics.
func (w *Worker) FramesDropped() uint64 { return w.framesDropped.Load() }
func (w *Worker) FramesSent() uint64    { return w.framesSent.Load() }

// Run executes the worker loop until should_kill, or should_stop once
// the last in-flight frame has been sent. It is meant to run on its own
// goroutine, ideally pinned to a high-priority OS thread by the caller
// (runtime.LockOSThread), matching the "single dedicated thread at
// highest OS priority" requirement.
func (w *Worker) Run() {
	lastFrameSent := false
	for {
		if w.shouldKill.Load() {
			return
		}
		if w.shouldStop.Load() && lastFrameSent && len(w.queue) == 0 {
			return
		}

		if !w.server.WaitNewPresentInfo(WaitTimeout) {
			continue
		}

		info, err := w.server.LatestPresentInfo(50 * time.Millisecond)
		w.server.SignalFrameFinished()
		if err != nil {
			w.log.WithError(err).Warn("failed to snapshot present info")
			continue
		}

		if time.Since(info.PresentedAt) > w.frameInterval+w.slack {
			w.framesDropped.Add(1)
			continue
		}

		lastFrameSent = w.step(info)
	}
}

// step submits one frame to the encoder, pulls whatever packet comes
// out (which may belong to an earlier frame), and sends it. It returns
// true if a frame was actually transmitted this iteration, used only to
// gate the should_stop exit condition.
func (w *Worker) step(info driveripc.PresentInfo) bool {
	ts := codec.Timestamps{RTPTimestamp: info.SampleTimestamp, PoseTimestamp: info.PoseTimestamp, FrameID: info.FrameID}

	if _, cached := w.textureCache[info.TextureHandle]; !cached {
		w.textureCache[info.TextureHandle] = struct{}{}
	}

	if err := w.encoder.Submit(info.TextureHandle, ts); err != nil {
		w.log.WithError(err).Debug("frame dropped at encoder submit")
		w.framesDropped.Add(1)
		return false
	}

	w.queue = append(w.queue, frameInfo{
		frameID:         info.FrameID,
		sampleTimestamp: info.SampleTimestamp,
		poseTimestamp:   info.PoseTimestamp,
		submittedAt:     time.Now(),
	})

	if w.meas != nil && w.iqr != nil && w.meas.IsInImageQualityPhase(info.SampleTimestamp) {
		if _, err := w.iqr.ReadBack(info.TextureHandle); err != nil {
			w.log.WithError(err).Debug("image quality readback failed")
		}
	}

	packet, _, ok, err := w.encoder.Pull()
	if err != nil {
		w.log.WithError(err).Warn("encoder pull failed")
		return false
	}
	if !ok {
		w.framesDropped.Add(1)
		return false
	}
	if len(w.queue) == 0 {
		w.log.Warn("encoder produced a packet with no pending frame info")
		return false
	}

	fi := w.queue[0]
	w.queue = w.queue[1:]

	sendTs := codec.Timestamps{RTPTimestamp: fi.sampleTimestamp, PoseTimestamp: fi.poseTimestamp, FrameID: fi.frameID}
	if err := w.sender.SendFrame(packet, sendTs, w.shouldStop.Load() && len(w.queue) == 0); err != nil {
		w.log.WithError(err).Warn("failed to send encoded packet")
		return false
	}

	w.framesSent.Add(1)
	if w.meas != nil {
		w.meas.AddFrameTime(fi.sampleTimestamp, time.Since(fi.submittedAt).Seconds())
	}
	return true
}
