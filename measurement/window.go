// Package measurement implements the benchmark measurement bucket shared
// across the server, driver and client processes (spec §4.10): a
// multi-phase measurement window that gates collection of frame-time,
// tracking, image-quality and network samples, plus the socket byte/packet
// counters referenced by package netsock.
package measurement

import (
	"math"
	"sort"
	"sync"
)

// Mode is the BucketMode of spec §4.10.
type Mode int

const (
	// ModeWindow only accepts samples whose "now" falls within the
	// active Window's phase for that sample's class.
	ModeWindow Mode = iota
	// ModeAcceptAll accepts every sample regardless of the window.
	ModeAcceptAll
	// ModeFinished rejects every sample; measurements are complete.
	ModeFinished
)

// Window is the four ordered RTP time points gating sample admission.
// Invariant: StartTiming < StartImageQuality < EndMeasurements <= End.
type Window struct {
	StartTiming      uint32
	StartImageQuality uint32
	EndMeasurements  uint32
	End              uint32
	Valid            bool
}

// timingCapacity and imageQualityCapacity are the pre-reserved capacities
// of spec §4.10's sample vectors.
const (
	timingCapacity      = 2000
	imageQualityCapacity = 500
)

// lt is the wrap-aware "a happened before b" comparator, duplicated from
// package rtp to avoid a needless import for one inline predicate.
func lt(a, b uint32) bool { return (a - b) > 0x80000000 }

// inWindow reports whether now falls in [lo, hi) taking RTP 32-bit
// wrap-around into account.
func inWindow(now, lo, hi uint32) bool {
	return !lt(now, lo) && lt(now, hi)
}

// Bucket accumulates typed samples gated by a Window and Mode. Safe for
// concurrent use: every exported method takes the bucket's lock.
type Bucket struct {
	mu sync.Mutex

	mode   Mode
	window Window

	frameTimes      []float64
	trackingTimes   []float64
	imageQualities  []float64
	networkSamples  []NetworkSample
	socketSamples   []SocketSample
}

// NetworkSample is one NETWORK_MEASUREMENT data point.
type NetworkSample struct {
	RTT        float64
	PacketLoss float64
}

// SocketSample is one SOCKET_MEASUREMENT data point.
type SocketSample struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
}

// NewBucket creates a bucket in ModeWindow with an invalid (not-yet-set)
// window; samples are rejected until SetWindow is called, matching the
// "window valid" guard in the is_in_*_phase predicates.
func NewBucket() *Bucket {
	return &Bucket{
		frameTimes:     make([]float64, 0, timingCapacity),
		trackingTimes:  make([]float64, 0, timingCapacity),
		imageQualities: make([]float64, 0, imageQualityCapacity),
	}
}

// SetMode switches the bucket's mode (e.g. to ModeAcceptAll for
// unsupervised capture, or ModeFinished once the server has told this
// process measurements are complete).
func (b *Bucket) SetMode(m Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
}

// SetWindow installs the measurement window, validating the ordering
// invariant before marking it valid.
func (b *Bucket) SetWindow(w Window) {
	w.Valid = lt(w.StartTiming, w.StartImageQuality) &&
		lt(w.StartImageQuality, w.EndMeasurements) &&
		(w.EndMeasurements == w.End || lt(w.EndMeasurements, w.End))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = w
}

// IsInTimingPhase implements the is_in_timing_phase predicate.
func (b *Bucket) IsInTimingPhase(now uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isInTimingPhaseLocked(now)
}

func (b *Bucket) isInTimingPhaseLocked(now uint32) bool {
	switch b.mode {
	case ModeAcceptAll:
		return true
	case ModeWindow:
		return b.window.Valid && inWindow(now, b.window.StartTiming, b.window.StartImageQuality)
	default:
		return false
	}
}

// IsInImageQualityPhase implements the is_in_image_quality_phase
// predicate.
func (b *Bucket) IsInImageQualityPhase(now uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isInImageQualityPhaseLocked(now)
}

func (b *Bucket) isInImageQualityPhaseLocked(now uint32) bool {
	switch b.mode {
	case ModeAcceptAll:
		return true
	case ModeWindow:
		return b.window.Valid && inWindow(now, b.window.StartImageQuality, b.window.EndMeasurements)
	default:
		return false
	}
}

// MeasurementsComplete implements the measurements_complete predicate.
func (b *Bucket) MeasurementsComplete(now uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == ModeFinished {
		return true
	}
	if b.mode == ModeWindow {
		// "now > end", wrap-aware: end happened before now.
		return lt(b.window.End, now)
	}
	return false
}

// AddFrameTime appends a frame-time sample if now is in the timing phase;
// no-ops otherwise.
func (b *Bucket) AddFrameTime(now uint32, seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isInTimingPhaseLocked(now) {
		return
	}
	b.frameTimes = append(b.frameTimes, seconds)
}

// AddTrackingTime appends a tracking-latency sample if now is in the
// timing phase.
func (b *Bucket) AddTrackingTime(now uint32, seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isInTimingPhaseLocked(now) {
		return
	}
	b.trackingTimes = append(b.trackingTimes, seconds)
}

// AddImageQuality appends an image-quality sample if now is in the
// image-quality phase.
func (b *Bucket) AddImageQuality(now uint32, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isInImageQualityPhaseLocked(now) {
		return
	}
	b.imageQualities = append(b.imageQualities, score)
}

// AddNetworkSample appends a network sample if now is in the timing
// phase (network conditions are tracked alongside frame timing).
func (b *Bucket) AddNetworkSample(now uint32, s NetworkSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isInTimingPhaseLocked(now) {
		return
	}
	b.networkSamples = append(b.networkSamples, s)
}

// AddSocketSample appends a socket counter snapshot if now is in the
// timing phase.
func (b *Bucket) AddSocketSample(now uint32, s SocketSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isInTimingPhaseLocked(now) {
		return
	}
	b.socketSamples = append(b.socketSamples, s)
}

// FrameTimeCount, TrackingTimeCount and ImageQualityCount report the
// current number of collected samples, for tests and telemetry.
func (b *Bucket) FrameTimeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frameTimes)
}

func (b *Bucket) TrackingTimeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trackingTimes)
}

func (b *Bucket) ImageQualityCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.imageQualities)
}

// FrameTimeMedian returns the median of collected frame-time samples.
func (b *Bucket) FrameTimeMedian() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Median(b.frameTimes)
}

// FrameTimePercentile returns the p-th percentile (0 <= p <= 1) of
// collected frame-time samples, computed by the nearest-rank method.
// Supplements the distilled spec's median-only requirement with the
// percentile reporting original_source/common/src/benchmark.cpp performs.
func (b *Bucket) FrameTimePercentile(p float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Percentile(b.frameTimes, p)
}

// Median computes the median of values by sort-and-pick; for even-length
// slices it is the mean of the two centre elements, without truncation
// (MedianInt is the truncating integer form). Returns 0 for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the p-th percentile (0 <= p <= 1) via nearest-rank.
// Returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// MedianInt computes the integer median per spec §8: for even-length
// inputs the result is integer-truncated, so compute_median([4,1,3,2]) ==
// 2 (truncation of (2+3)/2 = 2.5), not 2.5.
func MedianInt(values []int) int {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
