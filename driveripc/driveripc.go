// Package driveripc implements the driver <-> server IPC contract (spec
// §4.7): a shared-memory region carrying session state, the negotiated
// clock epoch, device specs, the latest present/tracking info and
// benchmark window, plus the edge-triggered events that announce each
// field's updates.
package driveripc

import (
	"time"

	"github.com/martindanhier/wvb/measurement"
	"github.com/martindanhier/wvb/shm"
	"github.com/martindanhier/wvb/vrcp"
)

// SessionState mirrors the driver/server state enum carried in shared
// memory, kept distinct from vrcp.ServerState/ClientState since the
// driver's state machine (idle/negotiating/streaming/stopping) is coarser.
type SessionState int

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateStreaming
	StateStopping
)

// PresentInfo is written by the driver on every frame Present.
type PresentInfo struct {
	FrameID         uint32
	SampleTimestamp uint32
	PoseTimestamp   uint32
	TextureHandle   uintptr
	PresentedAt     time.Time
}

// TrackingState is the latest pose, written by the server on each
// TRACKING_DATA receipt from the client.
type TrackingState struct {
	Tracking vrcp.TrackingData
	Valid    bool
}

// SharedState is the payload of the single shared-memory region
// described in spec §4.7.
type SharedState struct {
	ServerState SessionState
	DriverState SessionState

	NtpEpoch uint64

	Specs      vrcp.DeviceSpecs
	SpecsValid bool

	LatestPresent PresentInfo
	Tracking      TrackingState
	Window        measurement.Window
}

// EventNames are the well-known identifiers from spec §6.4, each created
// sender-side by exactly one process.
const (
	EventDriverStateChanged = "wvb_driver_state_changed"
	EventServerStateChanged = "wvb_server_state_changed"
	EventNewPresentInfo     = "wvb_new_present_info"
	EventNewTrackingData    = "wvb_new_tracking_data"
	EventFrameFinished      = "wvb_frame_finished"
	EventNewSystemSpecs     = "wvb_new_system_specs"
	EventNewBenchmarkData   = "wvb_new_benchmark_data"
	EventNewMeasurements    = "wvb_new_measurements"
)

// DefaultLockTimeout bounds one region acquisition attempt before the
// stuck-mutex recovery probe in shm.Region kicks in.
const DefaultLockTimeout = 50 * time.Millisecond

// Channel wires together the shared region and its events into the two
// per-process facades below (Driver, Server).
type Channel struct {
	region *shm.Region[SharedState]

	driverStateChanged *shm.Event
	serverStateChanged *shm.Event
	newPresentInfo     *shm.Event
	newTrackingData    *shm.Event
	frameFinished      *shm.Event
	newSystemSpecs     *shm.Event
	newBenchmarkData   *shm.Event
	newMeasurements    *shm.Event
}

// NewChannel creates the shared region and every named event, meant to
// be called once by whichever process creates the mapping (the server,
// per spec §4.7).
func NewChannel() *Channel {
	return &Channel{
		region:             shm.NewRegion[SharedState](),
		driverStateChanged: shm.NewEvent(EventDriverStateChanged),
		serverStateChanged: shm.NewEvent(EventServerStateChanged),
		newPresentInfo:     shm.NewEvent(EventNewPresentInfo),
		newTrackingData:    shm.NewEvent(EventNewTrackingData),
		frameFinished:      shm.NewEvent(EventFrameFinished),
		newSystemSpecs:     shm.NewEvent(EventNewSystemSpecs),
		newBenchmarkData:   shm.NewEvent(EventNewBenchmarkData),
		newMeasurements:    shm.NewEvent(EventNewMeasurements),
	}
}

// Driver is the driver-side facade: the driver writes PresentInfo and
// its own state, and reads tracking and specs. It has no accessor for the
// measurement window.
type Driver struct{ ch *Channel }

func (c *Channel) Driver() Driver { return Driver{ch: c} }

// PostPresentInfo writes the latest present info and signals
// new_present_info, per the server worker's wait loop in spec §4.8.
func (d Driver) PostPresentInfo(info PresentInfo) error {
	err := d.ch.region.Write(DefaultLockTimeout, func(s *SharedState) {
		s.LatestPresent = info
	})
	if err != nil {
		return err
	}
	d.ch.newPresentInfo.Signal()
	return nil
}

// SetState updates driver_state and signals driver_state_changed.
func (d Driver) SetState(state SessionState) error {
	err := d.ch.region.Write(DefaultLockTimeout, func(s *SharedState) {
		s.DriverState = state
	})
	if err != nil {
		return err
	}
	d.ch.driverStateChanged.Signal()
	return nil
}

// WaitFrameFinished blocks until the video worker has snapshotted the
// present info, so the driver can begin preparing the next frame.
func (d Driver) WaitFrameFinished(timeout time.Duration) bool {
	return d.ch.frameFinished.Wait(timeout)
}

// Tracking returns the latest tracking pose written by the server.
func (d Driver) Tracking(timeout time.Duration) (TrackingState, error) {
	s, err := d.ch.region.Read(timeout)
	return s.Tracking, err
}

// Specs returns the negotiated device specs, once the server has
// populated them.
func (d Driver) Specs(timeout time.Duration) (vrcp.DeviceSpecs, bool, error) {
	s, err := d.ch.region.Read(timeout)
	return s.Specs, s.SpecsValid, err
}

// Server is the server-side facade: the server writes tracking state,
// server state, specs and the measurement window, and reads present
// info. It has no accessor for the driver state.
type Server struct{ ch *Channel }

func (c *Channel) Server() Server { return Server{ch: c} }

// SetTracking writes the latest pose and signals new_tracking_data.
func (s Server) SetTracking(td vrcp.TrackingData) error {
	err := s.ch.region.Write(DefaultLockTimeout, func(st *SharedState) {
		st.Tracking = TrackingState{Tracking: td, Valid: true}
	})
	if err != nil {
		return err
	}
	s.ch.newTrackingData.Signal()
	return nil
}

// SetSpecs writes the negotiated device specs and signals
// new_system_specs, once per connection (spec §4.7).
func (s Server) SetSpecs(specs vrcp.DeviceSpecs) error {
	err := s.ch.region.Write(DefaultLockTimeout, func(st *SharedState) {
		st.Specs = specs
		st.SpecsValid = true
	})
	if err != nil {
		return err
	}
	s.ch.newSystemSpecs.Signal()
	return nil
}

// SetState updates server_state and signals server_state_changed.
func (s Server) SetState(state SessionState) error {
	err := s.ch.region.Write(DefaultLockTimeout, func(st *SharedState) {
		st.ServerState = state
	})
	if err != nil {
		return err
	}
	s.ch.serverStateChanged.Signal()
	return nil
}

// SetWindow writes the measurement window and signals
// new_benchmark_data.
func (s Server) SetWindow(w measurement.Window) error {
	err := s.ch.region.Write(DefaultLockTimeout, func(st *SharedState) {
		st.Window = w
	})
	if err != nil {
		return err
	}
	s.ch.newBenchmarkData.Signal()
	return nil
}

// WaitNewPresentInfo blocks until the driver posts a new frame, with the
// small timeout spec §4.8 calls for (~250ms), returning whether one
// arrived before the timeout.
func (s Server) WaitNewPresentInfo(timeout time.Duration) bool {
	return s.ch.newPresentInfo.Wait(timeout)
}

// SignalFrameFinished lets the driver start preparing its next frame
// immediately after the worker has snapshotted present info, per spec
// §4.8's "signal frame_finished immediately" step.
func (s Server) SignalFrameFinished() { s.ch.frameFinished.Signal() }

// LatestPresentInfo snapshots present info under the region's mutex.
func (s Server) LatestPresentInfo(timeout time.Duration) (PresentInfo, error) {
	st, err := s.ch.region.Read(timeout)
	return st.LatestPresent, err
}

// NewMeasurements signals that driver-side measurement samples are
// ready for the server to collect.
func (s Server) NewMeasurements() { s.ch.newMeasurements.Signal() }
