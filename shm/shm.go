// Package shm provides the shared-state primitives used by the driver
// <-> server IPC channel (spec §4.7): a single-writer/single-reader
// mutex-protected region and unidirectional named events.
//
// The real per-OS shared-memory and event primitives (Windows
// CreateFileMapping/CreateEvent, POSIX shm_open/sem_open, ...) are
// explicitly out of scope (spec §1); this package implements the portable
// logic above that boundary — the region wrapper, the timed/stuck-mutex
// recovery policy, and the edge-triggered event semantics — behind a
// small interface so a platform-specific transport can be substituted
// without touching package driveripc.
package shm

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLockTimeout is returned when a region's mutex could not be acquired,
// even after the stuck-mutex recovery probe.
var ErrLockTimeout = errors.New("shm: mutex acquisition timed out")

// TimedMutex is a mutex that supports bounded-wait acquisition and a
// force-release recovery path, modelling the cross-process mutex
// described in spec §4.7 ("acquired with a timeout; a stuck-mutex
// recovery probes the lock and force-releases on timeout").
type TimedMutex struct {
	token chan struct{}
}

// NewTimedMutex creates an unlocked mutex.
func NewTimedMutex() *TimedMutex {
	m := &TimedMutex{token: make(chan struct{}, 1)}
	m.token <- struct{}{}
	return m
}

// TryLock attempts to acquire the mutex within timeout.
func (m *TimedMutex) TryLock(timeout time.Duration) bool {
	select {
	case <-m.token:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Unlock releases the mutex. Safe to call even if already unlocked (a
// force-release may have already done so), matching the recovery path's
// need to never double-block.
func (m *TimedMutex) Unlock() {
	select {
	case m.token <- struct{}{}:
	default:
	}
}

// ForceRelease unconditionally makes the mutex acquirable again, used
// when a holder is suspected dead (crashed while holding the lock).
func (m *TimedMutex) ForceRelease() {
	select {
	case m.token <- struct{}{}:
	default:
	}
}

// Region is a mutex-protected value shared between exactly one writer
// process and one reader process (per field; see driveripc for the actual
// field ownership split). T should be a plain data struct copied by
// value, matching the "mutex held only for the duration of a struct copy"
// guidance in spec §5.
type Region[T any] struct {
	log   *logrus.Entry
	mu    *TimedMutex
	value T
}

// NewRegion creates a region holding the zero value of T.
func NewRegion[T any]() *Region[T] {
	return &Region[T]{
		log: logrus.WithField("component", "shm.region"),
		mu:  NewTimedMutex(),
	}
}

// acquire implements the bounded-wait-then-probe-then-force recovery
// policy: try once within timeout; if that fails, assume the holder may
// be stuck, force-release, and try once more.
func (r *Region[T]) acquire(timeout time.Duration) bool {
	if r.mu.TryLock(timeout) {
		return true
	}
	r.log.Warn("mutex acquisition timed out, probing for a stuck holder")
	r.mu.ForceRelease()
	return r.mu.TryLock(timeout)
}

// Read returns a copy of the current value, or ErrLockTimeout.
func (r *Region[T]) Read(timeout time.Duration) (T, error) {
	if !r.acquire(timeout) {
		var zero T
		return zero, ErrLockTimeout
	}
	defer r.mu.Unlock()
	return r.value, nil
}

// Write invokes fn with a pointer to the live value under the lock,
// allowing an in-place update, and returns ErrLockTimeout on failure to
// acquire.
func (r *Region[T]) Write(timeout time.Duration, fn func(*T)) error {
	if !r.acquire(timeout) {
		return ErrLockTimeout
	}
	defer r.mu.Unlock()
	fn(&r.value)
	return nil
}

// Event is a unidirectional, edge-triggered named event: exactly one
// process is its sender (calls Signal), any number may Wait on it.
// Edge-triggered means a signal delivered while nobody is waiting is not
// lost, but is coalesced with any other pending signal — callers must
// re-check the guarded condition after each successful wait, per spec
// §4.7's "Cross-process events must remain edge-triggered" design note.
type Event struct {
	name string
	ch   chan struct{}
}

// NewEvent creates a named event. The name matches the well-known
// identifiers spec §6.4 calls for (e.g. "wvb_new_present_info").
func NewEvent(name string) *Event {
	return &Event{name: name, ch: make(chan struct{}, 1)}
}

// Name returns the event's well-known identifier.
func (e *Event) Name() string { return e.name }

// Signal raises the event. Multiple signals before a Wait coalesce into
// a single pending wakeup, matching OS auto-reset event semantics.
func (e *Event) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is signalled or timeout elapses, returning
// true if it was signalled.
func (e *Event) Wait(timeout time.Duration) bool {
	select {
	case <-e.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
