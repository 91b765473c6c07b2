//go:build linux

package rtpclock

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// monotonicRef anchors a CLOCK_MONOTONIC reading to the wall-clock time
// observed at (approximately) the same instant, taken once per process.
// CLOCK_MONOTONIC's own origin is arbitrary (usually boot), so a raw
// reading is meaningless as a calendar time; subtracting two readings and
// adding that delta to the wall-clock anchor gives a timestamp that still
// advances at the kernel's monotonic rate (immune to NTP step adjustments
// mid-session) while remaining usable with SetEpoch/NtpEpoch's calendar
// time arithmetic.
type monotonicRef struct {
	wall      time.Time
	monotonic unix.Timespec
}

var (
	monotonicRefOnce sync.Once
	monotonicRefVal  monotonicRef
	monotonicRefOK   bool
)

func initMonotonicRef() {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return
	}
	monotonicRefVal = monotonicRef{wall: time.Now(), monotonic: ts}
	monotonicRefOK = true
}

// monotonicNow reads CLOCK_MONOTONIC directly via the kernel vDSO entry
// point, matching the POSIX clock_gettime(CLOCK_MONOTONIC) the original
// epoch arithmetic in spec §4.1 is defined against, then reprojects it
// onto the wall-clock timeline captured by monotonicRef.
func monotonicNow() time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	monotonicRefOnce.Do(initMonotonicRef)
	if !monotonicRefOK {
		return time.Now()
	}
	delta := time.Duration(ts.Sec-monotonicRefVal.monotonic.Sec)*time.Second +
		time.Duration(ts.Nsec-monotonicRefVal.monotonic.Nsec)*time.Nanosecond
	return monotonicRefVal.wall.Add(delta)
}
