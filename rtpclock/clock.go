// Package rtpclock implements the synchronized 90kHz RTP clock shared by
// the server, client and driver processes (spec §4.1). Its epoch is
// negotiated over the wire so all three agree on monotonic timestamps
// across machines.
package rtpclock

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TickRate is the fixed RTP clock rate in ticks per second.
const TickRate = 90000

// unixToNTPOffset is the number of seconds between 1/1/1900 and 1/1/1970.
const unixToNTPOffset = 2208988800

// epochLeadTime is how far before "now" the epoch is initially placed, so
// that a later downward adjustment (move_epoch with a negative offset)
// never needs to rewind past a zero timestamp.
const epochLeadTime = 30 * time.Minute

// ErrEpochTooOld is returned by SetEpoch when the supplied NTP seconds
// value predates the Unix epoch (1970), which the protocol never permits.
var ErrEpochTooOld = errors.New("rtpclock: ntp epoch predates 1970")

// Clock is a steady 90kHz clock used for all RTP timestamps exchanged
// between the server, client and driver. It is safe to read concurrently
// from multiple goroutines; mutating operations (ResetEpoch, SetEpoch,
// MoveEpoch) are intended to be called only by the owning side during the
// clock-sync phase, never after SYNC_FINISHED (see vrcp package).
type Clock struct {
	log *logrus.Entry

	// steadyEpoch is the wall-clock instant, measured via the Go
	// monotonic reading embedded in time.Now(), that ticks are counted
	// from.
	steadyEpoch time.Time
	// systemEpoch is the same instant expressed as a calendar time, used
	// to derive NtpEpoch().
	systemEpoch time.Time

	// offset is added to emitted timestamps and subtracted when parsing
	// incoming ones; used to probe receiver robustness against bogus
	// timestamps and to let the client slide its clock during sync.
	offset int64
}

// New creates a clock with a freshly reset epoch (see ResetEpoch).
func New() *Clock {
	c := &Clock{log: logrus.WithField("component", "rtpclock")}
	c.ResetEpoch()
	return c
}

// NewWithEpoch creates a clock adopting a peer's NTP epoch (seconds since
// 1900), as done by the client right after receiving CONN_ACCEPT.
func NewWithEpoch(ntpEpoch uint64) (*Clock, error) {
	c := &Clock{log: logrus.WithField("component", "rtpclock")}
	if err := c.SetEpoch(ntpEpoch); err != nil {
		return nil, err
	}
	return c, nil
}

// ResetEpoch snapshots the current time minus epochLeadTime as the new
// epoch. The lead time guarantees room to move the epoch backwards later
// without wrapping a timestamp past zero.
func (c *Clock) ResetEpoch() {
	now := monotonicNow()
	c.systemEpoch = now.Add(-epochLeadTime)
	c.steadyEpoch = now.Add(-epochLeadTime)
	c.offset = 0
	c.log.Debug("epoch reset")
}

// SetEpoch adopts a peer's NTP epoch (seconds since 1900). Fails if the
// resulting Unix time predates 1970.
func (c *Clock) SetEpoch(ntpSeconds uint64) error {
	if ntpSeconds < unixToNTPOffset {
		return ErrEpochTooOld
	}
	unixSeconds := int64(ntpSeconds) - unixToNTPOffset
	epoch := time.Unix(unixSeconds, 0)
	c.systemEpoch = epoch
	c.steadyEpoch = epoch
	c.offset = 0
	c.log.WithField("ntp_epoch", ntpSeconds).Debug("epoch set from peer")
	return nil
}

// MoveEpoch slides the epoch by amount (positive moves it into the past,
// making now_rtp_timestamp() larger; negative moves it into the future).
// Used by the client during clock sync to converge on the server's clock.
func (c *Clock) MoveEpoch(amount time.Duration) {
	c.systemEpoch = c.systemEpoch.Add(-amount)
	c.steadyEpoch = c.steadyEpoch.Add(-amount)
}

// NtpEpoch returns the epoch as seconds since 1/1/1900, for transmission
// in CONN_REQ's ntp_timestamp field.
func (c *Clock) NtpEpoch() uint64 {
	return uint64(c.systemEpoch.Unix()) + unixToNTPOffset
}

// NowRTPTimestamp returns the current time as ticks since the epoch plus
// the configured offset, truncated modulo 2^32.
func (c *Clock) NowRTPTimestamp() uint32 {
	return c.ToRTPTimestamp(monotonicNow())
}

// ToRTPTimestamp converts an arbitrary time.Time to an RTP timestamp
// relative to this clock's epoch.
func (c *Clock) ToRTPTimestamp(tp time.Time) uint32 {
	ticks := tp.Sub(c.steadyEpoch).Seconds() * TickRate
	return uint32(int64(ticks)) + uint32(c.offset)
}

// FromRTPTimestamp converts an RTP timestamp back to a time.Time. Exact
// round trip with ToRTPTimestamp modulo 2^32 and the configured offset,
// for any instant within roughly [-epochLeadTime, +2^31/90000s) of now.
func (c *Clock) FromRTPTimestamp(ts uint32) time.Time {
	adjusted := ts - uint32(c.offset)
	d := time.Duration(float64(adjusted) / TickRate * float64(time.Second))
	return c.steadyEpoch.Add(d)
}

// SetOffset sets the signed tick offset applied on emit and subtracted on
// parse, used to probe receiver robustness against skewed timestamps.
func (c *Clock) SetOffset(ticks int64) { c.offset = ticks }

// Offset returns the currently configured offset.
func (c *Clock) Offset() int64 { return c.offset }

// Compare implements the wrap-aware "a happened before b" relation:
// (a - b) mod 2^32 > 2^31 means a is earlier than b.
func Compare(a, b uint32) bool {
	return (a - b) > 0x80000000
}

// Distance returns the unsigned circular distance between two RTP
// timestamps, treating the 32-bit space symmetrically around the wrap
// boundary.
func Distance(a, b uint32) uint32 {
	d := a - b
	if d > 0x80000000 {
		return b - a
	}
	return d
}

// SignedDistance returns b - a as a wrap-aware signed value: negative
// when b appears to precede a once wrap-around is taken into account.
func SignedDistance(a, b uint32) int64 {
	d := int64(b) - int64(a)
	switch {
	case d > 1<<31:
		return d - 1<<32
	case d < -(1 << 31):
		return d + 1<<32
	default:
		return d
	}
}
