package shm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Counter int
}

func TestRegionReadWrite(t *testing.T) {
	r := NewRegion[payload]()
	require.NoError(t, r.Write(time.Second, func(p *payload) { p.Counter = 5 }))
	got, err := r.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Counter)
}

func TestRegionStuckMutexRecovery(t *testing.T) {
	r := NewRegion[payload]()
	require.True(t, r.mu.TryLock(time.Millisecond)) // simulate a holder that never unlocks

	// Read should time out on the first attempt, force-release, and
	// succeed on retry.
	_, err := r.Read(10 * time.Millisecond)
	require.NoError(t, err)
}

func TestEventSignalCoalesces(t *testing.T) {
	e := NewEvent("test")
	e.Signal()
	e.Signal()
	require.True(t, e.Wait(time.Second))
	assert.False(t, e.Wait(10*time.Millisecond))
}
