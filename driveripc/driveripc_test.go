package driveripc

import (
	"testing"
	"time"

	"github.com/martindanhier/wvb/vrcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverPostPresentInfoSignalsServer(t *testing.T) {
	ch := NewChannel()
	driver := ch.Driver()
	server := ch.Server()

	require.NoError(t, driver.PostPresentInfo(PresentInfo{FrameID: 7, SampleTimestamp: 100}))
	require.True(t, server.WaitNewPresentInfo(time.Second))

	info, err := server.LatestPresentInfo(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), info.FrameID)
}

func TestServerSignalsFrameFinished(t *testing.T) {
	ch := NewChannel()
	server := ch.Server()
	driver := ch.Driver()

	go func() {
		time.Sleep(10 * time.Millisecond)
		server.SignalFrameFinished()
	}()
	assert.True(t, driver.WaitFrameFinished(time.Second))
}

func TestServerSetsTrackingDriverReads(t *testing.T) {
	ch := NewChannel()
	server := ch.Server()
	driver := ch.Driver()

	require.NoError(t, server.SetTracking(vrcp.TrackingData{SampleTimestamp: 42}))
	ts, err := driver.Tracking(time.Second)
	require.NoError(t, err)
	assert.True(t, ts.Valid)
	assert.Equal(t, uint32(42), ts.Tracking.SampleTimestamp)
}

func TestServerSetsSpecsDriverReads(t *testing.T) {
	ch := NewChannel()
	server := ch.Server()
	driver := ch.Driver()

	specs := vrcp.DeviceSpecs{Manufacturer: "Acme"}
	require.NoError(t, server.SetSpecs(specs))
	got, valid, err := driver.Specs(time.Second)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "Acme", got.Manufacturer)
}
