package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsIncrementAndGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FramesSent.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var got float64
	for _, f := range families {
		if f.GetName() == "wvb_frames_sent_total" {
			got = f.Metric[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(3), got)
}

func TestBroadcasterDropsOnFullBuffer(t *testing.T) {
	b := NewBroadcaster()
	ch := make(chan LiveSample, 1)
	b.subs[nil] = ch // direct injection: exercises Publish's non-blocking send without a real socket

	b.Publish(LiveSample{Kind: "frame_time", Timestamp: 1})
	b.Publish(LiveSample{Kind: "frame_time", Timestamp: 2})

	select {
	case s := <-ch:
		assert.Equal(t, uint32(1), s.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("expected first sample to be delivered")
	}
}
