package pipeline

import (
	"testing"
	"time"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/driveripc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	pending [][]byte
}

func (e *fakeEncoder) Category() EncoderCategory { return EncoderSoftware }

func (e *fakeEncoder) Submit(textureHandle uintptr, ts codec.Timestamps) error {
	e.pending = append(e.pending, []byte{byte(ts.FrameID)})
	return nil
}

func (e *fakeEncoder) Pull() ([]byte, codec.Timestamps, bool, error) {
	if len(e.pending) == 0 {
		return nil, codec.Timestamps{}, false, nil
	}
	p := e.pending[0]
	e.pending = e.pending[1:]
	return p, codec.Timestamps{}, true, nil
}

type fakeSender struct {
	sent [][]byte
}

func (s *fakeSender) SendFrame(packet []byte, ts codec.Timestamps, endOfStream bool) error {
	s.sent = append(s.sent, packet)
	return nil
}

func TestWorkerSendsFramesInFIFOOrder(t *testing.T) {
	ch := driveripc.NewChannel()
	driver := ch.Driver()
	enc := &fakeEncoder{}
	sender := &fakeSender{}

	w := NewWorker(Config{
		Server:        ch.Server(),
		Encoder:       enc,
		Sender:        sender,
		FrameInterval: time.Second,
		Slack:         time.Second,
	})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	for i := uint32(0); i < 3; i++ {
		require.NoError(t, driver.PostPresentInfo(driveripc.PresentInfo{FrameID: i, PresentedAt: time.Now()}))
		require.True(t, driver.WaitFrameFinished(time.Second))
	}

	deadline := time.Now().Add(time.Second)
	for len(sender.sent) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.RequestKill()
	<-done

	require.Len(t, sender.sent, 3)
	assert.Equal(t, byte(0), sender.sent[0][0])
	assert.Equal(t, byte(1), sender.sent[1][0])
	assert.Equal(t, byte(2), sender.sent[2][0])
	assert.Equal(t, uint64(3), w.FramesSent())
}

func TestWorkerDropsStaleFrame(t *testing.T) {
	ch := driveripc.NewChannel()
	driver := ch.Driver()
	enc := &fakeEncoder{}
	sender := &fakeSender{}

	w := NewWorker(Config{
		Server:        ch.Server(),
		Encoder:       enc,
		Sender:        sender,
		FrameInterval: time.Millisecond,
		Slack:         0,
	})

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()

	require.NoError(t, driver.PostPresentInfo(driveripc.PresentInfo{
		FrameID:     99,
		PresentedAt: time.Now().Add(-time.Second),
	}))
	require.True(t, driver.WaitFrameFinished(time.Second))

	deadline := time.Now().Add(200 * time.Millisecond)
	for w.FramesDropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.RequestKill()
	<-done

	assert.Equal(t, uint64(1), w.FramesDropped())
	assert.Empty(t, sender.sent)
}
