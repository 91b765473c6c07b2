package videosocket

import (
	"testing"
	"time"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/netsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	frames [][]byte
}

func (s *recordingSink) OnFrame(data []byte, poseTimestamp, frameID uint32, endOfStream bool) {
	s.frames = append(s.frames, append([]byte(nil), data...))
}

func TestUDPSenderReceiverRoundTrip(t *testing.T) {
	recvSock, err := netsock.NewUDPSocket("127.0.0.1:0", false)
	require.NoError(t, err)
	defer recvSock.Close()
	sendSock, err := netsock.NewUDPSocket("127.0.0.1:0", false)
	require.NoError(t, err)
	defer sendSock.Close()

	sink := &recordingSink{}
	receiver, err := NewReceiver(ModeUDP, "h264", recvSock, nil, sink)
	require.NoError(t, err)
	sender, err := NewSender(ModeUDP, "h264", sendSock, nil)
	require.NoError(t, err)

	frame := append([]byte{0, 0, 0, 1, 0x65}, make([]byte, 10)...)
	require.NoError(t, sender.SendFrame(frame, codec.Timestamps{}, true, recvSock.LocalAddr()))

	buf := make([]byte, 2048)
	deadline := time.Now().Add(time.Second)
	for len(sink.frames) == 0 && time.Now().Before(deadline) {
		_ = receiver.PollOnce(buf, 100*time.Millisecond)
	}
	require.Len(t, sink.frames, 1)
	assert.Equal(t, frame, sink.frames[0])
}
