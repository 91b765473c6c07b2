package vrcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpecs() DeviceSpecs {
	return DeviceSpecs{
		EyeWidth: 1832, EyeHeight: 1920,
		RefreshRateNum: 90, RefreshRateDen: 1,
		Manufacturer: "Acme", SystemName: "Acme HMD",
		SupportedVideoCodecs: []string{"hevc", "h264"},
	}
}

func TestServerAcceptsValidConnReq(t *testing.T) {
	s := NewServer(ServerConfig{SupportedVideoCodecs: []string{"h264"}, UDPVRCPPort: 1, VideoPort: 2})
	resp := s.HandleConnReq(ConnReq{UDPVRCPPort: 10, VideoPort: 11, Specs: validSpecs()})

	accept, err := ParseConnAccept(resp)
	require.NoError(t, err)
	assert.Equal(t, "h264", accept.ChosenVideoCodec)
	assert.Equal(t, ServerNegotiating, s.State())
}

func TestServerRejectsUnsupportedCodec(t *testing.T) {
	s := NewServer(ServerConfig{SupportedVideoCodecs: []string{"av1"}})
	resp := s.HandleConnReq(ConnReq{UDPVRCPPort: 1, VideoPort: 2, Specs: validSpecs()})

	reject, err := ParseConnReject(resp)
	require.NoError(t, err)
	assert.Equal(t, RejectNoSupportedVideoCodec, reject.Reason)
	assert.Equal(t, ServerAwaitingConnection, s.State())
}

func TestServerRejectsMissingManufacturer(t *testing.T) {
	s := NewServer(ServerConfig{SupportedVideoCodecs: []string{"h264"}})
	specs := validSpecs()
	specs.Manufacturer = ""
	resp := s.HandleConnReq(ConnReq{UDPVRCPPort: 1, VideoPort: 2, Specs: specs})

	reject, err := ParseConnReject(resp)
	require.NoError(t, err)
	assert.Equal(t, RejectInvalidManufacturerName, reject.Reason)
}

func TestServerPingRoundTrip(t *testing.T) {
	s := NewServer(ServerConfig{SupportedVideoCodecs: []string{"h264"}})
	now := time.Now()
	pingBytes := s.SendPing(now)
	ping, err := ParsePing(pingBytes)
	require.NoError(t, err)

	reply := PingReply{PingID: ping.PingID, ReplyTimestamp: 123}
	rtt, ok := s.HandlePingReply(reply, now.Add(10*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, rtt)
}

func TestServerFullHandshakeToConnected(t *testing.T) {
	s := NewServer(ServerConfig{SupportedVideoCodecs: []string{"h264"}})
	s.HandleConnReq(ConnReq{UDPVRCPPort: 1, VideoPort: 2, Specs: validSpecs()})
	assert.Equal(t, ServerNegotiating, s.State())
	s.FinishSync()
	assert.Equal(t, ServerConnected, s.State())
}

func TestClientHandshakeFlow(t *testing.T) {
	c := NewClient()
	req := c.BuildConnReq(VideoModeUDP, 10, 11, validSpecs())
	assert.Equal(t, ClientNegotiating, c.State())

	parsed, err := ParseConnReq(req)
	require.NoError(t, err)
	assert.Equal(t, validSpecs(), parsed.Specs)

	c.HandleConnAccept(ConnAccept{UDPVRCPPort: 100, VideoPort: 101, ChosenVideoCodec: "h264"})
	assert.Equal(t, "h264", c.AcceptedCodec())

	require.NoError(t, c.HandleSyncFinished())
	assert.Equal(t, ClientConnected, c.State())
}

func TestClientHandlesReject(t *testing.T) {
	c := NewClient()
	c.BuildConnReq(VideoModeUDP, 1, 2, validSpecs())
	err := c.HandleConnReject(ConnReject{Reason: RejectVersionMismatch})
	var rejected *ErrRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectVersionMismatch, rejected.Reason)
	assert.Equal(t, ClientClosed, c.State())
}

func TestClientPingReplyEchoesTimestamp(t *testing.T) {
	reply := HandlePing(Ping{PingID: 7}, 555)
	parsed, err := ParsePingReply(reply)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), parsed.PingID)
	assert.Equal(t, uint32(555), parsed.ReplyTimestamp)
}

func TestAdvertisementExpiry(t *testing.T) {
	now := time.Now()
	a := Advertisement{ServerAdvertisement: ServerAdvertisement{Interval: 1}, Received: now}
	assert.False(t, a.Expired(now.Add(500*time.Millisecond)))
	assert.True(t, a.Expired(now.Add(5*time.Second)))
}
