// Package codec defines the small capability interfaces that let the
// server video pipeline (package pipeline) and the client video socket
// (package videosocket) stay agnostic of which bytestream format is in
// use, per spec §4.8's note that "any codec with a bytestream packetizer
// may be plugged in".
package codec

// Timestamps carries the per-access-unit metadata that both the H.264 RTP
// packetizer and the simple TCP framer stamp onto every outgoing packet.
type Timestamps struct {
	RTPTimestamp  uint32
	PoseTimestamp uint32
	FrameID       uint32
	SSRC          uint32
}

// Packetizer turns one encoded access unit (e.g. an Annex-B H.264
// bytestream for one frame) into zero or more wire-ready packets.
type Packetizer interface {
	Packetize(accessUnit []byte, ts Timestamps, endOfStream bool) ([][]byte, error)
}

// FrameSink receives fully reassembled access units from a depacketizer,
// ready to be pushed into a decoder.
type FrameSink interface {
	OnFrame(frame []byte, poseTimestamp, frameID uint32, endOfStream bool)
}

// Depacketizer ingests raw wire packets (RTP or length-prefixed, depending
// on transport) and delivers complete frames to a FrameSink.
type Depacketizer interface {
	AddPacket(data []byte) error
}
