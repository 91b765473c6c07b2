// Package videosocket wraps the UDP/RTP and TCP/Simple video transports
// behind one interface, selected by the VRCP-negotiated video mode
// (spec §4.6's VideoMode, used by both the server pipeline and the
// client frame queue).
package videosocket

import (
	"errors"
	"net"
	"time"

	"github.com/martindanhier/wvb/codec"
	"github.com/martindanhier/wvb/h264"
	"github.com/martindanhier/wvb/netsock"
	"github.com/martindanhier/wvb/rtp"
	"github.com/martindanhier/wvb/simpleframe"
	"github.com/martindanhier/wvb/vrcp"
)

// SendBudget bounds how long a single SendFrame call may block on a
// congested TCP socket (passed through to netsock.TCPSocket.Send).
const SendBudget = 50 * time.Millisecond

// ErrUnsupportedCodec is returned when the chosen codec has no
// packetizer/depacketizer binding.
var ErrUnsupportedCodec = errors.New("videosocket: unsupported codec")

// Sender packetizes and transmits frames over whichever transport was
// negotiated.
type Sender struct {
	mode VideoMode
	udp  *netsock.UDPSocket
	tcp  *netsock.TCPSocket

	rtpPacketizer   *h264.Packetizer
	simplePacketizer *simpleframe.Packetizer
}

// VideoMode mirrors vrcp.VideoMode to keep this package's public API
// self-contained.
type VideoMode = vrcp.VideoMode

const (
	ModeUDP = vrcp.VideoModeUDP
	ModeTCP = vrcp.VideoModeTCP
)

// NewSender builds a sender for the given mode and codec. sock must be
// the matching concrete socket: *netsock.UDPSocket for ModeUDP,
// *netsock.TCPSocket for ModeTCP.
func NewSender(mode VideoMode, codecName string, udp *netsock.UDPSocket, tcp *netsock.TCPSocket) (*Sender, error) {
	s := &Sender{mode: mode, udp: udp, tcp: tcp}
	switch mode {
	case ModeUDP:
		if codecName != "h264" {
			return nil, ErrUnsupportedCodec
		}
		s.rtpPacketizer = h264.NewPacketizer()
	case ModeTCP:
		s.simplePacketizer = simpleframe.NewPacketizer()
	}
	return s, nil
}

// SendFrame packetizes frame and transmits it via the bound transport.
// dest is only used in ModeUDP (the UDP socket is connectionless).
func (s *Sender) SendFrame(frame []byte, ts codec.Timestamps, endOfStream bool, dest *net.UDPAddr) error {
	switch s.mode {
	case ModeUDP:
		packets, err := s.rtpPacketizer.Packetize(frame, ts, endOfStream)
		if err != nil {
			return err
		}
		for _, p := range packets {
			if _, err := s.udp.Send(p, dest); err != nil {
				return err
			}
		}
		return nil
	case ModeTCP:
		wire := s.simplePacketizer.Packetize(frame, ts, endOfStream)
		_, err := s.tcp.Send(wire, SendBudget)
		return err
	default:
		return ErrUnsupportedCodec
	}
}

// Receiver depacketizes frames arriving over whichever transport was
// negotiated, delivering complete frames to a codec.FrameSink.
type Receiver struct {
	mode VideoMode
	udp  *netsock.UDPSocket
	tcp  *netsock.TCPSocket

	rtpDepacketizer *rtp.Depacketizer
	simpleDepacketizer *simpleframe.Depacketizer
}

// NewReceiver builds a receiver delivering frames to sink.
func NewReceiver(mode VideoMode, codecName string, udp *netsock.UDPSocket, tcp *netsock.TCPSocket, sink codec.FrameSink) (*Receiver, error) {
	r := &Receiver{mode: mode, udp: udp, tcp: tcp}
	switch mode {
	case ModeUDP:
		if codecName != "h264" {
			return nil, ErrUnsupportedCodec
		}
		r.rtpDepacketizer = h264.NewChain(sink)
	case ModeTCP:
		r.simpleDepacketizer = simpleframe.NewDepacketizer(sink)
	}
	return r, nil
}

// PollOnce reads one datagram or one Receive()-sized chunk (bounded by
// timeout) and feeds it to the depacketizer chain. Returns
// netsock.ErrTimeout when nothing was available within timeout.
func (r *Receiver) PollOnce(buf []byte, timeout time.Duration) error {
	switch r.mode {
	case ModeUDP:
		n, _, err := r.udp.Receive(buf, timeout)
		if err != nil {
			return err
		}
		return r.rtpDepacketizer.AddPacket(buf[:n])
	case ModeTCP:
		n, err := r.tcp.Receive(buf, timeout)
		if err != nil {
			return err
		}
		return r.simpleDepacketizer.Feed(buf[:n])
	default:
		return ErrUnsupportedCodec
	}
}
