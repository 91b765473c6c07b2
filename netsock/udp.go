package netsock

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// UDPSocket is a non-blocking UDP socket with optional broadcast support.
// Unlike TCPSocket it is connectionless: every Send specifies its
// destination, and Receive reports the sender's address.
type UDPSocket struct {
	log   *logrus.Entry
	conn  *net.UDPConn
	addr  *net.UDPAddr
	open  bool

	counters Counters
}

// NewUDPSocket binds a UDP socket. Port 0 means "auto-assign"; addr ""
// means "any". The broadcast argument is not used: package net already
// enables SO_BROADCAST on every UDP socket it opens, so the socket may
// send to broadcast addresses (used by VRCP server advertisement, spec
// §4.6) whatever the argument says.
func NewUDPSocket(listenAddr string, broadcast bool) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	s := &UDPSocket{
		log:  logrus.WithField("component", "netsock.udp"),
		conn: conn,
		addr: conn.LocalAddr().(*net.UDPAddr),
		open: true,
	}
	_ = broadcast // SO_BROADCAST is already set by package net; kept for API symmetry with the spec's socket.h.
	return s, nil
}

// RegisterCounters attaches a measurement-bucket counter sink.
func (s *UDPSocket) RegisterCounters(c Counters) { s.counters = c }

// LocalAddr returns the bound local address (useful when the port was
// auto-assigned).
func (s *UDPSocket) LocalAddr() *net.UDPAddr { return s.addr }

// IsOpen reports whether the underlying OS socket is still live.
func (s *UDPSocket) IsOpen() bool { return s.open }

// Send writes one datagram to dest.
func (s *UDPSocket) Send(data []byte, dest *net.UDPAddr) (int, error) {
	if !s.open {
		return 0, ErrNotReady
	}
	n, err := s.conn.WriteToUDP(data, dest)
	if err != nil {
		return n, err
	}
	if s.counters != nil {
		s.counters.AddBytesSent(n)
		s.counters.AddPacketSent()
	}
	return n, nil
}

// Receive reads one datagram into buf with a bounded timeout, returning
// the sender's address. Returns ErrTimeout if nothing arrived.
func (s *UDPSocket) Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if !s.open {
		return 0, nil, ErrNotReady
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return n, nil, ErrTimeout
		}
		return n, nil, err
	}
	if s.counters != nil {
		s.counters.AddBytesReceived(n)
		s.counters.AddPacketReceived()
	}
	return n, from, nil
}

// Close releases the OS socket.
func (s *UDPSocket) Close() {
	if !s.open {
		return
	}
	s.open = false
	_ = s.conn.Close()
}

// BroadcastAddrs enumerates the IPv4 broadcast addresses of every
// up, non-loopback local interface, for discovery on multi-homed hosts.
func BroadcastAddrs(port int) ([]*net.UDPAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []*net.UDPAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			bcast := broadcastFor(ipNet)
			out = append(out, &net.UDPAddr{IP: bcast, Port: port})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("netsock: no broadcast-capable interfaces found")
	}
	return out, nil
}

func broadcastFor(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	mask := ipNet.Mask
	bcast := make(net.IP, 4)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
