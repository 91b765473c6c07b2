// Package netsock wraps TCP and UDP sockets with the non-blocking,
// deadline-driven discipline spec §4.2 requires: no call ever parks the
// caller's goroutine for longer than a short, explicit timeout, and every
// socket exposes its connection state and can be registered with a
// measurement bucket for byte/packet counters.
package netsock

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the TCP connection state machine of spec §4.2.
type State int32

const (
	StateNotStarted State = iota
	StateListening
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Errors returned by the socket wrappers. ErrWouldBlock/ErrTimeout are
// expected steady-state results, not failures: callers loop.
var (
	ErrWouldBlock = errors.New("netsock: would block")
	ErrTimeout    = errors.New("netsock: timed out")
	ErrClosed     = errors.New("netsock: peer reset or closed")
	ErrNotReady   = errors.New("netsock: socket not in a usable state")
)

// Counters is the set of byte/packet counters a socket reports into a
// registered measurement bucket. Implementations live in package
// measurement; netsock only depends on this small interface to avoid an
// import cycle.
type Counters interface {
	AddBytesSent(n int)
	AddBytesReceived(n int)
	AddPacketSent()
	AddPacketReceived()
}

// pollInterval is not referenced by Accept or Connect: each of them waits
// for the timeout its caller passes.
const pollInterval = 20 * time.Millisecond

// TCPSocket is a non-blocking TCP socket wrapper implementing the state
// machine NOT_STARTED -> (LISTENING|CONNECTING) -> CONNECTED -> CLOSED.
type TCPSocket struct {
	mu sync.Mutex
	log *logrus.Entry

	state    atomic.Int32
	listener net.Listener
	conn     net.Conn

	localAddr  net.Addr
	peerAddr   net.Addr

	counters Counters
}

// NewTCPSocket creates an idle (NOT_STARTED) TCP socket.
func NewTCPSocket() *TCPSocket {
	s := &TCPSocket{log: logrus.WithField("component", "netsock.tcp")}
	s.state.Store(int32(StateNotStarted))
	return s
}

// RegisterCounters attaches a measurement-bucket counter sink; all future
// sends/receives record into it.
func (s *TCPSocket) RegisterCounters(c Counters) { s.counters = c }

// State returns the current connection state.
func (s *TCPSocket) State() State { return State(s.state.Load()) }

// IsConnected reports whether the socket is in the CONNECTED state.
func (s *TCPSocket) IsConnected() bool { return s.State() == StateConnected }

// IsOpen reports whether the socket has live OS-level resources (i.e. is
// neither NOT_STARTED nor CLOSED).
func (s *TCPSocket) IsOpen() bool { return s.State() != StateClosed && s.State() != StateNotStarted }

// LocalAddr returns the local address, or nil if not yet bound.
func (s *TCPSocket) LocalAddr() net.Addr { return s.localAddr }

// PeerAddr returns the remote peer's address, or nil if not connected.
func (s *TCPSocket) PeerAddr() net.Addr { return s.peerAddr }

// Listen transitions NOT_STARTED -> LISTENING and begins accepting one
// connection. Callers loop calling Accept() until it returns something
// other than ErrTimeout.
func (s *TCPSocket) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.localAddr = l.Addr()
	s.state.Store(int32(StateListening))
	s.log.WithField("addr", addr).Debug("listening")
	return nil
}

// Accept polls for a single incoming connection with a bounded timeout.
// It returns ErrTimeout if none arrived yet; callers loop. On success the
// socket transitions to CONNECTED and the listening socket is no longer
// usable to accept further connections (one TCPSocket serves one peer).
func (s *TCPSocket) Accept(timeout time.Duration) error {
	if s.State() != StateListening {
		return ErrNotReady
	}
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := s.listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		s.mu.Lock()
		s.conn = r.conn
		s.peerAddr = r.conn.RemoteAddr()
		s.mu.Unlock()
		s.state.Store(int32(StateConnected))
		s.log.WithField("peer", s.peerAddr).Debug("accepted connection")
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// Connect transitions NOT_STARTED -> CONNECTING and attempts to reach
// addr. Returns ErrTimeout on a failed attempt within timeout; callers
// loop calling Connect again.
func (s *TCPSocket) Connect(addr string, timeout time.Duration) error {
	s.state.Store(int32(StateConnecting))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return ErrTimeout
	}
	s.mu.Lock()
	s.conn = conn
	s.localAddr = conn.LocalAddr()
	s.peerAddr = conn.RemoteAddr()
	s.mu.Unlock()
	s.state.Store(int32(StateConnected))
	s.log.WithField("peer", s.peerAddr).Debug("connected")
	return nil
}

// RefreshState MAY_PEEKs one byte to detect a closed peer, transitioning
// to CLOSED if the peer sent a FIN (read returns io.EOF).
func (s *TCPSocket) RefreshState() State {
	if s.State() != StateConnected {
		return s.State()
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return s.State()
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	one := make([]byte, 1)
	n, err := conn.Read(one)
	_ = conn.SetReadDeadline(time.Time{})
	if n == 0 && err != nil && !isTimeout(err) {
		s.state.Store(int32(StateClosed))
	}
	return s.State()
}

// Send writes data, looping up to budget for partial sends. Any
// peer-reset error transitions the socket to CLOSED.
func (s *TCPSocket) Send(data []byte, budget time.Duration) (int, error) {
	if s.State() != StateConnected {
		return 0, ErrNotReady
	}
	deadline := time.Now().Add(budget)
	total := 0
	for total < len(data) {
		_ = s.conn.SetWriteDeadline(deadline)
		n, err := s.conn.Write(data[total:])
		total += n
		if s.counters != nil && n > 0 {
			s.counters.AddBytesSent(n)
		}
		if err != nil {
			if isTimeout(err) {
				if time.Now().After(deadline) {
					return total, ErrTimeout
				}
				continue
			}
			s.state.Store(int32(StateClosed))
			return total, ErrClosed
		}
	}
	if s.counters != nil {
		s.counters.AddPacketSent()
	}
	return total, nil
}

// Receive reads up to len(buf) bytes with a bounded timeout. Returns
// ErrTimeout if nothing arrived, ErrClosed if the peer reset/closed.
func (s *TCPSocket) Receive(buf []byte, timeout time.Duration) (int, error) {
	if s.State() != StateConnected {
		return 0, ErrNotReady
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := s.conn.Read(buf)
	if n > 0 && s.counters != nil {
		s.counters.AddBytesReceived(n)
		s.counters.AddPacketReceived()
	}
	if err != nil {
		if isTimeout(err) {
			return n, ErrTimeout
		}
		s.state.Store(int32(StateClosed))
		return n, ErrClosed
	}
	if n == 0 {
		s.state.Store(int32(StateClosed))
		return 0, ErrClosed
	}
	return n, nil
}

// Close releases the socket's OS resources and transitions to CLOSED.
func (s *TCPSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.state.Store(int32(StateClosed))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
