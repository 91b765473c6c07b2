package vrcp

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServerState enumerates the server-side VRCP session states (spec §4.6).
type ServerState int

const (
	ServerAwaitingConnection ServerState = iota
	ServerNegotiating
	ServerConnected
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerAwaitingConnection:
		return "AWAITING_CONNECTION"
	case ServerNegotiating:
		return "NEGOTIATING"
	case ServerConnected:
		return "CONNECTED"
	case ServerClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrUnsupportedCodec is returned when no codec in the client's request
// intersects the server's supported set.
var ErrUnsupportedCodec = errors.New("vrcp: no supported video codec in common")

// ServerConfig carries the server's fixed negotiation parameters.
type ServerConfig struct {
	SupportedVideoCodecs []string
	UDPVRCPPort          uint16
	VideoPort            uint16
}

// Server drives one client session's state machine, from the first
// CONN_REQ through CONNECTED, including clock sync (spec §6.1).
type Server struct {
	log       *logrus.Entry
	sessionID uuid.UUID
	cfg       ServerConfig
	state     ServerState

	chosenCodec string
	clientSpecs DeviceSpecs

	pingsSent  map[uint16]time.Time
	nextPingID uint16
	rttSamples []time.Duration
}

// NewServer creates a server session state machine. Each session is
// tagged with a random id so its log lines can be told apart from a
// previous session in the same process, since ports and peer addresses
// are reused across reconnects.
func NewServer(cfg ServerConfig) *Server {
	id := uuid.New()
	return &Server{
		log:       logrus.WithFields(logrus.Fields{"component": "vrcp.server", "session_id": id}),
		sessionID: id,
		cfg:       cfg,
		state:     ServerAwaitingConnection,
		pingsSent: make(map[uint16]time.Time),
	}
}

// SessionID returns the random id assigned to this session at creation,
// used to correlate this session's log lines across packages.
func (s *Server) SessionID() uuid.UUID { return s.sessionID }

// State returns the current session state.
func (s *Server) State() ServerState { return s.state }

func (s *Server) setState(next ServerState) {
	if next == s.state {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state, "to": next}).Debug("vrcp server state transition")
	s.state = next
}

func chooseCodec(supported, requested []string) string {
	req := make(map[string]bool, len(requested))
	for _, c := range requested {
		req[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for _, c := range supported {
		if req[strings.ToLower(c)] {
			return c
		}
	}
	return ""
}

// HandleConnReq validates an incoming CONN_REQ and returns either a
// CONN_ACCEPT or CONN_REJECT packet to send back. It transitions
// AWAITING_CONNECTION -> NEGOTIATING on acceptance.
func (s *Server) HandleConnReq(req ConnReq) []byte {
	if s.state != ServerAwaitingConnection {
		return ConnReject{Reason: RejectGenericError}.Marshal()
	}
	if req.Specs.EyeWidth == 0 || req.Specs.EyeHeight == 0 {
		return ConnReject{Reason: RejectInvalidEyeSize}.Marshal()
	}
	if req.Specs.RefreshRateNum == 0 || req.Specs.RefreshRateDen == 0 {
		return ConnReject{Reason: RejectInvalidRefreshRate}.Marshal()
	}
	if req.Specs.Manufacturer == "" {
		return ConnReject{Reason: RejectInvalidManufacturerName}.Marshal()
	}
	if req.Specs.SystemName == "" {
		return ConnReject{Reason: RejectInvalidSystemName}.Marshal()
	}
	if len(req.Specs.SupportedVideoCodecs) == 0 {
		return ConnReject{Reason: RejectInvalidVideoCodecs}.Marshal()
	}
	codec := chooseCodec(s.cfg.SupportedVideoCodecs, req.Specs.SupportedVideoCodecs)
	if codec == "" {
		return ConnReject{Reason: RejectNoSupportedVideoCodec}.Marshal()
	}
	if req.UDPVRCPPort == 0 || req.VideoPort == 0 {
		return ConnReject{Reason: RejectInvalidVideoPort}.Marshal()
	}

	s.chosenCodec = codec
	s.clientSpecs = req.Specs
	s.setState(ServerNegotiating)

	return ConnAccept{
		UDPVRCPPort:      s.cfg.UDPVRCPPort,
		VideoPort:        s.cfg.VideoPort,
		ChosenVideoCodec: codec,
	}.Marshal()
}

// ChosenCodec returns the negotiated video codec after HandleConnReq
// accepted the session.
func (s *Server) ChosenCodec() string { return s.chosenCodec }

// ClientSpecs returns the connecting client's device specs.
func (s *Server) ClientSpecs() DeviceSpecs { return s.clientSpecs }

// SendPing issues the next PING packet for the clock-sync exchange and
// records its send time for RTT computation.
func (s *Server) SendPing(now time.Time) []byte {
	id := s.nextPingID
	s.nextPingID++
	s.pingsSent[id] = now
	return Ping{PingID: id}.Marshal()
}

// HandlePingReply records an RTT sample; the caller supplies `now` so the
// function stays deterministic and testable.
func (s *Server) HandlePingReply(reply PingReply, now time.Time) (time.Duration, bool) {
	sent, ok := s.pingsSent[reply.PingID]
	if !ok {
		return 0, false
	}
	delete(s.pingsSent, reply.PingID)
	rtt := now.Sub(sent)
	s.rttSamples = append(s.rttSamples, rtt)
	return rtt, true
}

// FinishSync transitions NEGOTIATING -> CONNECTED once clock sync and
// benchmark negotiation (if any) have completed.
func (s *Server) FinishSync() {
	if s.state == ServerNegotiating {
		s.setState(ServerConnected)
	}
}

// Close transitions to CLOSED from any state.
func (s *Server) Close() { s.setState(ServerClosed) }
