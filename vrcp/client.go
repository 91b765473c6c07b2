package vrcp

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClientState enumerates the client-side VRCP session states (spec §4.6).
type ClientState int

const (
	ClientAwaitingConnection ClientState = iota
	ClientNegotiating
	ClientConnected
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientAwaitingConnection:
		return "AWAITING_CONNECTION"
	case ClientNegotiating:
		return "NEGOTIATING"
	case ClientConnected:
		return "CONNECTED"
	case ClientClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrRejected wraps a server CONN_REJECT, preserving the reason.
type ErrRejected struct{ Reason RejectReason }

func (e *ErrRejected) Error() string { return "vrcp: connection rejected" }

// AdvertisementTTL is the safety margin added to an advertisement's
// declared Interval before it counts as expired, so a client does not
// race a server that is about to stop advertising; it also stands in for
// the Interval when an advertisement declares 0.
const AdvertisementTTL = 3 * time.Second

// Advertisement is a discovered server, timestamped on arrival so the
// client can expire stale entries.
type Advertisement struct {
	ServerAdvertisement
	Addr     string
	Received time.Time
}

// Expired reports whether this advertisement is older than its declared
// interval plus a safety margin.
func (a Advertisement) Expired(now time.Time) bool {
	margin := time.Duration(a.Interval) * time.Second
	if margin == 0 {
		margin = AdvertisementTTL
	}
	return now.Sub(a.Received) > margin+AdvertisementTTL
}

// Client drives the client-side session state machine.
type Client struct {
	log       *logrus.Entry
	sessionID uuid.UUID
	state     ClientState

	acceptedCodec   string
	serverUDPPort   uint16
	serverVideoPort uint16

	lastPingID     uint16
	lastPingSentAt time.Time
}

// NewClient creates a client session state machine, tagged with a
// random session id (see Server.SessionID for why).
func NewClient() *Client {
	id := uuid.New()
	return &Client{
		log:       logrus.WithFields(logrus.Fields{"component": "vrcp.client", "session_id": id}),
		sessionID: id,
		state:     ClientAwaitingConnection,
	}
}

// SessionID returns the random id assigned to this session at creation.
func (c *Client) SessionID() uuid.UUID { return c.sessionID }

// State returns the current session state.
func (c *Client) State() ClientState { return c.state }

func (c *Client) setState(next ClientState) {
	if next == c.state {
		return
	}
	c.log.WithFields(logrus.Fields{"from": c.state, "to": next}).Debug("vrcp client state transition")
	c.state = next
}

// BuildConnReq constructs the CONN_REQ packet to send to a discovered
// server, transitioning AWAITING_CONNECTION -> NEGOTIATING.
func (c *Client) BuildConnReq(mode VideoMode, udpVRCPPort, videoPort uint16, specs DeviceSpecs) []byte {
	c.setState(ClientNegotiating)
	return ConnReq{VideoMode: mode, UDPVRCPPort: udpVRCPPort, VideoPort: videoPort, Specs: specs}.Marshal()
}

// HandleConnAccept records the negotiated parameters.
func (c *Client) HandleConnAccept(a ConnAccept) {
	c.acceptedCodec = a.ChosenVideoCodec
	c.serverUDPPort = a.UDPVRCPPort
	c.serverVideoPort = a.VideoPort
}

// HandleConnReject converts a CONN_REJECT into an error and transitions
// to CLOSED.
func (c *Client) HandleConnReject(r ConnReject) error {
	c.setState(ClientClosed)
	return &ErrRejected{Reason: r.Reason}
}

// AcceptedCodec returns the codec the server chose.
func (c *Client) AcceptedCodec() string { return c.acceptedCodec }

// ServerUDPPort / ServerVideoPort return the ports the server accepted
// the session on.
func (c *Client) ServerUDPPort() uint16   { return c.serverUDPPort }
func (c *Client) ServerVideoPort() uint16 { return c.serverVideoPort }

// HandlePing answers a server PING with a PING_REPLY carrying the
// client's current RTP timestamp.
func HandlePing(p Ping, localRTPTimestamp uint32) []byte {
	return PingReply{PingID: p.PingID, ReplyTimestamp: localRTPTimestamp}.Marshal()
}

// HandleSyncFinished transitions NEGOTIATING -> CONNECTED.
func (c *Client) HandleSyncFinished() error {
	if c.state != ClientNegotiating {
		return errors.New("vrcp: sync finished received outside negotiating state")
	}
	c.setState(ClientConnected)
	return nil
}

// Close transitions to CLOSED from any state.
func (c *Client) Close() { c.setState(ClientClosed) }
