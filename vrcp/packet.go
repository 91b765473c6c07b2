// Package vrcp implements the VR Control Protocol: packet framing, the
// handshake/negotiation state machines for both ends of a session, and
// the clock-synchronization exchange (spec §4.6, §6.1).
package vrcp

import (
	"errors"

	"github.com/martindanhier/wvb/wire"
)

// RowSize is the size in bytes of one VRCP "row"; every packet's wire
// length is exactly NRows * RowSize.
const RowSize = 4

// Magic and Version identify a well-formed VRCP advertisement.
const (
	Magic          uint8 = 0x4D
	Version        uint8 = 1
	DefaultAdvertisementPort = 7672
)

// FieldType is the one-byte packet type code in the base header.
type FieldType uint8

// userDataBit marks a user tunnel packet (high bit of ftype set).
const userDataBit = 0b10000000

const (
	FieldInvalid FieldType = 0x00
	FieldConnReq FieldType = 0x01
	FieldConnAccept FieldType = 0x02
	FieldConnReject FieldType = 0x03
	FieldInputData FieldType = 0x04
	FieldTrackingData FieldType = 0x05

	FieldManufacturerNameTLV FieldType = 0x09
	FieldSystemNameTLV FieldType = 0x0A
	FieldSupportedVideoCodecsTLV FieldType = 0x0B
	FieldChosenVideoCodecTLV FieldType = 0x0C

	FieldPing FieldType = 0x10
	FieldPingReply FieldType = 0x11
	FieldSyncFinished FieldType = 0x12

	FieldBenchmarkInfo FieldType = 0x20
	FieldMeasurementTransferFinished FieldType = 0x21
	FieldFrameTimeMeasurement FieldType = 0x22
	FieldImageQualityMeasurement FieldType = 0x23
	FieldTrackingTimeMeasurement FieldType = 0x24
	FieldNetworkMeasurement FieldType = 0x25
	FieldSocketMeasurement FieldType = 0x26
	FieldNextPass FieldType = 0x27
	FieldFrameCaptureFragment FieldType = 0x28

	FieldServerAdvertisement FieldType = 0x70

	FieldUserData FieldType = 0x80
)

// IsUserField reports whether ftype's high bit (the user-tunnel marker)
// is set.
func IsUserField(ftype FieldType) bool { return uint8(ftype)&userDataBit != 0 }

// VideoMode selects the video transport negotiated in CONN_REQ/ACCEPT.
type VideoMode uint8

const (
	VideoModeUDP VideoMode = 0
	VideoModeTCP VideoMode = 1
)

// RejectReason enumerates why a server refused a CONN_REQ.
type RejectReason uint8

const (
	RejectNone RejectReason = 0
	RejectGenericError RejectReason = 1
	RejectVersionMismatch RejectReason = 2
	RejectInvalidVRCPPort RejectReason = 3
	RejectInvalidVideoPort RejectReason = 4
	RejectInvalidEyeSize RejectReason = 5
	RejectInvalidRefreshRate RejectReason = 6
	RejectInvalidManufacturerName RejectReason = 7
	RejectInvalidSystemName RejectReason = 8
	RejectInvalidVideoCodecs RejectReason = 9
	RejectNoSupportedVideoCodec RejectReason = 10
	RejectVideoModeMismatch RejectReason = 11
	RejectInvalidNTPTimestamp RejectReason = 12
)

// ErrMalformed is returned for any packet failing size/magic/field
// validation; per spec §7 such packets are silently dropped by callers.
var ErrMalformed = errors.New("vrcp: malformed packet")

// BaseHeader is the 4-byte prefix common to every VRCP packet.
type BaseHeader struct {
	FType FieldType
	NRows uint8
}

// WireLen returns the total packet length implied by NRows.
func (h BaseHeader) WireLen() int { return int(h.NRows) * RowSize }

// ParseBaseHeader reads the 4-byte base header from the front of data. A
// zero NRows is malformed (treated as a 1-row packet and skipped by the
// caller), per spec §4.6.
func ParseBaseHeader(data []byte) (BaseHeader, bool) {
	if len(data) < RowSize {
		return BaseHeader{}, false
	}
	h := BaseHeader{FType: FieldType(data[0]), NRows: data[1]}
	if h.NRows == 0 {
		return h, false
	}
	return h, true
}

// ServerAdvertisement is the SERVER_ADVERTISEMENT packet (12 bytes).
type ServerAdvertisement struct {
	TCPPort     uint16
	Interval    uint8
	UnixSeconds uint32
}

func (a ServerAdvertisement) Marshal() []byte {
	b := make([]byte, 12)
	b[0] = byte(FieldServerAdvertisement)
	b[1] = 3
	b[2] = Magic
	b[3] = Version
	wire.PutU16(b[4:6], a.TCPPort)
	b[6] = a.Interval
	b[7] = 0
	wire.PutU32(b[8:12], a.UnixSeconds)
	return b
}

func ParseServerAdvertisement(data []byte) (ServerAdvertisement, error) {
	if len(data) != 12 || data[0] != byte(FieldServerAdvertisement) || data[1] != 3 {
		return ServerAdvertisement{}, ErrMalformed
	}
	if data[2] != Magic || data[3] != Version {
		return ServerAdvertisement{}, ErrMalformed
	}
	return ServerAdvertisement{
		TCPPort:     wire.U16(data[4:6]),
		Interval:    data[6],
		UnixSeconds: wire.U32(data[8:12]),
	}, nil
}

// DeviceSpecs mirrors §3's "VR system specs" as carried in CONN_REQ.
type DeviceSpecs struct {
	EyeWidth, EyeHeight             uint16
	RefreshRateNum, RefreshRateDen  uint16
	IPD, EyeToHeadDistance          float32
	WorldBoundsWidth, WorldBoundsHeight float32
	NTPTimestamp                    uint64
	Manufacturer, SystemName        string
	SupportedVideoCodecs            []string
}

// ConnReq is the CONN_REQ packet: fixed fields + TLVs for the variable
// length manufacturer/system/codec strings, per spec §6.1.
type ConnReq struct {
	VideoMode   VideoMode
	UDPVRCPPort uint16
	VideoPort   uint16
	Specs       DeviceSpecs
}

const connReqFixedRows = 10

func tlv(ftype FieldType, value []byte) []byte {
	out := []byte{byte(ftype), byte(len(value))}
	out = append(out, value...)
	return out
}

func padTo4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// Marshal encodes the CONN_REQ packet including its TLVs, padded to a
// multiple of 4 bytes, with NRows set to the resulting total.
func (r ConnReq) Marshal() []byte {
	fixed := make([]byte, connReqFixedRows*RowSize)
	fixed[0] = byte(FieldConnReq)
	// fixed[1] (n_rows) patched below once total size is known.
	fixed[2] = Version
	fixed[3] = byte(r.VideoMode)
	wire.PutU16(fixed[4:6], r.UDPVRCPPort)
	wire.PutU16(fixed[6:8], r.VideoPort)
	wire.PutU16(fixed[8:10], r.Specs.EyeWidth)
	wire.PutU16(fixed[10:12], r.Specs.EyeHeight)
	wire.PutU16(fixed[12:14], r.Specs.RefreshRateNum)
	wire.PutU16(fixed[14:16], r.Specs.RefreshRateDen)
	wire.PutF32(fixed[16:20], r.Specs.IPD)
	wire.PutF32(fixed[20:24], r.Specs.EyeToHeadDistance)
	wire.PutF32(fixed[24:28], r.Specs.WorldBoundsWidth)
	wire.PutF32(fixed[28:32], r.Specs.WorldBoundsHeight)
	wire.PutU64(fixed[32:40], r.Specs.NTPTimestamp)

	var tail []byte
	tail = append(tail, tlv(FieldManufacturerNameTLV, []byte(r.Specs.Manufacturer))...)
	tail = append(tail, tlv(FieldSystemNameTLV, []byte(r.Specs.SystemName))...)
	tail = append(tail, tlv(FieldSupportedVideoCodecsTLV, []byte(joinCSV(r.Specs.SupportedVideoCodecs)))...)
	tail = padTo4(tail)

	out := append(fixed, tail...)
	out[1] = byte(len(out) / RowSize)
	return out
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

// ParseConnReq decodes a CONN_REQ packet, including its TLVs.
func ParseConnReq(data []byte) (ConnReq, error) {
	if len(data) < connReqFixedRows*RowSize || data[0] != byte(FieldConnReq) {
		return ConnReq{}, ErrMalformed
	}
	wireLen := int(data[1]) * RowSize
	if wireLen > len(data) || wireLen < connReqFixedRows*RowSize {
		return ConnReq{}, ErrMalformed
	}
	data = data[:wireLen]

	var r ConnReq
	r.VideoMode = VideoMode(data[3])
	r.UDPVRCPPort = wire.U16(data[4:6])
	r.VideoPort = wire.U16(data[6:8])
	r.Specs.EyeWidth = wire.U16(data[8:10])
	r.Specs.EyeHeight = wire.U16(data[10:12])
	r.Specs.RefreshRateNum = wire.U16(data[12:14])
	r.Specs.RefreshRateDen = wire.U16(data[14:16])
	r.Specs.IPD = wire.F32(data[16:20])
	r.Specs.EyeToHeadDistance = wire.F32(data[20:24])
	r.Specs.WorldBoundsWidth = wire.F32(data[24:28])
	r.Specs.WorldBoundsHeight = wire.F32(data[28:32])
	r.Specs.NTPTimestamp = wire.U64(data[32:40])

	tail := data[connReqFixedRows*RowSize:]
	tlvs, err := parseTLVs(tail)
	if err != nil {
		return ConnReq{}, err
	}
	for _, t := range tlvs {
		switch FieldType(t.Type) {
		case FieldManufacturerNameTLV:
			r.Specs.Manufacturer = string(t.Value)
		case FieldSystemNameTLV:
			r.Specs.SystemName = string(t.Value)
		case FieldSupportedVideoCodecsTLV:
			r.Specs.SupportedVideoCodecs = splitCSV(string(t.Value))
		}
	}
	return r, nil
}

type parsedTLV struct {
	Type  uint8
	Value []byte
}

func parseTLVs(data []byte) ([]parsedTLV, error) {
	var out []parsedTLV
	i := 0
	for i < len(data) {
		if data[i] == 0 {
			break // padding
		}
		if i+2 > len(data) {
			return nil, ErrMalformed
		}
		length := int(data[i+1])
		if i+2+length > len(data) {
			return nil, ErrMalformed
		}
		out = append(out, parsedTLV{Type: data[i], Value: data[i+2 : i+2+length]})
		i += 2 + length
	}
	return out, nil
}

// ConnAccept is the CONN_ACCEPT packet.
type ConnAccept struct {
	UDPVRCPPort uint16
	VideoPort   uint16
	ChosenVideoCodec string
}

func (a ConnAccept) Marshal() []byte {
	fixed := make([]byte, 2*RowSize)
	fixed[0] = byte(FieldConnAccept)
	fixed[1] = 2
	wire.PutU16(fixed[4:6], a.UDPVRCPPort)
	wire.PutU16(fixed[6:8], a.VideoPort)
	tail := padTo4(tlv(FieldChosenVideoCodecTLV, []byte(a.ChosenVideoCodec)))
	out := append(fixed, tail...)
	out[1] = byte(len(out) / RowSize)
	return out
}

func ParseConnAccept(data []byte) (ConnAccept, error) {
	if len(data) < 2*RowSize || data[0] != byte(FieldConnAccept) {
		return ConnAccept{}, ErrMalformed
	}
	wireLen := int(data[1]) * RowSize
	if wireLen > len(data) || wireLen < 2*RowSize {
		return ConnAccept{}, ErrMalformed
	}
	data = data[:wireLen]
	var a ConnAccept
	a.UDPVRCPPort = wire.U16(data[4:6])
	a.VideoPort = wire.U16(data[6:8])
	tlvs, err := parseTLVs(data[2*RowSize:])
	if err != nil {
		return ConnAccept{}, err
	}
	for _, t := range tlvs {
		if FieldType(t.Type) == FieldChosenVideoCodecTLV {
			a.ChosenVideoCodec = string(t.Value)
		}
	}
	return a, nil
}

// ConnReject is the 4-byte CONN_REJECT packet.
type ConnReject struct {
	Reason RejectReason
	Data   uint8
}

func (r ConnReject) Marshal() []byte {
	return []byte{byte(FieldConnReject), 1, byte(r.Reason), r.Data}
}

func ParseConnReject(data []byte) (ConnReject, error) {
	if len(data) != 4 || data[0] != byte(FieldConnReject) {
		return ConnReject{}, ErrMalformed
	}
	return ConnReject{Reason: RejectReason(data[2]), Data: data[3]}, nil
}

// Ping is the 4-byte PING packet sent by the server during clock sync.
type Ping struct{ PingID uint16 }

func (p Ping) Marshal() []byte {
	b := make([]byte, 4)
	b[0] = byte(FieldPing)
	b[1] = 1
	wire.PutU16(b[2:4], p.PingID)
	return b
}

func ParsePing(data []byte) (Ping, error) {
	if len(data) != 4 || data[0] != byte(FieldPing) {
		return Ping{}, ErrMalformed
	}
	return Ping{PingID: wire.U16(data[2:4])}, nil
}

// PingReply is the 8-byte PING_REPLY packet.
type PingReply struct {
	PingID          uint16
	ReplyTimestamp  uint32
}

func (p PingReply) Marshal() []byte {
	b := make([]byte, 8)
	b[0] = byte(FieldPingReply)
	b[1] = 2
	wire.PutU16(b[2:4], p.PingID)
	wire.PutU32(b[4:8], p.ReplyTimestamp)
	return b
}

func ParsePingReply(data []byte) (PingReply, error) {
	if len(data) != 8 || data[0] != byte(FieldPingReply) {
		return PingReply{}, ErrMalformed
	}
	return PingReply{PingID: wire.U16(data[2:4]), ReplyTimestamp: wire.U32(data[4:8])}, nil
}

// SyncFinished is the 4-byte SYNC_FINISHED packet.
func MarshalSyncFinished() []byte { return []byte{byte(FieldSyncFinished), 1, 0, 0} }

// TrackingData is the 72-byte TRACKING_DATA packet (spec §6.1).
type TrackingData struct {
	SampleTimestamp uint32
	PoseTimestamp   uint32
	OrientationX, OrientationY, OrientationZ, OrientationW float32
	PositionX, PositionY, PositionZ                        float32
	LeftFOV, RightFOV, UpFOV, DownFOV                      float32 // left eye
	LeftFOV2, RightFOV2, UpFOV2, DownFOV2                  float32 // right eye
}

const trackingDataRows = 18

func (t TrackingData) Marshal() []byte {
	b := make([]byte, trackingDataRows*RowSize)
	b[0] = byte(FieldTrackingData)
	b[1] = trackingDataRows
	wire.PutU32(b[4:8], t.SampleTimestamp)
	wire.PutU32(b[8:12], t.PoseTimestamp)
	vals := []float32{
		t.OrientationX, t.OrientationY, t.OrientationZ, t.OrientationW,
		t.PositionX, t.PositionY, t.PositionZ,
		t.LeftFOV, t.RightFOV, t.UpFOV, t.DownFOV,
		t.LeftFOV2, t.RightFOV2, t.UpFOV2, t.DownFOV2,
	}
	off := 12
	for _, v := range vals {
		wire.PutF32(b[off:off+4], v)
		off += 4
	}
	return b
}

func ParseTrackingData(data []byte) (TrackingData, error) {
	if len(data) != trackingDataRows*RowSize || data[0] != byte(FieldTrackingData) {
		return TrackingData{}, ErrMalformed
	}
	var t TrackingData
	t.SampleTimestamp = wire.U32(data[4:8])
	t.PoseTimestamp = wire.U32(data[8:12])
	fields := []*float32{
		&t.OrientationX, &t.OrientationY, &t.OrientationZ, &t.OrientationW,
		&t.PositionX, &t.PositionY, &t.PositionZ,
		&t.LeftFOV, &t.RightFOV, &t.UpFOV, &t.DownFOV,
		&t.LeftFOV2, &t.RightFOV2, &t.UpFOV2, &t.DownFOV2,
	}
	off := 12
	for _, f := range fields {
		*f = wire.F32(data[off : off+4])
		off += 4
	}
	return t, nil
}

// InputData is the 8-byte INPUT_DATA packet.
type InputData struct {
	ID        uint8
	Timestamp uint32
}

func (d InputData) Marshal() []byte {
	b := make([]byte, 8)
	b[0] = byte(FieldInputData)
	b[1] = 2
	b[2] = d.ID
	wire.PutU32(b[4:8], d.Timestamp)
	return b
}

func ParseInputData(data []byte) (InputData, error) {
	if len(data) != 8 || data[0] != byte(FieldInputData) {
		return InputData{}, ErrMalformed
	}
	return InputData{ID: data[2], Timestamp: wire.U32(data[4:8])}, nil
}
