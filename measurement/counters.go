package measurement

import "sync/atomic"

// SocketCounters implements netsock.Counters, accumulating byte/packet
// totals for one socket. A Bucket does not embed these directly (spec
// §4.10 keeps the bucket's own sample vectors distinct from a socket's
// running totals); SocketCounters is handed to netsock sockets and
// periodically snapshotted into a Bucket via AddSocketSample.
type SocketCounters struct {
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
}

func (c *SocketCounters) AddBytesSent(n int)     { c.bytesSent.Add(uint64(n)) }
func (c *SocketCounters) AddBytesReceived(n int) { c.bytesReceived.Add(uint64(n)) }
func (c *SocketCounters) AddPacketSent()         { c.packetsSent.Add(1) }
func (c *SocketCounters) AddPacketReceived()      { c.packetsReceived.Add(1) }

// Snapshot returns the current totals as a SocketSample.
func (c *SocketCounters) Snapshot() SocketSample {
	return SocketSample{
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
	}
}
