// Package wire provides byte-exact network byte order conversions used by
// every wire format in the bridge (VRCP, RTP, simple framing). All VRCP and
// RTP fields are big-endian on the wire; IEEE-754 floats are reinterpreted
// as u32 before being put on the wire.
package wire

import "math"

// Htonl converts a 32-bit host value to network (big-endian) byte order.
// On Go this is a value identity; the name documents wire intent the way
// the teacher's protocol.ByteOrder does, but callers should prefer PutU32/U32
// for actually writing to a buffer.
func Htonl(v uint32) uint32 { return v }

// Ntohl converts a 32-bit network value to host order.
func Ntohl(v uint32) uint32 { return v }

// Htonf reinterprets a float32 as its big-endian u32 bit pattern.
func Htonf(f float32) uint32 { return math.Float32bits(f) }

// Ntohf reinterprets a big-endian u32 bit pattern as a float32.
func Ntohf(v uint32) float32 { return math.Float32frombits(v) }

// Htonll converts a 64-bit host value to network byte order.
func Htonll(v uint64) uint64 { return v }

// Ntohll converts a 64-bit network value to host order.
func Ntohll(v uint64) uint64 { return v }

// PutU16 writes v as big-endian into b[0:2]. Panics if b is too short.
func PutU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// U16 reads a big-endian u16 from b[0:2].
func U16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// PutU32 writes v as big-endian into b[0:4].
func PutU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// U32 reads a big-endian u32 from b[0:4].
func U32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutU64 writes v as big-endian into b[0:8].
func PutU64(b []byte, v uint64) {
	PutU32(b[0:4], uint32(v>>32))
	PutU32(b[4:8], uint32(v))
}

// U64 reads a big-endian u64 from b[0:8].
func U64(b []byte) uint64 {
	return uint64(U32(b[0:4]))<<32 | uint64(U32(b[4:8]))
}

// PutF32 writes f as a big-endian bit-reinterpreted u32, per §6.1.
func PutF32(b []byte, f float32) {
	PutU32(b, Htonf(f))
}

// F32 reads a big-endian bit-reinterpreted u32 back into a float32.
func F32(b []byte) float32 {
	return Ntohf(U32(b))
}
