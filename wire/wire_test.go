package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestU32RoundTrip(t *testing.T) {
	b := make([]byte, 4)
	PutU32(b, 0xDEADBEEF)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b)
	assert.Equal(t, uint32(0xDEADBEEF), U32(b))
}

func TestU64RoundTrip(t *testing.T) {
	b := make([]byte, 8)
	PutU64(b, 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), U64(b))
}

func TestF32RoundTrip(t *testing.T) {
	b := make([]byte, 4)
	PutF32(b, 3.14159)
	assert.InDelta(t, float32(3.14159), F32(b), 1e-6)
}

func TestU16RoundTrip(t *testing.T) {
	b := make([]byte, 2)
	PutU16(b, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), U16(b))
}
