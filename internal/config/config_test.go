package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKVParsesCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wvb.conf")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\ncodec = hevc\nbenchmark=true\n"), 0o644))

	kv, err := LoadKV(path)
	require.NoError(t, err)
	assert.Equal(t, "hevc", kv["codec"])
	assert.Equal(t, "true", kv["benchmark"])
}

func TestApplyKVOverlaysDefaults(t *testing.T) {
	s := DefaultServer()
	require.NoError(t, s.ApplyKV(map[string]string{
		"codec":           "hevc",
		"benchmark":       "true",
		"run_interval_ms": "500",
	}))
	assert.Equal(t, "hevc", s.Codec)
	assert.True(t, s.Benchmark)
	assert.Equal(t, 500*time.Millisecond, s.RunInterval)
}

func TestApplyKVRejectsUnknownKey(t *testing.T) {
	s := DefaultServer()
	err := s.ApplyKV(map[string]string{"bogus": "1"})
	assert.Error(t, err)
}
