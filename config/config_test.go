package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesAppliesSection(t *testing.T) {
	buf := []byte(`
loop_config:
  debug: true
  fd_table_capacity: 64
  event_batch_size: 128
`)
	cfg, err := LoadBytes("test.yaml", buf)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 64, cfg.FDTableCapacity)
	assert.Equal(t, 128, cfg.EventBatchSize)
}

func TestLoopConfigOptionsRoundTrip(t *testing.T) {
	cfg := &LoopConfig{Debug: true, FDTableCapacity: 8, EventBatchSize: 32}
	opts := cfg.Options()
	require.Len(t, opts, 2)
}

func TestLoadBytesMissingSectionReturnsDefaults(t *testing.T) {
	cfg, err := LoadBytes("test.yaml", []byte(`unrelated: true`))
	require.NoError(t, err)
	assert.Equal(t, DefaultLoopConfig(), cfg)
}

func TestLoadBytesEmptyDocument(t *testing.T) {
	cfg, err := LoadBytes("test.yaml", []byte(``))
	require.NoError(t, err)
	assert.Equal(t, DefaultLoopConfig(), cfg)
}

func TestLoadBytesRejectsNonMappingRoot(t *testing.T) {
	_, err := LoadBytes("test.yaml", []byte(`- 1
- 2
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}
