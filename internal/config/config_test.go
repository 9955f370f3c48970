package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/protoring/internal/protocol/ring"
)

func TestLoadScanConfigOverlaysDefinedKeys(t *testing.T) {
	cfg, err := LoadScanConfig(filepath.Join("testdata", "scan.toml"))
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.InitialCapacity)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ring.MaxMessageSize, cfg.MaxMessageSize, "unset key keeps default")
	assert.Equal(t, DefaultScanConfig().Workers, cfg.Workers)
	assert.Equal(t, map[uint32]string{1: "packet", 7: "trailer"}, cfg.Fields)
	assert.Equal(t, "trailer", cfg.FieldName(7))
	assert.Equal(t, "42", cfg.FieldName(42))
}

func TestLoadScanConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadScanConfig(filepath.Join("testdata", "unknown.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer_size")
}

func TestLoadScanConfigMissingFile(t *testing.T) {
	_, err := LoadScanConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateScanConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScanConfig)
		ok     bool
	}{
		{name: "defaults", mutate: func(*ScanConfig) {}, ok: true},
		{name: "zero capacity", mutate: func(c *ScanConfig) { c.InitialCapacity = 0 }},
		{name: "negative max", mutate: func(c *ScanConfig) { c.MaxMessageSize = -1 }},
		{name: "max above ceiling", mutate: func(c *ScanConfig) { c.MaxMessageSize = HardMaxMessageSize + 1 }},
		{name: "zero chunk", mutate: func(c *ScanConfig) { c.ChunkSize = 0 }},
		{name: "zero workers", mutate: func(c *ScanConfig) { c.Workers = 0 }},
		{name: "bad level", mutate: func(c *ScanConfig) { c.LogLevel = "loud" }},
		{name: "empty level", mutate: func(c *ScanConfig) { c.LogLevel = "" }, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScanConfig()
			tt.mutate(&cfg)
			err := ValidateScanConfig(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseFieldsRejectsBadEntries(t *testing.T) {
	_, err := parseFields(map[string]string{"x": "name"})
	require.Error(t, err)
	_, err = parseFields(map[string]string{"4294967296": "too-big"})
	require.Error(t, err)
	_, err = parseFields(map[string]string{"3": "  "})
	require.Error(t, err)
}

func TestStreamConfigCarriesScanSettings(t *testing.T) {
	cfg := DefaultScanConfig()
	cfg.ChunkSize = 99
	cfg.InitialCapacity = 7
	cfg.MaxMessageSize = 1234

	sc := cfg.StreamConfig()
	assert.Equal(t, 99, sc.ChunkSize)
	assert.Equal(t, 7, sc.Ring.InitialCapacity)
	assert.Equal(t, 1234, sc.Ring.MaxMessageSize)
}

func TestWriteTemplateLoadsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringctl.toml")
	require.NoError(t, WriteTemplate(path, "scan", false))
	require.Error(t, WriteTemplate(path, "scan", false), "existing file must not be overwritten")
	require.NoError(t, WriteTemplate(path, "scan", true))

	cfg, err := LoadScanConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultScanConfig().InitialCapacity, cfg.InitialCapacity)
	assert.Equal(t, "packet", cfg.FieldName(1))

	_, err = Template("yaml")
	require.Error(t, err)
}

func TestDefaultScanConfigLeavesLogLevelToEnvironment(t *testing.T) {
	cfg := DefaultScanConfig()
	assert.Empty(t, cfg.LogLevel)
	require.NoError(t, ValidateScanConfig(cfg))

	cfg, err := LoadScanConfig(filepath.Join("testdata", "scan.toml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "file value still applies")
}
