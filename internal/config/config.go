package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/protoring/internal/logging"
	"github.com/danmuck/protoring/internal/protocol/ring"
	"github.com/danmuck/protoring/internal/protocol/stream"
)

// HardMaxMessageSize caps max_message_size; buffers may grow to twice this.
const HardMaxMessageSize = 1 << 30

// ScanConfig drives ringctl scan.
type ScanConfig struct {
	InitialCapacity int
	MaxMessageSize  int
	ChunkSize       int
	Workers         int
	LogLevel        string
	// Fields maps field ids to display names in reports.
	Fields map[uint32]string
}

type fileConfig struct {
	InitialCapacity int               `toml:"initial_capacity"`
	MaxMessageSize  int               `toml:"max_message_size"`
	ChunkSize       int               `toml:"chunk_size"`
	Workers         int               `toml:"workers"`
	LogLevel        string            `toml:"log_level"`
	Fields          map[string]string `toml:"fields"`
}

// DefaultScanConfig leaves LogLevel empty so the environment-derived level
// stands unless the file or a flag sets one.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		InitialCapacity: ring.DefaultInitialCapacity,
		MaxMessageSize:  ring.MaxMessageSize,
		ChunkSize:       stream.DefaultChunkSize,
		Workers:         4,
		Fields:          map[uint32]string{},
	}
}

// LoadScanConfig overlays the keys set in path onto DefaultScanConfig.
func LoadScanConfig(path string) (ScanConfig, error) {
	cfg := DefaultScanConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ScanConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return ScanConfig{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("initial_capacity") {
		cfg.InitialCapacity = raw.InitialCapacity
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("fields") {
		fields, err := parseFields(raw.Fields)
		if err != nil {
			return ScanConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		cfg.Fields = fields
	}

	if err := ValidateScanConfig(cfg); err != nil {
		return ScanConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func ValidateScanConfig(cfg ScanConfig) error {
	if cfg.InitialCapacity <= 0 {
		return fmt.Errorf("initial_capacity must be positive")
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if cfg.MaxMessageSize > HardMaxMessageSize {
		return fmt.Errorf("max_message_size %d exceeds %d", cfg.MaxMessageSize, HardMaxMessageSize)
	}
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("unknown log_level: %s", cfg.LogLevel)
		}
	}
	return nil
}

// StreamConfig converts the scan settings into a stream.Config.
func (c ScanConfig) StreamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.ChunkSize = c.ChunkSize
	cfg.Ring.InitialCapacity = c.InitialCapacity
	cfg.Ring.MaxMessageSize = c.MaxMessageSize
	return cfg
}

// FieldName returns the configured name for id, or the decimal id.
func (c ScanConfig) FieldName(id uint32) string {
	if name, ok := c.Fields[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

func parseFields(raw map[string]string) (map[uint32]string, error) {
	out := make(map[uint32]string, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimSpace(k), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fields: invalid field id %q", k)
		}
		name := strings.TrimSpace(raw[k])
		if name == "" {
			return nil, fmt.Errorf("fields: empty name for field %d", id)
		}
		out[uint32(id)] = name
	}
	return out, nil
}
