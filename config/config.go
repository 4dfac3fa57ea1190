// Package config loads the node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/gojotxn/core/storage_engine/disk"
	"github.com/sushant-115/gojotxn/core/storage_engine/memtx"
	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/sushant-115/gojotxn/core/write_engine/wal"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// SpaceConfig declares a space created at startup.
type SpaceConfig struct {
	ID        uint32 `yaml:"id"`
	Name      string `yaml:"name"`
	Engine    string `yaml:"engine"`
	Temporary bool   `yaml:"temporary"`
}

// Config is the complete node configuration.
type Config struct {
	// ReplicaID identifies this node in the vclock. Must be non-zero.
	ReplicaID uint32             `yaml:"replica_id"`
	Logger    logger.Config      `yaml:"logger"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
	WAL       wal.Config         `yaml:"wal"`
	Txn       transaction.Config `yaml:"txn"`
	Disk      disk.Config        `yaml:"disk"`
	Spaces    []SpaceConfig      `yaml:"spaces"`
}

// Default returns a configuration that runs a single node out of ./data.
func Default() Config {
	return Config{
		ReplicaID: 1,
		Logger:    logger.DefaultConfig(),
		Telemetry: telemetry.Config{ServiceName: "gojotxn", TraceSampleRatio: 1},
		WAL:       wal.DefaultConfig(),
		Txn:       transaction.DefaultConfig(),
		Disk:      disk.DefaultConfig(),
		Spaces: []SpaceConfig{
			{ID: 512, Name: "users", Engine: memtx.EngineName},
			{ID: 513, Name: "scratch", Engine: memtx.EngineName, Temporary: true},
			{ID: 600, Name: "ledger", Engine: disk.EngineName},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		cfg.Logger.ReplicaID = cfg.ReplicaID
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Logger.ReplicaID = cfg.ReplicaID
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c Config) Validate() error {
	if c.ReplicaID == 0 {
		return fmt.Errorf("%w: replica_id must be non-zero", ErrInvalidConfig)
	}
	switch c.WAL.Mode {
	case wal.ModeWrite:
		if c.WAL.Dir == "" {
			return fmt.Errorf("%w: wal.dir is required in %q mode", ErrInvalidConfig, wal.ModeWrite)
		}
	case wal.ModeNone:
	default:
		return fmt.Errorf("%w: unknown wal.mode %q", ErrInvalidConfig, c.WAL.Mode)
	}
	if c.Txn.TooLongThreshold <= 0 {
		return fmt.Errorf("%w: txn.too_long_threshold must be positive", ErrInvalidConfig)
	}
	ids := make(map[uint32]bool, len(c.Spaces))
	names := make(map[string]bool, len(c.Spaces))
	for _, s := range c.Spaces {
		if ids[s.ID] || names[s.Name] {
			return fmt.Errorf("%w: duplicate space %d %q", ErrInvalidConfig, s.ID, s.Name)
		}
		ids[s.ID], names[s.Name] = true, true
		switch s.Engine {
		case memtx.EngineName:
		case disk.EngineName:
			if c.Disk.Path == "" {
				return fmt.Errorf("%w: space %q needs disk.path", ErrInvalidConfig, s.Name)
			}
		default:
			return fmt.Errorf("%w: space %q has unknown engine %q", ErrInvalidConfig, s.Name, s.Engine)
		}
	}
	return nil
}
