package config

import (
	"time"

	"github.com/audiomesh/chainmirror/internal/infra/chain/evm"
	redisclient "github.com/audiomesh/chainmirror/internal/infra/redis"
	"github.com/audiomesh/chainmirror/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Chain    ChainConfig        `yaml:"chain"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds settings for the mirrored chain.
type ChainConfig struct {
	RPC evm.Config `yaml:"rpc"`

	// StartBlockHash seeds an empty blocks table. "0x0" starts from the
	// chain origin.
	StartBlockHash   string `yaml:"start_block_hash"`
	StartBlockNumber int64  `yaml:"start_block_number"`

	// BlockProcessingWindow bounds blocks applied per index cycle.
	BlockProcessingWindow int64 `yaml:"block_processing_window"`

	ScanInterval      time.Duration `yaml:"scan_interval"`
	AggregateInterval time.Duration `yaml:"aggregate_interval"`
	LockTTL           time.Duration `yaml:"lock_ttl"`

	// Contracts maps contract kind names (user_factory, track_factory,
	// social_feature_factory, playlist_factory, user_library_factory,
	// user_replica_set_manager) to their deployed addresses.
	Contracts map[string]string `yaml:"contracts"`
}
