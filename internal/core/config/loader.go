package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/audiomesh/chainmirror/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Chain.StartBlockHash == "" {
		cfg.Chain.StartBlockHash = domain.OriginBlockHash
	}
	if cfg.Chain.BlockProcessingWindow == 0 {
		cfg.Chain.BlockProcessingWindow = 20
	}
	if cfg.Chain.ScanInterval == 0 {
		cfg.Chain.ScanInterval = 10 * time.Second
	}
	if cfg.Chain.AggregateInterval == 0 {
		cfg.Chain.AggregateInterval = 30 * time.Second
	}
	if cfg.Chain.LockTTL == 0 {
		cfg.Chain.LockTTL = 5 * time.Minute
	}
}

// AddressBook builds the contract address book from the configured
// addresses. Every contract kind must be configured; a partial book
// would silently drop transactions.
func (c ChainConfig) AddressBook() (*domain.AddressBook, error) {
	byKind := make(map[domain.ContractKind]string, len(domain.ApplyOrder))
	for _, kind := range domain.ApplyOrder {
		addr, ok := c.Contracts[kind.String()]
		if !ok || addr == "" {
			return nil, fmt.Errorf("missing contract address for %s", kind)
		}
		byKind[kind] = addr
	}
	return domain.NewAddressBook(byKind), nil
}
