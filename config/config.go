// Package config aggregates every subsystem's configuration into one
// top-level struct with a Default() constructor and optional YAML file
// loading for cmd/zknode, following the teacher's NodeConfig/DefaultNodeConfig
// idiom (pkg/node/config_loader.go) but backed by gopkg.in/yaml.v2 instead of
// a hand-rolled parser, since env/CLI/file loading is thin glue and not part
// of the core per spec §1.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/internal/metrics"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/proposer"
	"github.com/matter-labs/zksync-sub003/statekeeper"
)

// Config is the top-level process configuration: one field per subsystem,
// each independently defaultable and independently overridable from YAML.
type Config struct {
	FeeAccountAddress string `yaml:"fee_account_address"`

	Mempool    mempool.Config    `yaml:"mempool"`
	Proposer   proposer.Config   `yaml:"proposer"`
	StateKeeper statekeeper.Config `yaml:"state_keeper"`
	FeeTicker  feeticker.Config  `yaml:"fee_ticker"`
	Metrics    metrics.Config    `yaml:"metrics"`
}

// Default returns a Config built from every subsystem's own Default*()
// constructor.
func Default() *Config {
	return &Config{
		Mempool:     mempool.DefaultConfig(),
		Proposer:    proposer.DefaultConfig(),
		StateKeeper: statekeeper.DefaultConfig(),
		FeeTicker:   feeticker.DefaultConfig(),
		Metrics:     metrics.DefaultConfig(),
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A missing
// file is not an error: the caller gets pure defaults, matching the
// teacher's tolerant config-loading posture (pkg/node/config_loader.go).
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
