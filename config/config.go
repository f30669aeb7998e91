// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the searcher configuration: node endpoints,
// signer keys, relays and strategy tuning.
package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultMaxHops     = 4
	DefaultTipsPct     = 9900
	DefaultHistory     = 10
	DefaultHealthHeal  = 256
	DefaultLoaderLimit = 20
)

var (
	// ErrMissingChainID: chain_id bounds signer replay protection and is
	// required.
	ErrMissingChainID = errors.New("chain_id is required")
	// ErrMissingMulticaller: the encoded batches need a target.
	ErrMissingMulticaller = errors.New("multicaller_address is required")
	// ErrNoRelays: at least one relay URL must be configured.
	ErrNoRelays = errors.New("at least one relay is required")
)

// SignerConfig is one signing key entry. The private key is hex, or an
// AES-GCM wrapper (see keywrap.go) in test fixtures.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// RelayConfig is one bundle endpoint.
type RelayConfig struct {
	URL    string `mapstructure:"url"`
	NoSign bool   `mapstructure:"no_sign"`
}

// BackrunConfig tunes the strategy.
type BackrunConfig struct {
	Smart bool   `mapstructure:"smart"`
	Eoa   string `mapstructure:"eoa"`
}

// PoolsConfig tunes the compute pool and preload.
type PoolsConfig struct {
	Threads int `mapstructure:"threads"`
	History int `mapstructure:"history"`
}

// TipsConfig shapes the proposer-tip decay curve.
type TipsConfig struct {
	StartPct uint32        `mapstructure:"start_pct"`
	Curve    []TipsBreakPt `mapstructure:"curve"`
}

// TipsBreakPt lowers the pct once profit crosses a threshold (in ETH).
type TipsBreakPt struct {
	ProfitEth uint64 `mapstructure:"profit_eth"`
	Pct       uint32 `mapstructure:"pct"`
}

// Config is the full recognized option set.
type Config struct {
	ChainID     uint64         `mapstructure:"chain_id"`
	NodeURL     string         `mapstructure:"node_url"`
	Multicaller string         `mapstructure:"multicaller_address"`
	MaxHops     int            `mapstructure:"max_hops"`
	Signers     []SignerConfig `mapstructure:"signers"`
	Relays      []RelayConfig  `mapstructure:"relays"`
	Backrun     BackrunConfig  `mapstructure:"backrun"`
	Pools       PoolsConfig    `mapstructure:"pools"`
	Tips        TipsConfig     `mapstructure:"tips"`
}

// MulticallerAddress parses the configured target.
func (c *Config) MulticallerAddress() common.Address {
	return common.HexToAddress(c.Multicaller)
}

// EoaAddress parses the optional signer override, zero when unset.
func (c *Config) EoaAddress() common.Address {
	if c.Backrun.Eoa == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Backrun.Eoa)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_hops", DefaultMaxHops)
	v.SetDefault("pools.threads", runtime.NumCPU()/2)
	v.SetDefault("pools.history", DefaultHistory)
	v.SetDefault("tips.start_pct", DefaultTipsPct)
	v.SetDefault("tips.curve", []map[string]interface{}{
		{"profit_eth": 10, "pct": 9000},
		{"profit_eth": 50, "pct": 8000},
	})
}

// Load reads the config file (TOML or YAML by extension) with BACKRUN_*
// environment overrides, validates it and returns it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKRUN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	// tolerate string-typed numerics from env overrides
	cfg.ChainID = cast.ToUint64(v.Get("chain_id"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required keys.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return ErrMissingChainID
	}
	if c.Multicaller == "" {
		return ErrMissingMulticaller
	}
	if len(c.Relays) == 0 {
		return ErrNoRelays
	}
	for i, relay := range c.Relays {
		if relay.URL == "" {
			return fmt.Errorf("relay %d: url is required", i)
		}
	}
	if c.MaxHops < 2 {
		c.MaxHops = DefaultMaxHops
	}
	if c.Tips.StartPct > 10_000 {
		c.Tips.StartPct = 10_000
	}
	return nil
}
