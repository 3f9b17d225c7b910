/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of the environment variables overriding the configuration,
	// e.g. TOKENSIM_FLOW_TIMEOUT=5s
	EnvPrefix = "TOKENSIM"

	MemoryDriver   = "memory"
	SQLiteDriver   = "sqlite"
	PostgresDriver = "postgres"

	MockNetwork   = "mock"
	InProcNetwork = "inproc"
)

// Config is the configuration of a set of token nodes
type Config struct {
	Logging    Logging    `mapstructure:"logging"`
	Flow       Flow       `mapstructure:"flow"`
	Vault      Vault      `mapstructure:"vault"`
	Network    Network    `mapstructure:"network"`
	Metrics    Metrics    `mapstructure:"metrics"`
	AssetTypes []string   `mapstructure:"assetTypes"`
	Nodes      []Node     `mapstructure:"nodes"`
	Issuances  []Issuance `mapstructure:"issuances"`
}

type Logging struct {
	// Spec is the logging level (debug, info, warn, error)
	Spec string `mapstructure:"spec"`
}

type Flow struct {
	// Timeout bounds signature collection
	Timeout time.Duration `mapstructure:"timeout"`
}

type Vault struct {
	// Driver is one of memory, sqlite, postgres
	Driver string `mapstructure:"driver"`
	// DataSource is passed to the sql driver. For sqlite it may contain the %s verb,
	// replaced with the node name, so that every node gets its own database.
	DataSource   string `mapstructure:"dataSource"`
	TablePrefix  string `mapstructure:"tablePrefix"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	// CacheSize bounds the transaction cache of each node
	CacheSize int64 `mapstructure:"cacheSize"`
}

type Network struct {
	// Mode is mock (deterministic, manual flush) or inproc (asynchronous delivery)
	Mode string `mapstructure:"mode"`
	// MailboxSize is the initial capacity of the queue of each party in inproc mode. Queues grow without bound.
	MailboxSize int `mapstructure:"mailboxSize"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

type Node struct {
	Name string `mapstructure:"name"`
	// KeyPath is where the node key is stored. A fresh key is generated when empty.
	KeyPath string `mapstructure:"keyPath"`
}

type Holding struct {
	Holder   string `mapstructure:"holder"`
	Quantity uint64 `mapstructure:"quantity"`
}

type Issuance struct {
	Issuer    string    `mapstructure:"issuer"`
	AssetType string    `mapstructure:"assetType"`
	Holdings  []Holding `mapstructure:"holdings"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.spec", "info")
	v.SetDefault("flow.timeout", "30s")
	v.SetDefault("vault.driver", MemoryDriver)
	v.SetDefault("vault.dataSource", "")
	v.SetDefault("vault.tablePrefix", "")
	v.SetDefault("vault.maxOpenConns", 10)
	v.SetDefault("vault.cacheSize", 1000)
	v.SetDefault("network.mode", MockNetwork)
	v.SetDefault("network.mailboxSize", 64)
	v.SetDefault("metrics.enabled", false)
}

// Default returns the configuration with every default applied and no nodes
func Default() *Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration at path, if not empty, applies the environment overrides and
// the defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if len(path) != 0 {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed reading configuration at [%s]", path)
		}
	}

	c := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           c,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed creating decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrapf(err, "failed decoding configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration")
	}
	return c, nil
}

// Validate checks the configuration is consistent
func (c *Config) Validate() error {
	switch c.Vault.Driver {
	case MemoryDriver, SQLiteDriver, PostgresDriver:
	default:
		return errors.Errorf("unknown vault driver [%s]", c.Vault.Driver)
	}
	if c.Vault.Driver != MemoryDriver && len(c.Vault.DataSource) == 0 {
		return errors.Errorf("vault.dataSource must be set for driver [%s]", c.Vault.Driver)
	}
	switch c.Network.Mode {
	case MockNetwork, InProcNetwork:
	default:
		return errors.Errorf("unknown network mode [%s]", c.Network.Mode)
	}
	if c.Flow.Timeout <= 0 {
		return errors.Errorf("flow.timeout must be positive, got [%s]", c.Flow.Timeout)
	}

	nodes := map[string]struct{}{}
	for _, n := range c.Nodes {
		if len(n.Name) == 0 {
			return errors.New("node name cannot be empty")
		}
		if _, ok := nodes[n.Name]; ok {
			return errors.Errorf("duplicate node [%s]", n.Name)
		}
		nodes[n.Name] = struct{}{}
	}
	for i, is := range c.Issuances {
		if _, ok := nodes[is.Issuer]; !ok {
			return errors.Errorf("issuance [%d]: unknown issuer [%s]", i, is.Issuer)
		}
		if len(is.AssetType) == 0 {
			return errors.Errorf("issuance [%d]: asset type not set", i)
		}
		if len(is.Holdings) == 0 {
			return errors.Errorf("issuance [%d]: no holdings", i)
		}
		for _, h := range is.Holdings {
			if _, ok := nodes[h.Holder]; !ok {
				return errors.Errorf("issuance [%d]: unknown holder [%s]", i, h.Holder)
			}
		}
	}
	return nil
}
