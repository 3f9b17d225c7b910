/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "info", c.Logging.Spec)
	assert.Equal(t, 30*time.Second, c.Flow.Timeout)
	assert.Equal(t, MemoryDriver, c.Vault.Driver)
	assert.Equal(t, 10, c.Vault.MaxOpenConns)
	assert.Equal(t, int64(1000), c.Vault.CacheSize)
	assert.Equal(t, MockNetwork, c.Network.Mode)
	assert.Empty(t, c.Nodes)
}

func TestLoad(t *testing.T) {
	c, err := Load("./testdata/scenario.yaml")
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Logging.Spec)
	assert.Equal(t, 5*time.Second, c.Flow.Timeout)
	assert.Equal(t, Vault{
		Driver:       SQLiteDriver,
		DataSource:   "file:%s?mode=memory&cache=shared",
		TablePrefix:  "sim",
		MaxOpenConns: 10,
		CacheSize:    1000,
	}, c.Vault)
	assert.Equal(t, InProcNetwork, c.Network.Mode)
	assert.Equal(t, []string{"AIR"}, c.AssetTypes)
	assert.Equal(t, []Node{{Name: "issuer"}, {Name: "alice", KeyPath: "/tmp/alice.pem"}, {Name: "bob"}}, c.Nodes)
	require.Len(t, c.Issuances, 1)
	assert.Equal(t, Issuance{
		Issuer:    "issuer",
		AssetType: "AIR",
		Holdings:  []Holding{{Holder: "alice", Quantity: 10}, {Holder: "bob", Quantity: 5}},
	}, c.Issuances[0])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TOKENSIM_FLOW_TIMEOUT", "250ms")
	t.Setenv("TOKENSIM_NETWORK_MODE", "mock")

	c, err := Load("./testdata/scenario.yaml")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.Flow.Timeout)
	assert.Equal(t, MockNetwork, c.Network.Mode)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("./testdata/missing.yaml")
	assert.Error(t, err)

	_, err = Load("./testdata/invalid.yaml")
	assert.ErrorContains(t, err, "unknown holder [mallory]")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Vault.Driver = "mongo" }, wantErr: "unknown vault driver [mongo]"},
		{name: "missing data source", mutate: func(c *Config) { c.Vault.Driver = PostgresDriver }, wantErr: "vault.dataSource must be set"},
		{name: "unknown mode", mutate: func(c *Config) { c.Network.Mode = "tcp" }, wantErr: "unknown network mode [tcp]"},
		{name: "no timeout", mutate: func(c *Config) { c.Flow.Timeout = 0 }, wantErr: "flow.timeout must be positive"},
		{name: "duplicate node", mutate: func(c *Config) { c.Nodes = []Node{{Name: "a"}, {Name: "a"}} }, wantErr: "duplicate node [a]"},
		{name: "empty node", mutate: func(c *Config) { c.Nodes = []Node{{}} }, wantErr: "node name cannot be empty"},
		{name: "unknown issuer", mutate: func(c *Config) {
			c.Issuances = []Issuance{{Issuer: "x", AssetType: "AIR", Holdings: []Holding{{Holder: "x", Quantity: 1}}}}
		}, wantErr: "unknown issuer [x]"},
		{name: "no holdings", mutate: func(c *Config) {
			c.Nodes = []Node{{Name: "x"}}
			c.Issuances = []Issuance{{Issuer: "x", AssetType: "AIR"}}
		}, wantErr: "no holdings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
