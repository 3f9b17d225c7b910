/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sdk

import (
	errors2 "errors"

	"github.com/hyperledger-labs/fabric-token-flows/token/core/common/metrics"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/identity"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/ttx"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/utils/cache"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	vaultdb "github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db/sql"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/dig"
)

// provideShared registers the services shared by every node of a network
func provideShared(c *dig.Container, cfg *config.Config, tp trace.TracerProvider, registry *prometheus.Registry) error {
	return errors2.Join(
		c.Provide(func() *config.Config { return cfg }),
		c.Provide(func() trace.TracerProvider { return tp }),
		c.Provide(func() *prometheus.Registry { return registry }),
		c.Provide(newMetricsProvider),
		c.Provide(func(cfg *config.Config) *vaultdb.Manager { return vaultdb.NewManager(cfg.Vault) }),
		c.Provide(func(cfg *config.Config) (driver.Network, error) { return network.New(cfg.Network) }),
	)
}

func newMetricsProvider(cfg *config.Config, registry *prometheus.Registry) metrics.Provider {
	if !cfg.Metrics.Enabled {
		return metrics.NewDisabledProvider()
	}
	return metrics.NewPrometheusProvider(registry)
}

// provideNode registers the services of one node in its own scope
func provideNode(s *dig.Scope, nodeCfg config.Node) error {
	return errors2.Join(
		s.Provide(func() config.Node { return nodeCfg }),
		s.Provide(newSigner),
		s.Provide(func(signer *identity.Signer) *identity.Provider { return identity.NewProvider(signer) }),
		s.Provide(newStores),
		s.Provide(func(signer *identity.Signer, states *sql.StateStore) *vault.Vault {
			return vault.New(signer.Party(), states)
		}),
		s.Provide(newStorage),
		s.Provide(func(cfg *config.Config) *ttx.Validator { return ttx.NewValidator(cfg.AssetTypes...) }),
		s.Provide(func(nodeCfg config.Node, p metrics.Provider) *ttx.Metrics {
			return ttx.NewMetrics(metrics.NewNodeProvider(nodeCfg.Name, p))
		}),
		s.Provide(newCoordinator),
		s.Provide(newNode),
	)
}

func newSigner(nodeCfg config.Node) (*identity.Signer, error) {
	if len(nodeCfg.KeyPath) == 0 {
		return identity.NewSigner(nodeCfg.Name)
	}
	return identity.LoadOrCreateSigner(nodeCfg.Name, nodeCfg.KeyPath)
}

func newStores(nodeCfg config.Node, manager *vaultdb.Manager) (*sql.StateStore, *sql.TransactionStore, error) {
	states, txs, err := manager.Open(nodeCfg.Name)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed opening stores of [%s]", nodeCfg.Name)
	}
	return states, txs, nil
}

type closableCache interface {
	cache.Cache[*ttx.SignedTransaction]
	Close()
}

type storageResult struct {
	dig.Out
	Storage *ttx.Storage
	Cache   closableCache
}

func newStorage(cfg *config.Config, txs *sql.TransactionStore) (storageResult, error) {
	c, err := cache.NewRistrettoCache[*ttx.SignedTransaction](cfg.Vault.CacheSize)
	if err != nil {
		return storageResult{}, err
	}
	return storageResult{Storage: ttx.NewStorage(txs, c), Cache: c}, nil
}

func newCoordinator(
	cfg *config.Config,
	ip *identity.Provider,
	net driver.Network,
	v *vault.Vault,
	storage *ttx.Storage,
	validator *ttx.Validator,
	m *ttx.Metrics,
	tp trace.TracerProvider,
) (*ttx.Coordinator, error) {
	return ttx.NewCoordinator(ip, net, v, storage, validator, cfg.Flow.Timeout, m, tp.Tracer("token-sdk.ttx"))
}

type nodeParams struct {
	dig.In
	Config      config.Node
	Identity    *identity.Provider
	Vault       *vault.Vault
	Storage     *ttx.Storage
	Cache       closableCache
	Coordinator *ttx.Coordinator
}

func newNode(p nodeParams) *Node {
	return &Node{
		name:        p.Config.Name,
		identity:    p.Identity,
		vault:       p.Vault,
		storage:     p.Storage,
		cache:       p.Cache,
		coordinator: p.Coordinator,
	}
}
