/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sdk

import (
	"context"
	errors2 "errors"
	"sync"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/ttx"
	vaultdb "github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/dig"
)

type options struct {
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry
}

type Option func(*options)

// WithTracerProvider sets the provider of the flow tracers. Tracing is disabled by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRegistry sets the registry the flow metrics are registered to, when metrics are enabled
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// MockNetwork is a set of nodes sharing a simulated network.
// In mock mode messages are delivered only when RunNetwork is called.
type MockNetwork struct {
	cfg       *config.Config
	container *dig.Container
	network   driver.Network
	manager   *vaultdb.Manager
	registry  *prometheus.Registry

	lock  sync.RWMutex
	nodes map[string]*Node
	names []string
}

// NewMockNetwork creates the network and a node for each configured node.
// A nil configuration means config.Default().
func NewMockNetwork(cfg *config.Config, opts ...Option) (*MockNetwork, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = noop.NewTracerProvider()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	c := dig.New()
	if err := provideShared(c, cfg, o.tracerProvider, o.registry); err != nil {
		return nil, errors.Wrapf(err, "failed providing shared services")
	}
	m := &MockNetwork{
		cfg:       cfg,
		container: c,
		registry:  o.registry,
		nodes:     map[string]*Node{},
	}
	err := c.Invoke(func(network driver.Network, manager *vaultdb.Manager) {
		m.network = network
		m.manager = manager
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed creating network [%s]", cfg.Network.Mode)
	}
	for _, nodeCfg := range cfg.Nodes {
		if _, err := m.createNode(nodeCfg); err != nil {
			return nil, errors2.Join(err, m.StopNodes())
		}
	}
	return m, nil
}

// CreateNode adds a node with a fresh identity
func (m *MockNetwork) CreateNode(name string) (*Node, error) {
	return m.createNode(config.Node{Name: name})
}

func (m *MockNetwork) createNode(nodeCfg config.Node) (*Node, error) {
	if len(nodeCfg.Name) == 0 {
		return nil, errors.New("node name cannot be empty")
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.nodes[nodeCfg.Name]; ok {
		return nil, errors.Errorf("node [%s] already exists", nodeCfg.Name)
	}

	scope := m.container.Scope(nodeCfg.Name)
	if err := provideNode(scope, nodeCfg); err != nil {
		return nil, errors.Wrapf(err, "failed providing services of node [%s]", nodeCfg.Name)
	}
	var node *Node
	if err := scope.Invoke(func(n *Node) { node = n }); err != nil {
		return nil, errors.Wrapf(err, "failed creating node [%s]", nodeCfg.Name)
	}
	m.nodes[nodeCfg.Name] = node
	m.names = append(m.names, nodeCfg.Name)
	logger.Infof("node [%s] created with identity [%s]", nodeCfg.Name, node.Party().ID)
	return node, nil
}

// Node returns the node with the passed name
func (m *MockNetwork) Node(name string) (*Node, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	n, ok := m.nodes[name]
	return n, ok
}

// Nodes returns the nodes in creation order
func (m *MockNetwork) Nodes() []*Node {
	m.lock.RLock()
	defer m.lock.RUnlock()
	res := make([]*Node, len(m.names))
	for i, name := range m.names {
		res[i] = m.nodes[name]
	}
	return res
}

// RunNetwork delivers the pending messages, and the ones they trigger, until the network is quiescent.
// It returns the number of delivered messages.
func (m *MockNetwork) RunNetwork() int {
	return m.network.Flush()
}

// Await runs the network and waits for the handle to resolve
func (m *MockNetwork) Await(ctx context.Context, h *ttx.Handle) (*ttx.SignedTransaction, error) {
	m.RunNetwork()
	return h.Wait(ctx)
}

// Issue runs a configured issuance to completion
func (m *MockNetwork) Issue(ctx context.Context, issuance config.Issuance) (*ttx.SignedTransaction, error) {
	issuer, ok := m.Node(issuance.Issuer)
	if !ok {
		return nil, errors.Errorf("unknown issuer [%s]", issuance.Issuer)
	}
	holdings := make([]ttx.Holding, len(issuance.Holdings))
	for i, h := range issuance.Holdings {
		holder, ok := m.Node(h.Holder)
		if !ok {
			return nil, errors.Errorf("unknown holder [%s]", h.Holder)
		}
		holdings[i] = ttx.Holding{Holder: holder.Party(), Quantity: h.Quantity}
	}
	h, err := issuer.Issue(ctx, issuance.AssetType, holdings)
	if err != nil {
		return nil, err
	}
	return m.Await(ctx, h)
}

// Party resolves a node name to its party
func (m *MockNetwork) Party(name string) (token.Party, error) {
	n, ok := m.Node(name)
	if !ok {
		return token.Party{}, errors.Errorf("unknown node [%s]", name)
	}
	return n.Party(), nil
}

// Registry returns the registry holding the flow metrics
func (m *MockNetwork) Registry() *prometheus.Registry {
	return m.registry
}

// StopNodes stops message delivery and releases the resources of the nodes
func (m *MockNetwork) StopNodes() error {
	if m.network != nil {
		m.network.Stop()
	}
	m.lock.Lock()
	for _, n := range m.nodes {
		n.close()
	}
	m.lock.Unlock()
	if m.manager == nil {
		return nil
	}
	return m.manager.Close()
}
