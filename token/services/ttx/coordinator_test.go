/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger-labs/fabric-token-flows/token/core/common/metrics"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/identity"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/mocknet"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/utils/cache"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db/memory"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type testNode struct {
	party       token.Party
	vault       *vault.Vault
	storage     *Storage
	metrics     *Metrics
	coordinator *Coordinator
}

// recordingGauge keeps the last and the highest value it was set to
type recordingGauge struct {
	mutex sync.Mutex
	last  float64
	max   float64
}

func (g *recordingGauge) With(...string) metrics.Gauge { return g }

func (g *recordingGauge) Add(delta float64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.set(g.last + delta)
}

func (g *recordingGauge) Set(value float64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.set(value)
}

func (g *recordingGauge) set(value float64) {
	g.last = value
	if value > g.max {
		g.max = value
	}
}

func (g *recordingGauge) values() (last, max float64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.last, g.max
}

func newTestNode(t *testing.T, network driver.Network, name string, timeout time.Duration, tags ...string) *testNode {
	t.Helper()
	signer, err := identity.NewSigner(name)
	require.NoError(t, err)

	db := memory.NewDriver()
	t.Cleanup(func() { _ = db.Close() })
	states, txs, err := db.Open(name)
	require.NoError(t, err)
	c, err := cache.NewRistrettoCache[*SignedTransaction](100)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	v := vault.New(signer.Party(), states)
	storage := NewStorage(txs, c)
	m := NewMetrics(metrics.NewDisabledProvider())
	m.OpenFlows = &recordingGauge{}
	m.PendingProposals = &recordingGauge{}
	coordinator, err := NewCoordinator(
		identity.NewProvider(signer),
		network,
		v,
		storage,
		NewValidator(tags...),
		timeout,
		m,
		noop.NewTracerProvider().Tracer("ttx"),
	)
	require.NoError(t, err)
	return &testNode{party: signer.Party(), vault: v, storage: storage, metrics: m, coordinator: coordinator}
}

func (n *testNode) states(t *testing.T) token.StatesAndRefs {
	t.Helper()
	res, err := n.vault.Query(context.Background())
	require.NoError(t, err)
	return res
}

type fixture struct {
	network *mocknet.Network
	issuer  *testNode
	alice   *testNode
	bob     *testNode
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	network := mocknet.New()
	t.Cleanup(network.Stop)
	return &fixture{
		network: network,
		issuer:  newTestNode(t, network, "issuer", timeout),
		alice:   newTestNode(t, network, "alice", timeout),
		bob:     newTestNode(t, network, "bob", timeout),
	}
}

func (f *fixture) run(t *testing.T, initiator *testNode, tx *Transaction, participants ...token.Party) (*Handle, *SignedTransaction, error) {
	t.Helper()
	h, err := initiator.coordinator.Initiate(context.Background(), tx, participants...)
	require.NoError(t, err)
	assert.Equal(t, CollectingSignatures, h.Status())
	f.network.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stx, err := h.Wait(ctx)
	return h, stx, err
}

func (f *fixture) issue(t *testing.T, holdings ...Holding) *SignedTransaction {
	t.Helper()
	tx, err := NewIssue(f.issuer.party, "AIR", holdings)
	require.NoError(t, err)
	_, stx, err := f.run(t, f.issuer, tx)
	require.NoError(t, err)
	return stx
}

func TestIssueToTwoHolders(t *testing.T) {
	f := newFixture(t, time.Minute)
	air := token.AssetType{Issuer: f.issuer.party, Tag: "AIR"}

	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{
		{Holder: f.alice.party, Quantity: 10},
		{Holder: f.bob.party, Quantity: 5},
	})
	require.NoError(t, err)
	h, err := f.issuer.coordinator.Initiate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.ID(), h.ID())
	assert.Equal(t, []token.Party{f.issuer.party, f.alice.party, f.bob.party}, h.Participants())

	// nothing happens before the network is flushed
	assert.Equal(t, 3, f.network.Pending())
	assert.Empty(t, f.alice.states(t))

	// propose, sign, finalize and acknowledge, for three participants
	assert.Equal(t, 12, f.network.Flush())
	assert.Equal(t, 0, f.network.Flush())

	stx, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Finalized, h.Status())
	assert.Equal(t, tx.ID(), stx.ID())
	assert.Len(t, stx.Transaction.Outputs, 2)
	require.NoError(t, stx.VerifySignatures(f.issuer.party, f.alice.party, f.bob.party))

	assert.Equal(t, token.StatesAndRefs{{
		State: token.FungibleState{AssetType: air, Owner: f.alice.party, Quantity: 10},
		Ref:   token.StateRef{TxID: tx.ID(), Index: 0},
	}}, f.alice.states(t))
	assert.Equal(t, token.StatesAndRefs{{
		State: token.FungibleState{AssetType: air, Owner: f.bob.party, Quantity: 5},
		Ref:   token.StateRef{TxID: tx.ID(), Index: 1},
	}}, f.bob.states(t))
	assert.Empty(t, f.issuer.states(t))

	// every participant stored the transaction
	for _, n := range []*testNode{f.issuer, f.alice, f.bob} {
		stored, err := n.storage.Get(context.Background(), tx.ID())
		require.NoError(t, err)
		assert.Equal(t, tx.ID(), stored.ID())
	}
}

func TestSequentialIssuancesAreNotMerged(t *testing.T) {
	f := newFixture(t, time.Minute)

	first := f.issue(t, Holding{Holder: f.alice.party, Quantity: 10})
	second := f.issue(t, Holding{Holder: f.alice.party, Quantity: 10})

	states := f.alice.states(t)
	require.Len(t, states, 2)
	assert.Equal(t, states[0].State, states[1].State)
	assert.Equal(t, token.StateRef{TxID: first.ID()}, states[0].Ref)
	assert.Equal(t, token.StateRef{TxID: second.ID()}, states[1].Ref)

	// each can be spent on its own
	tx, err := NewTransfer(states[1:], []token.FungibleState{{AssetType: states[1].State.AssetType, Owner: f.bob.party, Quantity: 10}})
	require.NoError(t, err)
	_, _, err = f.run(t, f.alice, tx)
	require.NoError(t, err)
	assert.Equal(t, states[:1], f.alice.states(t))
	assert.Equal(t, 1, f.bob.states(t).Count())
}

func TestDoubleSpendIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.issue(t, Holding{Holder: f.alice.party, Quantity: 10}, Holding{Holder: f.bob.party, Quantity: 5})
	aliceStates := f.alice.states(t)
	air := aliceStates[0].State.AssetType

	tx, err := NewTransfer(aliceStates, []token.FungibleState{{AssetType: air, Owner: f.bob.party, Quantity: 10}})
	require.NoError(t, err)
	_, _, err = f.run(t, f.alice, tx)
	require.NoError(t, err)

	bobBefore := f.bob.states(t)
	require.Len(t, bobBefore, 2)

	// alice spends the same state again
	again, err := NewTransfer(aliceStates, []token.FungibleState{{AssetType: air, Owner: f.issuer.party, Quantity: 10}})
	require.NoError(t, err)
	h, _, err := f.run(t, f.alice, again)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrDoubleSpend))
	assert.True(t, errors.Is(err, ErrSignatureRejected))
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, f.alice.party, rejection.Party)
	assert.Equal(t, RejectDoubleSpend, rejection.Code)
	assert.Equal(t, Aborted, h.Status())

	assert.Empty(t, f.alice.states(t))
	assert.Equal(t, bobBefore, f.bob.states(t))
	assert.Empty(t, f.issuer.states(t))
	assert.Equal(t, 0, f.network.Pending())
}

func TestUnknownAssetTypeIsRejected(t *testing.T) {
	network := mocknet.New()
	t.Cleanup(network.Stop)
	issuer := newTestNode(t, network, "issuer", time.Minute)
	alice := newTestNode(t, network, "alice", time.Minute)
	bob := newTestNode(t, network, "bob", time.Minute, "CAR")
	f := &fixture{network: network, issuer: issuer, alice: alice, bob: bob}

	tx, err := NewIssue(issuer.party, "AIR", []Holding{{Holder: alice.party, Quantity: 10}, {Holder: bob.party, Quantity: 5}})
	require.NoError(t, err)
	h, _, err := f.run(t, issuer, tx)
	assert.True(t, errors.Is(err, ErrUnknownAssetType))
	assert.True(t, errors.Is(err, ErrSignatureRejected))
	assert.Equal(t, Aborted, h.Status())

	assert.Empty(t, alice.states(t))
	assert.Empty(t, bob.states(t))
	_, err = alice.storage.Get(context.Background(), tx.ID())
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	// bob accepts its own asset type
	tx, err = NewIssue(issuer.party, "CAR", []Holding{{Holder: bob.party, Quantity: 5}})
	require.NoError(t, err)
	_, _, err = f.run(t, issuer, tx)
	require.NoError(t, err)
	assert.Equal(t, 1, bob.states(t).Count())
}

func TestTimeoutReleasesReservations(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	f.issue(t, Holding{Holder: f.alice.party, Quantity: 10})
	aliceStates := f.alice.states(t)
	air := aliceStates[0].State.AssetType

	tx, err := NewTransfer(aliceStates, []token.FungibleState{{AssetType: air, Owner: f.bob.party, Quantity: 10}})
	require.NoError(t, err)
	h, err := f.alice.coordinator.Initiate(context.Background(), tx)
	require.NoError(t, err)

	// nobody answers in time
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not time out")
	}
	_, err = h.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrFlowTimeout))
	assert.Equal(t, Aborted, h.Status())

	// the late proposals reserve the inputs, the aborts release them
	f.network.Flush()
	assert.Equal(t, aliceStates, f.alice.states(t))
	assert.Empty(t, f.bob.states(t))
	require.NoError(t, f.alice.vault.Lock(context.Background(), "check", aliceStates.Refs()))
	require.NoError(t, f.alice.vault.Unlock(context.Background(), "check"))
}

func TestCanceledContextAbortsFlow(t *testing.T) {
	f := newFixture(t, time.Minute)
	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{{Holder: f.alice.party, Quantity: 10}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := f.issuer.coordinator.Initiate(ctx, tx)
	require.NoError(t, err)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("flow not aborted")
	}
	_, err = h.Wait(context.Background())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Aborted, h.Status())

	f.network.Flush()
	assert.Empty(t, f.alice.states(t))
}

func TestRedeem(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.issue(t, Holding{Holder: f.alice.party, Quantity: 10}, Holding{Holder: f.alice.party, Quantity: 3})
	aliceStates := f.alice.states(t)

	tx, err := NewRedeem(aliceStates[:1])
	require.NoError(t, err)
	h, stx, err := f.run(t, f.alice, tx)
	require.NoError(t, err)
	assert.Equal(t, []token.Party{f.issuer.party, f.alice.party}, h.Participants())
	require.NoError(t, stx.VerifySignatures(f.issuer.party, f.alice.party))
	assert.Equal(t, aliceStates[1:], f.alice.states(t))
}

func TestInitiateFailures(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	// inputs produced by a transaction alice does not know
	unknown := &Transaction{
		Kind:    Transfer,
		Inputs:  []token.StateRef{{TxID: "unknown"}},
		Outputs: []token.FungibleState{{Owner: f.bob.party, Quantity: 1}},
	}
	_, err := f.alice.coordinator.Initiate(ctx, unknown)
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	zero := &Transaction{Kind: Issue, Outputs: []token.FungibleState{{Owner: f.bob.party}}}
	_, err = f.issuer.coordinator.Initiate(ctx, zero)
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{{Holder: f.alice.party, Quantity: 10}})
	require.NoError(t, err)
	_, err = f.issuer.coordinator.Initiate(ctx, tx)
	require.NoError(t, err)
	_, err = f.issuer.coordinator.Initiate(ctx, tx)
	assert.Error(t, err)
	assert.Equal(t, 2, f.network.Pending())
}

func TestRejectionError(t *testing.T) {
	err := &RejectionError{Party: aliceParty, Code: RejectConservation, Reason: "boom"}
	assert.Equal(t, "signature rejected by [alice] (conservation): boom", err.Error())
	assert.True(t, errors.Is(err, ErrSignatureRejected))
	assert.True(t, errors.Is(err, ErrConservation))
	assert.False(t, errors.Is(err, vault.ErrDoubleSpend))

	assert.Equal(t, RejectDoubleSpend, rejectCode(errors.Wrapf(vault.ErrDoubleSpend, "state")))
	assert.Equal(t, RejectInternal, rejectCode(errors.New("disk full")))
}

func TestTransferOfAnotherPartyStatesIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.issue(t, Holding{Holder: f.alice.party, Quantity: 10})
	aliceStates := f.alice.states(t)
	air := aliceStates[0].State.AssetType

	// bob learns about alice's states and tries to move them to himself
	dep, err := f.alice.storage.Get(context.Background(), aliceStates[0].Ref.TxID)
	require.NoError(t, err)
	require.NoError(t, f.bob.storage.Append(context.Background(), dep))
	tx, err := NewTransfer(aliceStates, []token.FungibleState{{AssetType: air, Owner: f.bob.party, Quantity: 10}})
	require.NoError(t, err)
	h, _, err := f.run(t, f.bob, tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignatureRejected))
	assert.True(t, errors.Is(err, ErrInvalidTransaction))
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, f.alice.party, rejection.Party)
	assert.Equal(t, RejectInvalid, rejection.Code)
	assert.Equal(t, Aborted, h.Status())

	assert.Equal(t, aliceStates, f.alice.states(t))
	assert.Empty(t, f.bob.states(t))
	_, err = f.alice.storage.Get(context.Background(), tx.ID())
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	// alice can still spend them
	tx, err = NewTransfer(aliceStates, []token.FungibleState{{AssetType: air, Owner: f.bob.party, Quantity: 10}})
	require.NoError(t, err)
	_, _, err = f.run(t, f.alice, tx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bob.states(t).Count())
}

func TestIssuanceNotInitiatedByIssuerIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)

	// alice mints tokens of the issuer's asset type
	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{{Holder: f.alice.party, Quantity: 1000000}})
	require.NoError(t, err)
	h, _, err := f.run(t, f.alice, tx)
	require.Error(t, err)
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, f.issuer.party, rejection.Party)
	assert.Equal(t, RejectInvalid, rejection.Code)
	assert.Equal(t, Aborted, h.Status())

	assert.Empty(t, f.alice.states(t))
	assert.Equal(t, 0, f.network.Pending())
}

func TestAcceptPolicy(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.issuer.coordinator.SetAcceptPolicy(AcceptAll)

	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{{Holder: f.alice.party, Quantity: 5}})
	require.NoError(t, err)
	_, _, err = f.run(t, f.alice, tx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alice.states(t).Count())

	// redemptions of its asset type are signed by the issuer without a custom policy
	f.issuer.coordinator.SetAcceptPolicy(InitiatorConsent)
	redeem, err := NewRedeem(f.alice.states(t))
	require.NoError(t, err)
	_, _, err = f.run(t, f.alice, redeem)
	require.NoError(t, err)
	assert.Empty(t, f.alice.states(t))

	err = InitiatorConsent(aliceParty, bobParty, ledgerTx(t, &Transaction{Kind: Issue, Outputs: []token.FungibleState{{AssetType: airType, Owner: aliceParty, Quantity: 1}}}))
	assert.NoError(t, err)
	err = InitiatorConsent(issuerParty, bobParty, ledgerTx(t, &Transaction{Kind: Issue, Outputs: []token.FungibleState{{AssetType: airType, Owner: aliceParty, Quantity: 1}}}))
	assert.True(t, errors.Is(err, ErrInvalidTransaction))
}

func TestFlowGauges(t *testing.T) {
	f := newFixture(t, time.Minute)
	tx, err := NewIssue(f.issuer.party, "AIR", []Holding{{Holder: f.alice.party, Quantity: 10}})
	require.NoError(t, err)
	h, err := f.issuer.coordinator.Initiate(context.Background(), tx)
	require.NoError(t, err)
	last, _ := f.issuer.metrics.OpenFlows.(*recordingGauge).values()
	assert.Equal(t, float64(1), last)

	f.network.Flush()
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	last, max := f.issuer.metrics.OpenFlows.(*recordingGauge).values()
	assert.Equal(t, float64(0), last)
	assert.Equal(t, float64(1), max)
	for _, n := range []*testNode{f.issuer, f.alice} {
		last, max := n.metrics.PendingProposals.(*recordingGauge).values()
		assert.Equal(t, float64(0), last, n.party.Name)
		assert.Equal(t, float64(1), max, n.party.Name)
	}
	_, max = f.bob.metrics.PendingProposals.(*recordingGauge).values()
	assert.Equal(t, float64(0), max)
}
