/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package flowtest provides helpers to drive flows on a mock network from tests
package flowtest

import (
	"context"
	"testing"

	"github.com/hyperledger-labs/fabric-token-flows/token/sdk"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/ttx"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AirMile is the asset type tag used by the helpers
const AirMile = "AIR"

// CreateFrom returns the state of quantity air miles, issued by issuer, that holder should receive
func CreateFrom(issuer, holder *sdk.Node, quantity uint64) token.FungibleState {
	return token.FungibleState{
		AssetType: token.AssetType{Issuer: issuer.Party(), Tag: AirMile},
		Owner:     holder.Party(),
		Quantity:  quantity,
	}
}

// ToPair returns the holding producing s when issued
func ToPair(s token.FungibleState) ttx.Holding {
	return ttx.Holding{Holder: s.Owner, Quantity: s.Quantity}
}

// NodeHolding is a quantity to issue to a node
type NodeHolding struct {
	Holder   *sdk.Node
	Quantity uint64
}

func (h NodeHolding) ToPair() ttx.Holding {
	return ttx.Holding{Holder: h.Holder.Party(), Quantity: h.Quantity}
}

// IssueTokens issues air miles from node to the holders in a single transaction, runs the network
// and returns the issued states in holdings order.
func IssueTokens(t testing.TB, node *sdk.Node, network *sdk.MockNetwork, holdings ...NodeHolding) token.StatesAndRefs {
	t.Helper()
	pairs := make([]ttx.Holding, len(holdings))
	for i, h := range holdings {
		pairs[i] = h.ToPair()
	}
	ctx := context.Background()
	h, err := node.Issue(ctx, AirMile, pairs)
	require.NoError(t, err)
	stx, err := network.Await(ctx, h)
	require.NoError(t, err)
	return stx.Transaction.OutputsAndRefs()
}

// AssertHasStatesInVault checks the vault of node holds exactly states, in order
func AssertHasStatesInVault(t testing.TB, node *sdk.Node, states token.StatesAndRefs) {
	t.Helper()
	stored, err := node.VaultQuery(context.Background())
	require.NoError(t, err)
	require.Equal(t, states.Count(), stored.Count(), "vault of [%s]", node.Name())
	for i := range states {
		assert.Equal(t, states[i], stored[i], "state [%d] in vault of [%s]", i, node.Name())
	}
}
