/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package token_test

import (
	"testing"

	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatesAndRefs(t *testing.T) {
	issuer := token.Party{Name: "issuer", ID: "01"}
	alice := token.Party{Name: "alice", ID: "02"}
	bob := token.Party{Name: "bob", ID: "03"}
	air := token.AssetType{Issuer: issuer, Tag: "AIR"}
	car := token.AssetType{Issuer: issuer, Tag: "CAR"}

	states := token.StatesAndRefs{
		{State: token.FungibleState{AssetType: air, Owner: alice, Quantity: 10}, Ref: token.StateRef{TxID: "tx1", Index: 0}},
		{State: token.FungibleState{AssetType: air, Owner: bob, Quantity: 5}, Ref: token.StateRef{TxID: "tx1", Index: 1}},
		{State: token.FungibleState{AssetType: car, Owner: alice, Quantity: 3}, Ref: token.StateRef{TxID: "tx2", Index: 0}},
	}
	assert.Equal(t, 3, states.Count())

	mine := states.OwnedBy(alice)
	assert.Equal(t, []token.StateRef{{TxID: "tx1", Index: 0}, {TxID: "tx2", Index: 0}}, mine.Refs())

	airs := states.ByAssetType(air)
	sum, err := airs.Sum()
	require.NoError(t, err)
	assert.Equal(t, uint64(15), sum)
	assert.Equal(t, []token.FungibleState{
		{AssetType: air, Owner: alice, Quantity: 10},
		{AssetType: air, Owner: bob, Quantity: 5},
	}, airs.States())

	// value equality compares every field
	assert.True(t, states[0].State == token.FungibleState{AssetType: air, Owner: alice, Quantity: 10})
	assert.False(t, states[0].State == token.FungibleState{AssetType: car, Owner: alice, Quantity: 10})

	assert.Equal(t, "[tx1:1]", states[1].Ref.String())
	assert.Equal(t, "AIR@issuer", air.String())
	assert.True(t, token.Party{}.IsNone())
	assert.False(t, alice.IsNone())
}
