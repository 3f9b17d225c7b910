/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sdk

import (
	"context"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/identity"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/ttx"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

// Node is a party of the network together with its vault and its flow coordinator
type Node struct {
	name        string
	identity    *identity.Provider
	vault       *vault.Vault
	storage     *ttx.Storage
	cache       closableCache
	coordinator *ttx.Coordinator
}

func (n *Node) Name() string {
	return n.name
}

// Party returns the legal identity of the node
func (n *Node) Party() token.Party {
	return n.identity.DefaultIdentity()
}

// Issue starts a flow issuing, in a single transaction, a state of tag for each holding.
// Output i of the transaction corresponds to holdings[i].
func (n *Node) Issue(ctx context.Context, tag string, holdings []ttx.Holding) (*ttx.Handle, error) {
	tx, err := ttx.NewIssue(n.Party(), tag, holdings)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed building issue")
	}
	logger.Debugf("[%s] issue [%s] to %d holders", n.name, tag, len(holdings))
	return n.coordinator.Initiate(ctx, tx)
}

// Transfer starts a flow consuming inputs, owned by this node, and producing outputs
func (n *Node) Transfer(ctx context.Context, inputs token.StatesAndRefs, outputs []token.FungibleState) (*ttx.Handle, error) {
	if err := n.checkOwned(inputs); err != nil {
		return nil, err
	}
	tx, err := ttx.NewTransfer(inputs, outputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed building transfer")
	}
	return n.coordinator.Initiate(ctx, tx)
}

// Redeem starts a flow destroying inputs. Owners and issuers of the inputs must sign.
func (n *Node) Redeem(ctx context.Context, inputs token.StatesAndRefs) (*ttx.Handle, error) {
	if err := n.checkOwned(inputs); err != nil {
		return nil, err
	}
	tx, err := ttx.NewRedeem(inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed building redeem")
	}
	return n.coordinator.Initiate(ctx, tx)
}

func (n *Node) checkOwned(inputs token.StatesAndRefs) error {
	for _, in := range inputs {
		if !n.identity.IsMe(in.State.Owner) {
			return errors.Errorf("input %s is owned by [%s], not by [%s]", in.Ref, in.State.Owner, n.name)
		}
	}
	return nil
}

// VaultQuery returns the unspent states of this node matching every predicate, in insertion order
func (n *Node) VaultQuery(ctx context.Context, predicates ...vault.Predicate) (token.StatesAndRefs, error) {
	return n.vault.Query(ctx, predicates...)
}

// Transaction returns a finalized transaction this node took part in
func (n *Node) Transaction(ctx context.Context, txID string) (*ttx.SignedTransaction, error) {
	return n.storage.Get(ctx, txID)
}

func (n *Node) close() {
	n.cache.Close()
}
