/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vault

import (
	"context"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

var logger = logging.MustGetLogger("vault")

var (
	// ErrDoubleSpend signals that a consumed state is not in the vault (never existed or already spent)
	ErrDoubleSpend = errors.New("double spend")
	// ErrStateReserved signals that a state is reserved by another in-flight transaction
	ErrStateReserved = errors.New("state reserved by another transaction")
)

// Transaction is the view of a finalized transaction the vault needs to commit it
type Transaction interface {
	ID() string
	// Inputs returns the consumed states, resolved
	Inputs() token.StatesAndRefs
	// Outputs returns the produced states, in order
	Outputs() token.StatesAndRefs
}

// Store persists the unspent states of the parties of a node
type Store interface {
	// UnspentStates returns the unspent states of owner in insertion order
	UnspentStates(ctx context.Context, owner token.Party) (token.StatesAndRefs, error)
	// CountUnspent returns the number of unspent states of owner
	CountUnspent(ctx context.Context, owner token.Party) (int, error)
	// Apply atomically marks consumed as spent by txID, stores produced and releases the reservations of txID.
	// It returns ErrDoubleSpend, leaving the store unchanged, if a consumed state is not unspent or not owned by owner.
	Apply(ctx context.Context, owner token.Party, txID string, consumed []token.StateRef, produced token.StatesAndRefs) error
	// Reserve atomically reserves refs for txID.
	// It returns ErrDoubleSpend if a ref is not unspent or not owned by owner,
	// ErrStateReserved if a ref is reserved by another transaction.
	Reserve(ctx context.Context, owner token.Party, txID string, refs []token.StateRef) error
	// Release drops the reservations of txID
	Release(ctx context.Context, txID string) error
}

// Predicate filters vault queries
type Predicate func(sr token.StateAndRef) bool

// ByAssetType selects the states of the passed asset type
func ByAssetType(typ token.AssetType) Predicate {
	return func(sr token.StateAndRef) bool { return sr.State.AssetType == typ }
}

// ByTag selects the states whose asset type has the passed tag, whatever the issuer
func ByTag(tag string) Predicate {
	return func(sr token.StateAndRef) bool { return sr.State.AssetType.Tag == tag }
}

// ByIssuer selects the states issued by the passed party
func ByIssuer(issuer token.Party) Predicate {
	return func(sr token.StateAndRef) bool { return sr.State.AssetType.Issuer == issuer }
}

// MinQuantity selects the states holding at least q units
func MinQuantity(q uint64) Predicate {
	return func(sr token.StateAndRef) bool { return sr.State.Quantity >= q }
}

// Vault is the set of unconsumed states owned by a party
type Vault struct {
	owner token.Party
	store Store
}

func New(owner token.Party, store Store) *Vault {
	return &Vault{owner: owner, store: store}
}

func (v *Vault) Owner() token.Party {
	return v.owner
}

// Query returns the unspent states matching all the passed predicates, in insertion order
func (v *Vault) Query(ctx context.Context, predicates ...Predicate) (token.StatesAndRefs, error) {
	states, err := v.store.UnspentStates(ctx, v.owner)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed querying vault of [%s]", v.owner)
	}
	if len(predicates) == 0 {
		return states, nil
	}
	res := make(token.StatesAndRefs, 0, len(states))
	for _, sr := range states {
		if matches(sr, predicates) {
			res = append(res, sr)
		}
	}
	return res, nil
}

func matches(sr token.StateAndRef, predicates []Predicate) bool {
	for _, p := range predicates {
		if !p(sr) {
			return false
		}
	}
	return true
}

// Size returns the number of unspent states in the vault
func (v *Vault) Size(ctx context.Context) (int, error) {
	return v.store.CountUnspent(ctx, v.owner)
}

// Commit removes the inputs of tx owned by this vault's owner and adds the outputs owned by it.
// It fails with ErrDoubleSpend if an owned input is not in the vault; in that case the vault is unchanged.
func (v *Vault) Commit(ctx context.Context, tx Transaction) error {
	consumed := tx.Inputs().OwnedBy(v.owner).Refs()
	produced := tx.Outputs().OwnedBy(v.owner)
	logger.Debugf("[%s] commit [%s]: consume %v, produce %d states", v.owner, logging.Prefix(tx.ID()), consumed, len(produced))
	if err := v.store.Apply(ctx, v.owner, tx.ID(), consumed, produced); err != nil {
		return errors.WithMessagef(err, "failed committing [%s] to vault of [%s]", tx.ID(), v.owner)
	}
	return nil
}

// Lock reserves the passed states for txID, so that no other transaction can spend them
// until txID is committed or unlocked.
func (v *Vault) Lock(ctx context.Context, txID string, refs []token.StateRef) error {
	if len(refs) == 0 {
		return nil
	}
	logger.Debugf("[%s] lock %v for [%s]", v.owner, refs, logging.Prefix(txID))
	if err := v.store.Reserve(ctx, v.owner, txID, refs); err != nil {
		return errors.WithMessagef(err, "failed locking states for [%s]", txID)
	}
	return nil
}

// Unlock releases the states reserved by txID
func (v *Vault) Unlock(ctx context.Context, txID string) error {
	logger.Debugf("[%s] unlock states of [%s]", v.owner, logging.Prefix(txID))
	return v.store.Release(ctx, txID)
}
