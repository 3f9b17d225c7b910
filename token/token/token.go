/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/
package token

import "fmt"

// Party identifies a network participant.
type Party struct {
	// Name is the human readable name of the party (e.g. "O=Alice,L=London,C=GB")
	Name string `json:"name"`
	// ID is the hex encoding of the party's public key. It is the canonical identifier.
	ID string `json:"id"`
}

func (p Party) String() string {
	return p.Name
}

// IsNone returns true if this is the zero party
func (p Party) IsNone() bool {
	return len(p.ID) == 0
}

// AssetType describes a class of fungible tokens: who issues them and what they represent
type AssetType struct {
	// Issuer is the party allowed to issue tokens of this type
	Issuer Party `json:"issuer"`
	// Tag is the type tag (e.g. "AIR")
	Tag string `json:"tag"`
}

func (a AssetType) String() string {
	return fmt.Sprintf("%s@%s", a.Tag, a.Issuer.Name)
}

// FungibleState is an amount of an asset type held by an owner.
// States are never mutated, they are consumed and replaced.
type FungibleState struct {
	AssetType AssetType `json:"asset_type"`
	Owner     Party     `json:"owner"`
	Quantity  uint64    `json:"quantity"`
}

func (s FungibleState) String() string {
	return fmt.Sprintf("{%s,%s,%d}", s.Owner.Name, s.AssetType, s.Quantity)
}

// StateRef identifies a state as a function of the identifier of the transaction
// that created it and its index in that transaction
type StateRef struct {
	// TxID is the transaction ID of the transaction that created the state
	TxID string `json:"tx_id"`
	// Index is the index of the state in the outputs of the transaction that created it
	Index uint64 `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("[%s:%d]", r.TxID, r.Index)
}

// StateAndRef couples a state with the reference to it
type StateAndRef struct {
	State FungibleState `json:"state"`
	Ref   StateRef      `json:"ref"`
}

// StatesAndRefs is an ordered sequence of states
type StatesAndRefs []StateAndRef

func (s StatesAndRefs) Count() int {
	return len(s)
}

// States drops the references
func (s StatesAndRefs) States() []FungibleState {
	res := make([]FungibleState, len(s))
	for i, sr := range s {
		res[i] = sr.State
	}
	return res
}

// Refs drops the states
func (s StatesAndRefs) Refs() []StateRef {
	res := make([]StateRef, len(s))
	for i, sr := range s {
		res[i] = sr.Ref
	}
	return res
}

// OwnedBy returns the states owned by the passed party, preserving order
func (s StatesAndRefs) OwnedBy(owner Party) StatesAndRefs {
	res := StatesAndRefs{}
	for _, sr := range s {
		if sr.State.Owner == owner {
			res = append(res, sr)
		}
	}
	return res
}

// ByAssetType returns the states of the passed asset type, preserving order
func (s StatesAndRefs) ByAssetType(typ AssetType) StatesAndRefs {
	res := StatesAndRefs{}
	for _, sr := range s {
		if sr.State.AssetType == typ {
			res = append(res, sr)
		}
	}
	return res
}

// Sum returns the total quantity of the states.
func (s StatesAndRefs) Sum() (uint64, error) {
	values := make([]uint64, len(s))
	for i, sr := range s {
		values[i] = sr.State.Quantity
	}
	return SumQuantities(values...)
}
