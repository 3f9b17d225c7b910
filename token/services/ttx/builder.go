/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"github.com/hashicorp/go-uuid"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

// Holding is an amount of tokens to be held by a party
type Holding struct {
	Holder   token.Party
	Quantity uint64
}

// NewIssue returns an issuance of tokens of type tag@issuer, one output per holding, in the order of holdings
func NewIssue(issuer token.Party, tag string, holdings []Holding) (*Transaction, error) {
	if issuer.IsNone() {
		return nil, errors.New("issuer not set")
	}
	if len(tag) == 0 {
		return nil, errors.New("asset type tag not set")
	}
	if len(holdings) == 0 {
		return nil, errors.New("no holdings to issue")
	}
	typ := token.AssetType{Issuer: issuer, Tag: tag}
	outputs := make([]token.FungibleState, len(holdings))
	for i, h := range holdings {
		if h.Quantity == 0 {
			return nil, errors.Wrapf(ErrInvalidAmount, "holding [%d] for [%s] has zero quantity", i, h.Holder)
		}
		if h.Holder.IsNone() {
			return nil, errors.Errorf("holding [%d] has no holder", i)
		}
		outputs[i] = token.FungibleState{AssetType: typ, Owner: h.Holder, Quantity: h.Quantity}
	}
	return newTransaction(Issue, nil, outputs)
}

// NewTransfer returns a transaction consuming inputs and producing outputs.
// For every asset type, inputs and outputs must sum up to the same quantity.
func NewTransfer(inputs token.StatesAndRefs, outputs []token.FungibleState) (*Transaction, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs to transfer")
	}
	if len(outputs) == 0 {
		return nil, errors.New("no outputs to transfer to")
	}
	if err := checkDistinct(inputs.Refs()); err != nil {
		return nil, err
	}
	for i, o := range outputs {
		if o.Quantity == 0 {
			return nil, errors.Wrapf(ErrInvalidAmount, "output [%d] for [%s] has zero quantity", i, o.Owner)
		}
	}
	if err := checkConservation(inputs, outputs); err != nil {
		return nil, err
	}
	return newTransaction(Transfer, inputs.Refs(), outputs)
}

// NewRedeem returns a transaction consuming inputs and producing nothing
func NewRedeem(inputs token.StatesAndRefs) (*Transaction, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs to redeem")
	}
	if err := checkDistinct(inputs.Refs()); err != nil {
		return nil, err
	}
	return newTransaction(Redeem, inputs.Refs(), nil)
}

func newTransaction(kind Kind, inputs []token.StateRef, outputs []token.FungibleState) (*Transaction, error) {
	nonce, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrapf(err, "failed generating nonce")
	}
	if inputs == nil {
		inputs = []token.StateRef{}
	}
	if outputs == nil {
		outputs = []token.FungibleState{}
	}
	return &Transaction{
		Kind:    kind,
		Nonce:   nonce,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// checkConservation checks that, for every asset type, the inputs sum up to the outputs
func checkConservation(inputs token.StatesAndRefs, outputs []token.FungibleState) error {
	in, err := sumByType(inputs.States())
	if err != nil {
		return errors.WithMessagef(err, "failed summing inputs")
	}
	out, err := sumByType(outputs)
	if err != nil {
		return errors.WithMessagef(err, "failed summing outputs")
	}
	for typ, q := range in {
		if out[typ] != q {
			return errors.Wrapf(ErrConservation, "[%s]: inputs sum up to %d, outputs to %d", typ, q, out[typ])
		}
	}
	for typ, q := range out {
		if _, ok := in[typ]; !ok {
			return errors.Wrapf(ErrConservation, "[%s]: no inputs, outputs sum up to %d", typ, q)
		}
	}
	return nil
}

func sumByType(states []token.FungibleState) (map[token.AssetType]uint64, error) {
	sums := map[token.AssetType]*token.Quantity{}
	for _, s := range states {
		q, ok := sums[s.AssetType]
		if !ok {
			q = token.NewZeroQuantity()
			sums[s.AssetType] = q
		}
		if err := q.Add(s.Quantity); err != nil {
			return nil, errors.WithMessagef(err, "[%s]", s.AssetType)
		}
	}
	res := make(map[token.AssetType]uint64, len(sums))
	for typ, q := range sums {
		res[typ] = q.Value
	}
	return res, nil
}
