/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

// Validator checks transactions against the contract rules before a node signs them
type Validator struct {
	// tags of the accepted asset types, nil accepts every tag
	tags map[string]struct{}
}

// NewValidator returns a validator accepting the passed asset type tags.
// With no tags, every asset type is accepted.
func NewValidator(tags ...string) *Validator {
	v := &Validator{}
	if len(tags) != 0 {
		v.tags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			v.tags[t] = struct{}{}
		}
	}
	return v
}

func (v *Validator) Validate(tx *LedgerTransaction) error {
	if err := v.checkAssetTypes(tx); err != nil {
		return err
	}
	switch tx.Kind() {
	case Issue:
		return v.validateIssue(tx)
	case Transfer:
		return v.validateTransfer(tx)
	case Redeem:
		return v.validateRedeem(tx)
	default:
		return errors.Wrapf(ErrInvalidTransaction, "unknown transaction kind [%s]", tx.Kind())
	}
}

func (v *Validator) checkAssetTypes(tx *LedgerTransaction) error {
	if v.tags == nil {
		return nil
	}
	for _, s := range append(tx.Inputs().States(), tx.Transaction().Outputs...) {
		if _, ok := v.tags[s.AssetType.Tag]; !ok {
			return errors.Wrapf(ErrUnknownAssetType, "[%s]", s.AssetType)
		}
	}
	return nil
}

func (v *Validator) validateIssue(tx *LedgerTransaction) error {
	if len(tx.Inputs()) != 0 {
		return errors.Wrapf(ErrInvalidTransaction, "an issuance consumes no states")
	}
	outputs := tx.Transaction().Outputs
	if len(outputs) == 0 {
		return errors.Wrapf(ErrInvalidTransaction, "an issuance produces at least one state")
	}
	typ := outputs[0].AssetType
	for i, o := range outputs {
		if o.AssetType != typ {
			return errors.Wrapf(ErrInvalidTransaction, "output [%d] of type [%s], expected [%s]", i, o.AssetType, typ)
		}
	}
	return checkQuantities("output", outputs)
}

func (v *Validator) validateTransfer(tx *LedgerTransaction) error {
	if len(tx.Inputs()) == 0 {
		return errors.Wrapf(ErrInvalidTransaction, "a transfer consumes at least one state")
	}
	outputs := tx.Transaction().Outputs
	if len(outputs) == 0 {
		return errors.Wrapf(ErrInvalidTransaction, "a transfer produces at least one state")
	}
	if err := checkQuantities("output", outputs); err != nil {
		return err
	}
	return checkConservation(tx.Inputs(), outputs)
}

func (v *Validator) validateRedeem(tx *LedgerTransaction) error {
	if len(tx.Inputs()) == 0 {
		return errors.Wrapf(ErrInvalidTransaction, "there should be tokens to redeem")
	}
	if len(tx.Transaction().Outputs) != 0 {
		return errors.Wrapf(ErrInvalidTransaction, "no tokens should be issued when redeeming")
	}
	return checkQuantities("input", tx.Inputs().States())
}

func checkQuantities(what string, states []token.FungibleState) error {
	for i, s := range states {
		if s.Quantity == 0 {
			return errors.Wrapf(ErrInvalidAmount, "%s [%d] has zero quantity", what, i)
		}
	}
	return nil
}

// VerifySignatures checks the signatures of stx and that every required signer of tx signed
func (v *Validator) VerifySignatures(tx *LedgerTransaction, stx *SignedTransaction) error {
	if stx.ID() != tx.ID() {
		return errors.Wrapf(ErrInvalidTransaction, "signed transaction [%s] does not match [%s]", stx.ID(), tx.ID())
	}
	return stx.VerifySignatures(tx.RequiredSigners()...)
}
