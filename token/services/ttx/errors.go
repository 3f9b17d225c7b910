/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"fmt"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidAmount signals a zero quantity
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrConservation signals that inputs and outputs do not sum up to the same quantity
	ErrConservation = errors.New("quantities not conserved")
	// ErrUnknownAssetType signals an asset type not accepted by the validating node
	ErrUnknownAssetType = errors.New("unknown asset type")
	// ErrInvalidTransaction signals a transaction breaking the contract rules
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrSignatureRejected signals that a participant declined to sign
	ErrSignatureRejected = errors.New("signature rejected")
	// ErrFlowTimeout signals that signatures were not collected in time
	ErrFlowTimeout = errors.New("flow timeout")
	// ErrMissingSignature signals that a required signer did not sign
	ErrMissingSignature = errors.New("missing signature")
	// ErrTransactionNotFound signals that a transaction is not in the local storage
	ErrTransactionNotFound = errors.New("transaction not found")
)

// RejectCode classifies the reason of a rejection
type RejectCode string

const (
	RejectInvalid          RejectCode = "invalid"
	RejectInvalidAmount    RejectCode = "invalid-amount"
	RejectConservation     RejectCode = "conservation"
	RejectUnknownAssetType RejectCode = "unknown-asset-type"
	RejectDoubleSpend      RejectCode = "double-spend"
	RejectStateReserved    RejectCode = "state-reserved"
	RejectInternal         RejectCode = "internal"
)

var codeErrors = map[RejectCode]error{
	RejectInvalid:          ErrInvalidTransaction,
	RejectInvalidAmount:    ErrInvalidAmount,
	RejectConservation:     ErrConservation,
	RejectUnknownAssetType: ErrUnknownAssetType,
	RejectDoubleSpend:      vault.ErrDoubleSpend,
	RejectStateReserved:    vault.ErrStateReserved,
}

func rejectCode(err error) RejectCode {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return RejectInternal
}

// RejectionError is returned by a flow aborted because a participant declined to sign.
// It matches ErrSignatureRejected and the error behind its code, e.g. vault.ErrDoubleSpend.
type RejectionError struct {
	Party  token.Party
	Code   RejectCode
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s by [%s] (%s): %s", ErrSignatureRejected, e.Party, e.Code, e.Reason)
}

func (e *RejectionError) Is(target error) bool {
	if target == ErrSignatureRejected {
		return true
	}
	codeErr, ok := codeErrors[e.Code]
	return ok && target == codeErr
}
