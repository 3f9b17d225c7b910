/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"encoding/hex"
	"encoding/json"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/identity"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// Kind is the kind of state transition a transaction performs
type Kind string

const (
	Issue    Kind = "issue"
	Transfer Kind = "transfer"
	Redeem   Kind = "redeem"
)

// Transaction consumes Inputs and produces Outputs.
// The output at position i is referenced as StateRef{TxID: ID(), Index: i}.
type Transaction struct {
	Kind    Kind                  `json:"kind"`
	Nonce   string                `json:"nonce"`
	Inputs  []token.StateRef      `json:"inputs"`
	Outputs []token.FungibleState `json:"outputs"`
}

// ID is the hex encoded sha3-256 digest of the json encoding of the transaction
func (t *Transaction) ID() string {
	raw, err := json.Marshal(t)
	if err != nil {
		// a struct of strings and integers always marshals
		panic(errors.Wrapf(err, "failed marshalling transaction"))
	}
	digest := sha3.Sum256(raw)
	return hex.EncodeToString(digest[:])
}

// OutputsAndRefs returns the outputs together with their references
func (t *Transaction) OutputsAndRefs() token.StatesAndRefs {
	id := t.ID()
	res := make(token.StatesAndRefs, len(t.Outputs))
	for i, o := range t.Outputs {
		res[i] = token.StateAndRef{State: o, Ref: token.StateRef{TxID: id, Index: uint64(i)}}
	}
	return res
}

func (t *Transaction) String() string {
	return string(t.Kind) + ":" + t.ID()
}

// Signature is the signature of a party over a transaction id
type Signature struct {
	Signer token.Party `json:"signer"`
	Sigma  []byte      `json:"sigma"`
}

// SignedTransaction is a transaction together with the signatures of its participants
type SignedTransaction struct {
	Transaction *Transaction `json:"tx"`
	Signatures  []Signature  `json:"signatures"`
}

func (s *SignedTransaction) ID() string {
	return s.Transaction.ID()
}

func (s *SignedTransaction) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

func (s *SignedTransaction) FromBytes(raw []byte) error {
	if err := json.Unmarshal(raw, s); err != nil {
		return errors.Wrapf(err, "failed unmarshalling signed transaction")
	}
	if s.Transaction == nil {
		return errors.New("signed transaction without transaction")
	}
	return nil
}

// Signers returns the parties that signed, in signing order
func (s *SignedTransaction) Signers() []token.Party {
	res := make([]token.Party, len(s.Signatures))
	for i, sig := range s.Signatures {
		res[i] = sig.Signer
	}
	return res
}

// VerifySignatures checks that every signature is valid and that every party in required signed
func (s *SignedTransaction) VerifySignatures(required ...token.Party) error {
	id := []byte(s.ID())
	signed := map[token.Party]struct{}{}
	for _, sig := range s.Signatures {
		if err := identity.Verify(sig.Signer, id, sig.Sigma); err != nil {
			return errors.WithMessagef(err, "signature of [%s] on [%s]", sig.Signer, s.ID())
		}
		signed[sig.Signer] = struct{}{}
	}
	for _, p := range required {
		if _, ok := signed[p]; !ok {
			return errors.Wrapf(ErrMissingSignature, "[%s] did not sign [%s]", p, s.ID())
		}
	}
	return nil
}

// LedgerTransaction is a transaction whose inputs have been resolved to the states they reference
type LedgerTransaction struct {
	tx     *Transaction
	id     string
	inputs token.StatesAndRefs
}

// Resolve looks up the inputs of tx among the outputs of deps
func Resolve(tx *Transaction, deps ...*SignedTransaction) (*LedgerTransaction, error) {
	if err := checkDistinct(tx.Inputs); err != nil {
		return nil, err
	}
	byID := make(map[string]*Transaction, len(deps))
	for _, d := range deps {
		byID[d.ID()] = d.Transaction
	}
	inputs := make(token.StatesAndRefs, len(tx.Inputs))
	for i, ref := range tx.Inputs {
		dep, ok := byID[ref.TxID]
		if !ok {
			return nil, errors.Wrapf(ErrTransactionNotFound, "cannot resolve input %s", ref)
		}
		if ref.Index >= uint64(len(dep.Outputs)) {
			return nil, errors.Wrapf(ErrInvalidTransaction, "input %s out of range, [%s] has %d outputs", ref, ref.TxID, len(dep.Outputs))
		}
		inputs[i] = token.StateAndRef{State: dep.Outputs[ref.Index], Ref: ref}
	}
	return &LedgerTransaction{tx: tx, id: tx.ID(), inputs: inputs}, nil
}

// checkDistinct fails if a state is referenced more than once
func checkDistinct(refs []token.StateRef) error {
	seen := make(map[token.StateRef]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			return errors.Wrapf(ErrInvalidTransaction, "input %s appears more than once", ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

func (l *LedgerTransaction) ID() string {
	return l.id
}

func (l *LedgerTransaction) Kind() Kind {
	return l.tx.Kind
}

func (l *LedgerTransaction) Transaction() *Transaction {
	return l.tx
}

func (l *LedgerTransaction) Inputs() token.StatesAndRefs {
	return l.inputs
}

func (l *LedgerTransaction) Outputs() token.StatesAndRefs {
	return l.tx.OutputsAndRefs()
}

// RequiredSigners returns the parties whose signature makes the transaction valid:
// the issuer for an issuance, the input owners for a transfer,
// the input issuers and the input owners for a redemption.
func (l *LedgerTransaction) RequiredSigners() []token.Party {
	var parties partySet
	switch l.tx.Kind {
	case Issue:
		for _, out := range l.tx.Outputs {
			parties.add(out.AssetType.Issuer)
		}
	case Transfer:
		for _, in := range l.inputs {
			parties.add(in.State.Owner)
		}
	case Redeem:
		for _, in := range l.inputs {
			parties.add(in.State.AssetType.Issuer)
		}
		for _, in := range l.inputs {
			parties.add(in.State.Owner)
		}
	}
	return parties.list
}

// Participants returns the required signers followed by the other input and output owners.
// Every party appears once.
func (l *LedgerTransaction) Participants() []token.Party {
	parties := partySet{}
	for _, p := range l.RequiredSigners() {
		parties.add(p)
	}
	for _, in := range l.inputs {
		parties.add(in.State.Owner)
	}
	for _, out := range l.tx.Outputs {
		parties.add(out.Owner)
	}
	return parties.list
}

type partySet struct {
	seen map[token.Party]struct{}
	list []token.Party
}

func (p *partySet) add(party token.Party) {
	if p.seen == nil {
		p.seen = map[token.Party]struct{}{}
	}
	if _, ok := p.seen[party]; ok {
		return
	}
	p.seen[party] = struct{}{}
	p.list = append(p.list, party)
}
