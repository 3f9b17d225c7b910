/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"context"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

func (c *Coordinator) handlePropose(ctx context.Context, msg *driver.Message) {
	ltx, err := c.validate(msg)
	if err != nil {
		c.reject(ctx, msg, err)
		return
	}
	if err := c.accept(c.me, msg.From, ltx); err != nil {
		c.reject(ctx, msg, err)
		return
	}
	signer, err := c.identity.GetSigner(c.me)
	if err != nil {
		c.reject(ctx, msg, err)
		return
	}
	// the inputs this node owns stay reserved until the flow is finalized or aborted
	if err := c.vault.Lock(ctx, ltx.ID(), ltx.Inputs().OwnedBy(c.me).Refs()); err != nil {
		c.reject(ctx, msg, err)
		return
	}
	sigma, err := signer.Sign([]byte(ltx.ID()))
	if err != nil {
		c.unlock(ctx, ltx.ID())
		c.reject(ctx, msg, err)
		return
	}

	c.mutex.Lock()
	c.proposals[ltx.ID()] = &proposal{tx: ltx, initiator: msg.From}
	c.metrics.PendingProposals.Set(float64(len(c.proposals)))
	c.mutex.Unlock()

	logger.Debugf("[%s] sign [%s] for [%s]", c.me, logging.Prefix(ltx.ID()), msg.From)
	c.metrics.SignedTransactions.Add(1)
	if err := c.endpoint.Send(ctx, newMessage(msg.From, msg.Session, SignMsg, &Signature{Signer: c.me, Sigma: sigma})); err != nil {
		logger.Errorf("[%s] failed sending signature of [%s] to [%s]: %s", c.me, logging.Prefix(ltx.ID()), msg.From, err)
	}
}

// validate resolves and validates the proposed transaction
func (c *Coordinator) validate(msg *driver.Message) (*LedgerTransaction, error) {
	p := &Proposal{}
	if err := unmarshal(msg, p); err != nil {
		return nil, errors.Wrapf(ErrInvalidTransaction, "%s", err)
	}
	if p.Transaction == nil {
		return nil, errors.Wrapf(ErrInvalidTransaction, "empty proposal")
	}
	if id := p.Transaction.ID(); id != msg.Session {
		return nil, errors.Wrapf(ErrInvalidTransaction, "proposal of [%s] in session [%s]", id, msg.Session)
	}
	for _, dep := range p.Dependencies {
		if err := dep.VerifySignatures(); err != nil {
			return nil, errors.Wrapf(ErrInvalidTransaction, "dependency [%s]: %s", dep.ID(), err)
		}
	}
	ltx, err := Resolve(p.Transaction, p.Dependencies...)
	if err != nil {
		return nil, err
	}
	if err := c.validator.Validate(ltx); err != nil {
		return nil, err
	}
	return ltx, nil
}

// AcceptPolicy decides whether this node, me, consents to sign a valid transaction proposed by initiator.
// A refusal is reported to the initiator with the code of the returned error.
type AcceptPolicy func(me, initiator token.Party, tx *LedgerTransaction) error

// InitiatorConsent lets only the node itself spend its states and issue its asset types.
// Proposals that merely pay this node, or redeem states of its asset types, are accepted from anyone.
func InitiatorConsent(me, initiator token.Party, tx *LedgerTransaction) error {
	if initiator == me {
		return nil
	}
	if owned := tx.Inputs().OwnedBy(me); len(owned) != 0 {
		return errors.Wrapf(ErrInvalidTransaction, "[%s] consumes %s of [%s] but was proposed by [%s]", tx.ID(), owned[0].Ref, me, initiator)
	}
	if tx.Kind() == Issue {
		for _, o := range tx.Transaction().Outputs {
			if o.AssetType.Issuer == me {
				return errors.Wrapf(ErrInvalidTransaction, "issuance of [%s] proposed by [%s]", o.AssetType, initiator)
			}
		}
	}
	return nil
}

// AcceptAll signs every valid proposal
func AcceptAll(token.Party, token.Party, *LedgerTransaction) error {
	return nil
}

func (c *Coordinator) reject(ctx context.Context, msg *driver.Message, cause error) {
	code := rejectCode(cause)
	logger.Infof("[%s] reject [%s] from [%s]: %s", c.me, logging.Prefix(msg.Session), msg.From, cause)
	c.metrics.RejectedTransactions.With(reasonLabel, string(code)).Add(1)
	if err := c.endpoint.Send(ctx, newMessage(msg.From, msg.Session, RejectMsg, &Rejection{Code: code, Reason: cause.Error()})); err != nil {
		logger.Errorf("[%s] failed sending rejection of [%s] to [%s]: %s", c.me, logging.Prefix(msg.Session), msg.From, err)
	}
}

func (c *Coordinator) handleAbort(ctx context.Context, msg *driver.Message) {
	p := c.popProposal(msg)
	if p == nil {
		return
	}
	logger.Debugf("[%s] [%s] aborted by [%s]", c.me, logging.Prefix(msg.Session), msg.From)
	c.unlock(ctx, msg.Session)
}

func (c *Coordinator) handleFinalize(ctx context.Context, msg *driver.Message) {
	p := c.popProposal(msg)
	if p == nil {
		c.ack(ctx, msg, errors.Errorf("no pending proposal [%s]", msg.Session))
		return
	}
	stx := &SignedTransaction{}
	if err := unmarshal(msg, stx); err != nil {
		c.unlock(ctx, msg.Session)
		c.ack(ctx, msg, err)
		return
	}
	if err := c.validator.VerifySignatures(p.tx, stx); err != nil {
		c.unlock(ctx, msg.Session)
		c.ack(ctx, msg, err)
		return
	}
	if err := c.vault.Commit(ctx, p.tx); err != nil {
		c.unlock(ctx, msg.Session)
		c.ack(ctx, msg, err)
		return
	}
	if err := c.storage.Append(ctx, stx); err != nil {
		c.ack(ctx, msg, err)
		return
	}
	logger.Debugf("[%s] committed [%s]", c.me, logging.Prefix(stx.ID()))
	c.ack(ctx, msg, nil)
}

// popProposal returns the pending proposal of the session of msg, if msg comes from its initiator
func (c *Coordinator) popProposal(msg *driver.Message) *proposal {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p, ok := c.proposals[msg.Session]
	if !ok || p.initiator != msg.From {
		logger.Debugf("[%s] drop [%s] from [%s]: no pending proposal [%s]", c.me, msg.Kind, msg.From, logging.Prefix(msg.Session))
		return nil
	}
	delete(c.proposals, msg.Session)
	c.metrics.PendingProposals.Set(float64(len(c.proposals)))
	return p
}

func (c *Coordinator) unlock(ctx context.Context, txID string) {
	if err := c.vault.Unlock(ctx, txID); err != nil {
		logger.Errorf("[%s] failed releasing states reserved by [%s]: %s", c.me, logging.Prefix(txID), err)
	}
}

func (c *Coordinator) ack(ctx context.Context, msg *driver.Message, cause error) {
	ack := &Committed{}
	if cause != nil {
		logger.Errorf("[%s] failed committing [%s]: %s", c.me, logging.Prefix(msg.Session), cause)
		ack.Error = cause.Error()
	}
	if err := c.endpoint.Send(ctx, newMessage(msg.From, msg.Session, CommittedMsg, ack)); err != nil {
		logger.Errorf("[%s] failed acknowledging [%s] to [%s]: %s", c.me, logging.Prefix(msg.Session), msg.From, err)
	}
}
