/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/identity"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var logger = logging.MustGetLogger("ttx")

// Coordinator runs the flows of a node.
// As initiator, it proposes transactions, collects the signatures of the participants and distributes the
// signed transaction. As participant, it validates proposals, reserves the states it owns, signs and commits.
type Coordinator struct {
	me        token.Party
	identity  *identity.Provider
	endpoint  driver.Endpoint
	vault     *vault.Vault
	storage   *Storage
	validator *Validator
	accept    AcceptPolicy
	timeout   time.Duration
	metrics   *Metrics
	tracer    trace.Tracer

	mutex     sync.Mutex
	sessions  map[string]*Handle
	proposals map[string]*proposal
}

// proposal is a transaction this node signed and waits to see finalized or aborted
type proposal struct {
	tx        *LedgerTransaction
	initiator token.Party
}

// NewCoordinator joins network on behalf of the default identity of the passed provider.
// Proposals are accepted according to InitiatorConsent, see SetAcceptPolicy.
func NewCoordinator(
	identityProvider *identity.Provider,
	network driver.Network,
	vault *vault.Vault,
	storage *Storage,
	validator *Validator,
	timeout time.Duration,
	metrics *Metrics,
	tracer trace.Tracer,
) (*Coordinator, error) {
	c := &Coordinator{
		me:        identityProvider.DefaultIdentity(),
		identity:  identityProvider,
		vault:     vault,
		storage:   storage,
		validator: validator,
		accept:    InitiatorConsent,
		timeout:   timeout,
		metrics:   metrics,
		tracer:    tracer,
		sessions:  map[string]*Handle{},
		proposals: map[string]*proposal{},
	}
	endpoint, err := network.Join(c.me, c.handle)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed joining network as [%s]", c.me)
	}
	c.endpoint = endpoint
	return c, nil
}

func (c *Coordinator) Party() token.Party {
	return c.me
}

// SetAcceptPolicy replaces the policy this node applies to the proposals it receives.
// It must be called before the node takes part in any flow.
func (c *Coordinator) SetAcceptPolicy(policy AcceptPolicy) {
	c.accept = policy
}

// Initiate starts the flow of tx. The proposal goes to every participant, this node included.
// The required signers of tx are added to participants when missing.
// When participants is empty, the parties involved in tx are used.
// Signature collection must complete within the coordinator timeout, and before ctx is canceled.
func (c *Coordinator) Initiate(ctx context.Context, tx *Transaction, participants ...token.Party) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "flow not initiated")
	}
	deps, err := c.dependencies(ctx, tx)
	if err != nil {
		return nil, err
	}
	ltx, err := Resolve(tx, deps...)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed resolving [%s]", tx.ID())
	}
	if err := c.validator.Validate(ltx); err != nil {
		return nil, errors.WithMessagef(err, "invalid transaction [%s]", ltx.ID())
	}
	if len(participants) == 0 {
		participants = ltx.Participants()
	} else {
		var ps partySet
		for _, p := range append(participants, ltx.RequiredSigners()...) {
			ps.add(p)
		}
		participants = ps.list
	}

	id := ltx.ID()
	ctx, span := c.tracer.Start(ctx, "ttx.flow",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tx.id", id),
			attribute.String("tx.kind", string(tx.Kind)),
			attribute.String("initiator", c.me.Name),
			attribute.Int("participants", len(participants)),
		),
	)
	h := newHandle(ltx, participants, span)

	c.mutex.Lock()
	if _, ok := c.sessions[id]; ok {
		c.mutex.Unlock()
		span.End()
		return nil, errors.Errorf("flow for [%s] already initiated", id)
	}
	c.sessions[id] = h
	c.metrics.OpenFlows.Set(float64(len(c.sessions)))
	c.mutex.Unlock()
	c.metrics.InitiatedFlows.Add(1)

	h.mutex.Lock()
	h.status = CollectingSignatures
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	stop := context.AfterFunc(timeoutCtx, func() { c.expire(ctx, h) })
	h.stopTimer = func() {
		stop()
		cancel()
	}
	h.mutex.Unlock()

	logger.Infof("[%s] initiate [%s] with %v", c.me, tx, participants)
	p := &Proposal{Transaction: tx, Dependencies: deps, Participants: participants}
	for _, party := range participants {
		if err := c.endpoint.Send(ctx, newMessage(party, id, ProposeMsg, p)); err != nil {
			err = errors.WithMessagef(err, "failed sending proposal of [%s] to [%s]", id, party)
			c.abort(h, err)
			return nil, err
		}
	}
	span.AddEvent("proposal sent")
	return h, nil
}

// dependencies returns the stored transactions producing the inputs of tx
func (c *Coordinator) dependencies(ctx context.Context, tx *Transaction) ([]*SignedTransaction, error) {
	var deps []*SignedTransaction
	seen := map[string]struct{}{}
	for _, ref := range tx.Inputs {
		if _, ok := seen[ref.TxID]; ok {
			continue
		}
		seen[ref.TxID] = struct{}{}
		stx, err := c.storage.Get(ctx, ref.TxID)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed loading dependency of input %s", ref)
		}
		deps = append(deps, stx)
	}
	return deps, nil
}

func (c *Coordinator) handle(ctx context.Context, msg *driver.Message) {
	switch msg.Kind {
	case ProposeMsg:
		c.handlePropose(ctx, msg)
	case AbortMsg:
		c.handleAbort(ctx, msg)
	case FinalizeMsg:
		c.handleFinalize(ctx, msg)
	case SignMsg:
		c.handleSign(msg)
	case RejectMsg:
		c.handleReject(msg)
	case CommittedMsg:
		c.handleCommitted(msg)
	default:
		logger.Warnf("[%s] unexpected message [%s] from [%s]", c.me, msg.Kind, msg.From)
	}
}

func (c *Coordinator) session(msg *driver.Message) *Handle {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	h, ok := c.sessions[msg.Session]
	if !ok {
		logger.Debugf("[%s] drop [%s] from [%s]: no flow [%s]", c.me, msg.Kind, msg.From, logging.Prefix(msg.Session))
		return nil
	}
	if !h.isParticipant(msg.From) {
		logger.Warnf("[%s] drop [%s] from [%s]: not a participant of [%s]", c.me, msg.Kind, msg.From, logging.Prefix(msg.Session))
		return nil
	}
	return h
}

func (c *Coordinator) handleSign(msg *driver.Message) {
	h := c.session(msg)
	if h == nil {
		// the signer reserved its inputs for a flow that is over
		abort := newMessage(msg.From, msg.Session, AbortMsg, &Abort{Reason: "flow is over"})
		if err := c.endpoint.Send(context.Background(), abort); err != nil {
			logger.Errorf("[%s] failed sending abort of [%s] to [%s]: %s", c.me, logging.Prefix(msg.Session), msg.From, err)
		}
		return
	}
	sig := &Signature{}
	if err := unmarshal(msg, sig); err != nil {
		c.abort(h, err)
		return
	}
	if err := identity.Verify(msg.From, []byte(h.id), sig.Sigma); err != nil {
		c.abort(h, errors.WithMessagef(err, "signature from [%s]", msg.From))
		return
	}

	h.mutex.Lock()
	if h.status != CollectingSignatures {
		h.mutex.Unlock()
		return
	}
	h.signatures[msg.From] = sig.Sigma
	logger.Debugf("[%s] signature of [%s] on [%s], %d/%d", c.me, msg.From, logging.Prefix(h.id), len(h.signatures), len(h.participants))
	if len(h.signatures) < len(h.participants) {
		h.mutex.Unlock()
		return
	}
	stx := &SignedTransaction{Transaction: h.tx.Transaction()}
	for _, p := range h.participants {
		stx.Signatures = append(stx.Signatures, Signature{Signer: p, Sigma: h.signatures[p]})
	}
	if err := c.validator.VerifySignatures(h.tx, stx); err != nil {
		h.mutex.Unlock()
		c.abort(h, err)
		return
	}
	h.status = Finalized
	h.signed = stx
	h.stopTimer()
	h.mutex.Unlock()

	h.span.AddEvent("signatures collected")
	logger.Debugf("[%s] [%s] signed by every participant, finalize", c.me, logging.Prefix(h.id))
	for _, p := range h.participants {
		if err := c.endpoint.Send(context.Background(), newMessage(p, h.id, FinalizeMsg, stx)); err != nil {
			logger.Errorf("[%s] failed sending [%s] to [%s]: %s", c.me, logging.Prefix(h.id), p, err)
		}
	}
}

func (c *Coordinator) handleReject(msg *driver.Message) {
	h := c.session(msg)
	if h == nil {
		return
	}
	rej := &Rejection{}
	if err := unmarshal(msg, rej); err != nil {
		c.abort(h, err)
		return
	}
	c.abort(h, &RejectionError{Party: msg.From, Code: rej.Code, Reason: rej.Reason})
}

func (c *Coordinator) handleCommitted(msg *driver.Message) {
	h := c.session(msg)
	if h == nil {
		return
	}
	ack := &Committed{}
	if err := unmarshal(msg, ack); err != nil {
		ack.Error = err.Error()
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.status != Finalized {
		return
	}
	if _, ok := h.acks[msg.From]; ok {
		return
	}
	h.acks[msg.From] = struct{}{}
	if len(ack.Error) != 0 {
		h.commitErrs = append(h.commitErrs, msg.From.Name+": "+ack.Error)
	}
	if len(h.acks) < len(h.participants) {
		return
	}

	c.closeSession(h.id)
	if len(h.commitErrs) != 0 {
		err := errors.Errorf("[%s] finalized but not committed by every participant: %v", h.id, h.commitErrs)
		logger.Errorf("[%s] %s", c.me, err)
		h.span.RecordError(err)
		h.span.SetStatus(codes.Error, "commit failed")
		h.span.End()
		h.resolve(h.signed, err)
		return
	}
	c.metrics.FinalizedFlows.Add(1)
	c.metrics.FlowDuration.Observe(time.Since(h.started).Seconds())
	h.span.SetStatus(codes.Ok, "")
	h.span.End()
	logger.Infof("[%s] [%s] finalized", c.me, h.tx.Transaction())
	h.resolve(h.signed, nil)
}

// expire aborts h when the signatures are not collected in time or the caller canceled parent
func (c *Coordinator) expire(parent context.Context, h *Handle) {
	if err := parent.Err(); err != nil {
		c.abort(h, errors.Wrapf(err, "flow [%s] canceled", h.id))
		return
	}
	c.abort(h, errors.Wrapf(ErrFlowTimeout, "signatures for [%s] not collected within %s", h.id, c.timeout))
}

// abort terminates h, unless it is already final, and tells the participants to release their reservations
func (c *Coordinator) abort(h *Handle, cause error) {
	h.mutex.Lock()
	if h.status.IsFinal() {
		h.mutex.Unlock()
		return
	}
	h.status = Aborted
	h.stopTimer()
	h.resolve(nil, cause)
	h.mutex.Unlock()
	c.closeSession(h.id)

	logger.Infof("[%s] abort [%s]: %s", c.me, h.tx.Transaction(), cause)
	c.metrics.AbortedFlows.With(reasonLabel, abortReason(cause)).Add(1)
	h.span.RecordError(cause)
	h.span.SetStatus(codes.Error, "aborted")
	h.span.End()

	for _, p := range h.participants {
		if err := c.endpoint.Send(context.Background(), newMessage(p, h.id, AbortMsg, &Abort{Reason: cause.Error()})); err != nil {
			logger.Errorf("[%s] failed sending abort of [%s] to [%s]: %s", c.me, logging.Prefix(h.id), p, err)
		}
	}
}

func (c *Coordinator) closeSession(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.sessions, id)
	c.metrics.OpenFlows.Set(float64(len(c.sessions)))
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, ErrFlowTimeout):
		return "timeout"
	case errors.Is(err, ErrSignatureRejected):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
