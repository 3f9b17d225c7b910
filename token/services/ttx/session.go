/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Handle tracks a flow initiated by this node
type Handle struct {
	id           string
	tx           *LedgerTransaction
	participants []token.Party
	started      time.Time
	span         trace.Span

	mutex      sync.Mutex
	status     FlowStatus
	signatures map[token.Party][]byte
	acks       map[token.Party]struct{}
	commitErrs []string
	stopTimer  func()
	signed     *SignedTransaction

	done   chan struct{}
	result *SignedTransaction
	err    error
}

func newHandle(tx *LedgerTransaction, participants []token.Party, span trace.Span) *Handle {
	return &Handle{
		id:           tx.ID(),
		tx:           tx,
		participants: participants,
		started:      time.Now(),
		span:         span,
		status:       Drafted,
		signatures:   map[token.Party][]byte{},
		acks:         map[token.Party]struct{}{},
		stopTimer:    func() {},
		done:         make(chan struct{}),
	}
}

// ID returns the id of the transaction of the flow
func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Transaction() *Transaction {
	return h.tx.Transaction()
}

// Participants returns the parties asked to sign
func (h *Handle) Participants() []token.Party {
	return h.participants
}

func (h *Handle) Status() FlowStatus {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.status
}

// Done is closed when the flow is over: every participant committed, or the flow aborted
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the flow is over and returns the signed transaction.
// With the mock network, the network must be flushed for the flow to make progress.
func (h *Handle) Wait(ctx context.Context) (*SignedTransaction, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for flow [%s]", h.id)
	}
}

func (h *Handle) isParticipant(party token.Party) bool {
	for _, p := range h.participants {
		if p == party {
			return true
		}
	}
	return false
}

// resolve must be called with the lock held
func (h *Handle) resolve(result *SignedTransaction, err error) {
	h.result = result
	h.err = err
	close(h.done)
}
