/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inproc

import (
	"context"
	"sync"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
)

var logger = logging.MustGetLogger("network.inproc")

// ErrStopped signals that the network has been stopped
var ErrStopped = errors.New("network stopped")

type Driver struct{}

func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) New(cfg config.Network) (driver.Network, error) {
	return New(cfg.MailboxSize), nil
}

// Network delivers messages asynchronously. Every party owns a mailbox drained by its own goroutine,
// so messages to the same party are delivered one at a time, in send order.
type Network struct {
	mailboxSize int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          conc.WaitGroup

	mutex     sync.Mutex
	idle      *sync.Cond
	mailboxes map[string]*mailbox
	inflight  int
	delivered int
	stopped   bool
}

func New(mailboxSize int) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		mailboxSize: mailboxSize,
		ctx:         ctx,
		cancel:      cancel,
		mailboxes:   map[string]*mailbox{},
	}
	n.idle = sync.NewCond(&n.mutex)
	return n
}

func (n *Network) Join(party token.Party, handler driver.Handler) (driver.Endpoint, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.stopped {
		return nil, ErrStopped
	}
	if _, ok := n.mailboxes[party.ID]; ok {
		return nil, errors.Errorf("party [%s] already joined", party)
	}
	mb := &mailbox{
		owner:   party,
		handler: handler,
		queue:   make([]*driver.Message, 0, n.mailboxSize),
		signal:  make(chan struct{}, 1),
	}
	n.mailboxes[party.ID] = mb
	n.wg.Go(func() { n.drain(mb) })
	logger.Debugf("[%s] joined", party)
	return &endpoint{party: party, network: n}, nil
}

func (n *Network) send(msg *driver.Message) error {
	n.mutex.Lock()
	if n.stopped {
		n.mutex.Unlock()
		return ErrStopped
	}
	mb, ok := n.mailboxes[msg.To.ID]
	if !ok {
		n.mutex.Unlock()
		return errors.Errorf("unknown recipient [%s]", msg.To)
	}
	n.inflight++
	n.mutex.Unlock()

	mb.push(msg)
	return nil
}

func (n *Network) drain(mb *mailbox) {
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-mb.signal:
		}
		for {
			msg, ok := mb.pop()
			if !ok {
				break
			}
			if n.ctx.Err() != nil {
				return
			}
			logger.Debugf("deliver [%s] from [%s] to [%s]", msg.Kind, msg.From, msg.To)
			mb.handler(n.ctx, msg)
			n.done()
		}
	}
}

func (n *Network) done() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.stopped {
		// Stop already dropped the messages in flight
		return
	}
	n.inflight--
	n.delivered++
	if n.inflight == 0 {
		n.idle.Broadcast()
	}
}

// Flush waits until every sent message, including those sent while waiting, has been delivered.
// It returns the number of messages delivered since the previous Flush.
func (n *Network) Flush() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for n.inflight > 0 && !n.stopped {
		n.idle.Wait()
	}
	delivered := n.delivered
	n.delivered = 0
	return delivered
}

func (n *Network) Pending() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.inflight
}

// Stop terminates the mailboxes and waits for the running handlers to return.
// Undelivered messages are dropped and Pending reports zero from then on.
func (n *Network) Stop() {
	n.mutex.Lock()
	if n.stopped {
		n.mutex.Unlock()
		return
	}
	n.stopped = true
	n.inflight = 0
	n.idle.Broadcast()
	n.mutex.Unlock()

	n.cancel()
	n.wg.Wait()
}

type mailbox struct {
	owner   token.Party
	handler driver.Handler

	mutex  sync.Mutex
	queue  []*driver.Message
	signal chan struct{}
}

func (m *mailbox) push(msg *driver.Message) {
	m.mutex.Lock()
	m.queue = append(m.queue, msg)
	m.mutex.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (*driver.Message, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return msg, true
}

type endpoint struct {
	party   token.Party
	network *Network
}

func (e *endpoint) Party() token.Party {
	return e.party
}

func (e *endpoint) Send(ctx context.Context, msg *driver.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "cannot send to [%s]", msg.To)
	}
	msg.From = e.party
	return e.network.send(msg)
}
