/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocknet

import (
	"context"
	"sync"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

var logger = logging.MustGetLogger("network.mocknet")

// ErrStopped signals that the network has been stopped
var ErrStopped = errors.New("network stopped")

type Driver struct{}

func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) New(config.Network) (driver.Network, error) {
	return New(), nil
}

// Network buffers every sent message until Flush is called.
// Delivery happens on the goroutine calling Flush, in send order.
type Network struct {
	mutex    sync.Mutex
	queue    []*driver.Message
	handlers map[string]driver.Handler
	stopped  bool

	// flushing serializes deliveries
	flushing sync.Mutex
}

func New() *Network {
	return &Network{handlers: map[string]driver.Handler{}}
}

func (n *Network) Join(party token.Party, handler driver.Handler) (driver.Endpoint, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if _, ok := n.handlers[party.ID]; ok {
		return nil, errors.Errorf("party [%s] already joined", party)
	}
	n.handlers[party.ID] = handler
	logger.Debugf("[%s] joined", party)
	return &endpoint{party: party, network: n}, nil
}

func (n *Network) send(msg *driver.Message) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.stopped {
		return ErrStopped
	}
	if _, ok := n.handlers[msg.To.ID]; !ok {
		return errors.Errorf("unknown recipient [%s]", msg.To)
	}
	n.queue = append(n.queue, msg)
	return nil
}

// Flush delivers the pending messages, and the messages sent while delivering, until the queue is empty.
// It returns the number of delivered messages. Flushing an empty queue does nothing.
func (n *Network) Flush() int {
	n.flushing.Lock()
	defer n.flushing.Unlock()

	delivered := 0
	for {
		msg, handler, ok := n.next()
		if !ok {
			break
		}
		logger.Debugf("deliver [%s] from [%s] to [%s]", msg.Kind, msg.From, msg.To)
		handler(context.Background(), msg)
		delivered++
	}
	if delivered > 0 {
		logger.Debugf("flushed %d messages", delivered)
	}
	return delivered
}

func (n *Network) next() (*driver.Message, driver.Handler, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.stopped || len(n.queue) == 0 {
		return nil, nil, false
	}
	msg := n.queue[0]
	n.queue[0] = nil
	n.queue = n.queue[1:]
	return msg, n.handlers[msg.To.ID], true
}

func (n *Network) Pending() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.queue)
}

// Stop drops the pending messages
func (n *Network) Stop() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.stopped = true
	n.queue = nil
}

type endpoint struct {
	party   token.Party
	network *Network
}

func (e *endpoint) Party() token.Party {
	return e.party
}

func (e *endpoint) Send(_ context.Context, msg *driver.Message) error {
	msg.From = e.party
	return e.network.send(msg)
}
