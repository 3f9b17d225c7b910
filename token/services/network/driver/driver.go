/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"context"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
)

// MessageKind tells the recipient how to interpret the payload
type MessageKind string

// Message is the unit of delivery between parties
type Message struct {
	From token.Party
	To   token.Party
	// Session groups the messages of one flow
	Session string
	Kind    MessageKind
	Payload []byte
}

// Handler consumes the messages delivered to a party.
// Handlers may send further messages.
type Handler func(ctx context.Context, msg *Message)

// Endpoint is the attachment point of a party to the network
type Endpoint interface {
	Party() token.Party
	// Send hands msg over to the network. It does not wait for delivery.
	Send(ctx context.Context, msg *Message) error
}

// Network delivers messages between the parties that joined it
type Network interface {
	// Join attaches party to the network. Messages addressed to party are passed to handler.
	Join(party token.Party, handler Handler) (Endpoint, error)
	// Flush delivers messages until there is nothing left to deliver and returns how many were delivered.
	Flush() int
	// Pending returns the number of messages sent but not yet delivered
	Pending() int
	// Stop releases the resources of the network. Messages sent after Stop are dropped.
	Stop()
}

// Driver creates networks
type Driver interface {
	New(cfg config.Network) (Network, error)
}
