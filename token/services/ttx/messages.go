/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

const (
	// ProposeMsg carries a Proposal from the initiator to a participant
	ProposeMsg driver.MessageKind = "ttx.propose"
	// SignMsg carries a Signature from a participant to the initiator
	SignMsg driver.MessageKind = "ttx.sign"
	// RejectMsg carries a Rejection from a participant to the initiator
	RejectMsg driver.MessageKind = "ttx.reject"
	// FinalizeMsg carries the SignedTransaction from the initiator to a participant
	FinalizeMsg driver.MessageKind = "ttx.finalize"
	// CommittedMsg carries a Committed acknowledgement from a participant to the initiator
	CommittedMsg driver.MessageKind = "ttx.committed"
	// AbortMsg tells a participant to forget a proposal
	AbortMsg driver.MessageKind = "ttx.abort"
)

// Proposal asks a participant to sign a transaction
type Proposal struct {
	Transaction *Transaction `json:"tx"`
	// Dependencies are the transactions producing the inputs
	Dependencies []*SignedTransaction `json:"dependencies"`
	Participants []token.Party        `json:"participants"`
}

type Rejection struct {
	Code   RejectCode `json:"code"`
	Reason string     `json:"reason"`
}

type Committed struct {
	// Error is set if the participant failed committing
	Error string `json:"error,omitempty"`
}

type Abort struct {
	Reason string `json:"reason"`
}

func newMessage(to token.Party, session string, kind driver.MessageKind, payload interface{}) *driver.Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("failed marshalling [%s] payload [%s]", kind, err))
	}
	return &driver.Message{To: to, Session: session, Kind: kind, Payload: raw}
}

func unmarshal(msg *driver.Message, payload interface{}) error {
	if err := json.Unmarshal(msg.Payload, payload); err != nil {
		return errors.Wrapf(err, "failed unmarshalling [%s] from [%s]", msg.Kind, msg.From)
	}
	return nil
}
