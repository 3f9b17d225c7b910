/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package identity

import (
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

var logger = logging.MustGetLogger("services.identity")

// Provider handles the long-term identity of a node and its signer.
type Provider struct {
	signers         map[string]*Signer
	defaultIdentity token.Party
}

// NewProvider returns a provider whose default identity is the one of the passed signer.
func NewProvider(defaultSigner *Signer) *Provider {
	p := &Provider{
		signers:         map[string]*Signer{},
		defaultIdentity: defaultSigner.Party(),
	}
	p.signers[defaultSigner.Party().ID] = defaultSigner
	logger.Debugf("default identity set to [%s]", p.defaultIdentity)
	return p
}

// DefaultIdentity returns the legal identity of the node
func (p *Provider) DefaultIdentity() token.Party {
	return p.defaultIdentity
}

// IsMe returns true if this provider holds the signer of the passed party
func (p *Provider) IsMe(party token.Party) bool {
	s, ok := p.signers[party.ID]
	return ok && s.Party() == party
}

// GetSigner returns the signer for the passed party
func (p *Provider) GetSigner(party token.Party) (*Signer, error) {
	s, ok := p.signers[party.ID]
	if !ok || s.Party() != party {
		return nil, errors.Errorf("signer not found for [%s]", party)
	}
	return s, nil
}
