/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"

	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

// ErrInvalidSignature signals that a signature does not verify against the claimed party
var ErrInvalidSignature = errors.New("invalid signature")

// Signer holds the ed25519 key of a party
type Signer struct {
	party token.Party
	key   ed25519.PrivateKey
}

// NewSigner generates a fresh key pair for the party with the passed name
func NewSigner(name string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed generating key for [%s]", name)
	}
	return NewSignerFromKey(name, priv), nil
}

func NewSignerFromKey(name string, key ed25519.PrivateKey) *Signer {
	pub := key.Public().(ed25519.PublicKey)
	return &Signer{
		party: token.Party{Name: name, ID: hex.EncodeToString(pub)},
		key:   key,
	}
}

// LoadOrCreateSigner loads the key stored at keyPath, generating and storing a new one
// when the file does not exist or is empty.
// Keys are stored PEM encoded (PKCS8) with 0600 permissions.
func LoadOrCreateSigner(name, keyPath string) (*Signer, error) {
	info, err := os.Stat(keyPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to stat [%s]", keyPath)
	}
	if os.IsNotExist(err) || info.Size() == 0 {
		s, err := NewSigner(name)
		if err != nil {
			return nil, err
		}
		if err := s.save(keyPath); err != nil {
			return nil, err
		}
		return s, nil
	}

	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading key file [%s]", keyPath)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Errorf("failed to decode PEM block from key file [%s]", keyPath)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed parsing key [%s]", keyPath)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.Errorf("key at [%s] is not an ed25519 private key", keyPath)
	}
	return NewSignerFromKey(name, priv), nil
}

func (s *Signer) save(keyPath string) error {
	der, err := x509.MarshalPKCS8PrivateKey(s.key)
	if err != nil {
		return errors.Wrapf(err, "failed marshalling key")
	}
	f, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed creating key file [%s]", keyPath)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		return errors.Wrapf(err, "failed writing key file [%s]", keyPath)
	}
	return nil
}

// Party returns the public identity bound to this signer
func (s *Signer) Party() token.Party {
	return s.party
}

// Sign signs the passed message
func (s *Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

// Verify checks that sigma is a signature of message by party
func Verify(party token.Party, message, sigma []byte) error {
	pub, err := hex.DecodeString(party.ID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Errorf("invalid identity for [%s]", party)
	}
	if !ed25519.Verify(pub, message, sigma) {
		return errors.Wrapf(ErrInvalidSignature, "party [%s]", party)
	}
	return nil
}
