/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"context"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/utils/cache"
	"github.com/pkg/errors"
)

// TransactionDB persists raw signed transactions
type TransactionDB interface {
	Put(ctx context.Context, txID string, raw []byte) error
	// Get returns nil if the transaction is not found
	Get(ctx context.Context, txID string) ([]byte, error)
}

// Storage keeps the finalized transactions a node took part in
type Storage struct {
	db    TransactionDB
	cache cache.Cache[*SignedTransaction]
}

func NewStorage(db TransactionDB, cache cache.Cache[*SignedTransaction]) *Storage {
	return &Storage{db: db, cache: cache}
}

// Append stores stx. Appending a transaction twice keeps the first copy.
func (s *Storage) Append(ctx context.Context, stx *SignedTransaction) error {
	raw, err := stx.Bytes()
	if err != nil {
		return errors.Wrapf(err, "failed marshalling [%s]", stx.ID())
	}
	id := stx.ID()
	if err := s.db.Put(ctx, id, raw); err != nil {
		return errors.WithMessagef(err, "failed storing [%s]", id)
	}
	s.cache.Add(id, stx)
	return nil
}

// Get returns the transaction with the passed id, ErrTransactionNotFound if there is none
func (s *Storage) Get(ctx context.Context, txID string) (*SignedTransaction, error) {
	stx, _, err := s.cache.GetOrLoad(txID, func() (*SignedTransaction, error) {
		raw, err := s.db.Get(ctx, txID)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, errors.Wrapf(ErrTransactionNotFound, "[%s]", txID)
		}
		stx := &SignedTransaction{}
		if err := stx.FromBytes(raw); err != nil {
			return nil, err
		}
		return stx, nil
	})
	if err != nil {
		return nil, err
	}
	return stx, nil
}
