/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// TransactionStore keeps the raw finalized transactions known to a node
type TransactionStore struct {
	db    *sql.DB
	table tableNames
}

func NewTransactionStore(db *sql.DB, tablePrefix string, createSchema bool) (*TransactionStore, error) {
	tables, err := getTableNames(tablePrefix)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get table names")
	}
	s := &TransactionStore{db: db, table: tables}
	if createSchema {
		if err := initSchema(db, s.GetSchema()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *TransactionStore) GetSchema() string {
	return fmt.Sprintf(`
		-- Transactions
		CREATE TABLE IF NOT EXISTS %s (
			tx_id TEXT NOT NULL PRIMARY KEY,
			raw BYTEA NOT NULL,
			stored_at TIMESTAMP NOT NULL
		);
		`,
		s.table.Transactions,
	)
}

// Put stores raw under txID. Storing the same id twice keeps the first copy.
func (s *TransactionStore) Put(ctx context.Context, txID string, raw []byte) error {
	query := fmt.Sprintf("INSERT INTO %s (tx_id, raw, stored_at) VALUES ($1, $2, $3) ON CONFLICT (tx_id) DO NOTHING", s.table.Transactions)
	logger.Debug(query, txID)
	if _, err := s.db.ExecContext(ctx, query, txID, raw, time.Now().UTC()); err != nil {
		return errors.Wrapf(err, "error storing transaction [%s]", txID)
	}
	return nil
}

// Get returns the raw transaction stored under txID, nil if there is none
func (s *TransactionStore) Get(ctx context.Context, txID string) ([]byte, error) {
	query := fmt.Sprintf("SELECT raw FROM %s WHERE tx_id = $1", s.table.Transactions)
	logger.Debug(query, txID)
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, txID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error querying transaction [%s]", txID)
	}
	return raw, nil
}
