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

	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	"github.com/pkg/errors"
)

// StateStore implements vault.Store on top of a sql database
type StateStore struct {
	db     *sql.DB
	driver string
	table  tableNames
}

func NewStateStore(db *sql.DB, driver string, tablePrefix string, createSchema bool) (*StateStore, error) {
	tables, err := getTableNames(tablePrefix)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get table names")
	}
	s := &StateStore{db: db, driver: driver, table: tables}
	if createSchema {
		if err := initSchema(db, s.GetSchema()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *StateStore) GetSchema() string {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == Postgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	return fmt.Sprintf(`
		-- States
		CREATE TABLE IF NOT EXISTS %s (
			%s,
			tx_id TEXT NOT NULL,
			idx INT NOT NULL,
			owner_id TEXT NOT NULL,
			owner_name TEXT NOT NULL,
			issuer_id TEXT NOT NULL,
			issuer_name TEXT NOT NULL,
			tag TEXT NOT NULL,
			quantity TEXT NOT NULL,
			stored_at TIMESTAMP NOT NULL,
			is_deleted BOOL NOT NULL DEFAULT false,
			spent_by TEXT NOT NULL DEFAULT '',
			spent_at TIMESTAMP,
			UNIQUE (tx_id, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_owner_%s ON %s ( owner_id, is_deleted );

		-- Reservations
		CREATE TABLE IF NOT EXISTS %s (
			tx_id TEXT NOT NULL,
			idx INT NOT NULL,
			locked_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tx_id, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_locked_by_%s ON %s ( locked_by );
		`,
		s.table.States, seq,
		s.table.States, s.table.States,
		s.table.Reservations,
		s.table.Reservations, s.table.Reservations,
	)
}

// UnspentStates returns the unspent states of owner in insertion order
func (s *StateStore) UnspentStates(ctx context.Context, owner token.Party) (token.StatesAndRefs, error) {
	query := fmt.Sprintf("SELECT tx_id, idx, owner_name, issuer_id, issuer_name, tag, quantity FROM %s WHERE owner_id = $1 AND is_deleted = false ORDER BY seq ASC", s.table.States)
	logger.Debug(query, owner.ID)

	rows, err := s.db.QueryContext(ctx, query, owner.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "error querying db")
	}
	defer rows.Close()

	res := token.StatesAndRefs{}
	for rows.Next() {
		var (
			sr       token.StateAndRef
			quantity string
		)
		sr.State.Owner.ID = owner.ID
		if err := rows.Scan(
			&sr.Ref.TxID,
			&sr.Ref.Index,
			&sr.State.Owner.Name,
			&sr.State.AssetType.Issuer.ID,
			&sr.State.AssetType.Issuer.Name,
			&sr.State.AssetType.Tag,
			&quantity,
		); err != nil {
			return nil, errors.Wrapf(err, "error scanning state")
		}
		q, err := token.ToQuantity(quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid quantity for state %s", sr.Ref)
		}
		sr.State.Quantity = q.Value
		res = append(res, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating states")
	}
	return res, nil
}

func (s *StateStore) CountUnspent(ctx context.Context, owner token.Party) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner_id = $1 AND is_deleted = false", s.table.States)
	logger.Debug(query, owner.ID)

	var count int
	if err := s.db.QueryRowContext(ctx, query, owner.ID).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "error counting states")
	}
	return count, nil
}

// Apply marks consumed as spent, stores produced and releases the reservations of txID, in one db transaction
func (s *StateStore) Apply(ctx context.Context, owner token.Party, txID string, consumed []token.StateRef, produced token.StatesAndRefs) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed starting db transaction")
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	now := time.Now().UTC()
	spend := fmt.Sprintf("UPDATE %s SET is_deleted = true, spent_by = $1, spent_at = $2 WHERE tx_id = $3 AND idx = $4 AND owner_id = $5 AND is_deleted = false", s.table.States)
	for _, ref := range consumed {
		if err = s.checkNotReservedByOthers(ctx, tx, txID, ref); err != nil {
			return err
		}
		logger.Debug(spend, txID, ref.TxID, ref.Index, owner.ID)
		var res sql.Result
		res, err = tx.ExecContext(ctx, spend, txID, now, ref.TxID, ref.Index, owner.ID)
		if err != nil {
			return errors.Wrapf(err, "error spending state %s", ref)
		}
		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return errors.Wrapf(err, "error spending state %s", ref)
		}
		if n == 0 {
			err = errors.Wrapf(vault.ErrDoubleSpend, "state %s is not unspent in the vault of [%s]", ref, owner)
			return err
		}
	}

	store := fmt.Sprintf("INSERT INTO %s (tx_id, idx, owner_id, owner_name, issuer_id, issuer_name, tag, quantity, stored_at) "+
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (tx_id, idx) DO NOTHING", s.table.States)
	for _, sr := range produced {
		st := sr.State
		logger.Debug(store, sr.Ref.TxID, sr.Ref.Index, st.Owner.ID)
		if _, err = tx.ExecContext(ctx, store,
			sr.Ref.TxID, sr.Ref.Index,
			st.Owner.ID, st.Owner.Name,
			st.AssetType.Issuer.ID, st.AssetType.Issuer.Name,
			st.AssetType.Tag, token.NewQuantity(st.Quantity).Hex(),
			now,
		); err != nil {
			return errors.Wrapf(err, "error storing state %s", sr.Ref)
		}
	}

	if err = s.release(ctx, tx, txID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed committing db transaction")
	}
	return nil
}

// Reserve reserves refs for txID, in one db transaction
func (s *StateStore) Reserve(ctx context.Context, owner token.Party, txID string, refs []token.StateRef) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed starting db transaction")
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	exists := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tx_id = $1 AND idx = $2 AND owner_id = $3 AND is_deleted = false", s.table.States)
	lock := fmt.Sprintf("INSERT INTO %s (tx_id, idx, locked_by, created_at) VALUES ($1, $2, $3, $4)", s.table.Reservations)
	now := time.Now().UTC()
	for _, ref := range refs {
		logger.Debug(exists, ref.TxID, ref.Index, owner.ID)
		var count int
		if err = tx.QueryRowContext(ctx, exists, ref.TxID, ref.Index, owner.ID).Scan(&count); err != nil {
			return errors.Wrapf(err, "error looking up state %s", ref)
		}
		if count == 0 {
			err = errors.Wrapf(vault.ErrDoubleSpend, "state %s is not unspent in the vault of [%s]", ref, owner)
			return err
		}
		var lockedBy string
		if lockedBy, err = s.lockedBy(ctx, tx, ref); err != nil {
			return err
		}
		if lockedBy == txID {
			continue
		}
		if len(lockedBy) != 0 {
			err = errors.Wrapf(vault.ErrStateReserved, "state %s reserved by [%s]", ref, lockedBy)
			return err
		}
		logger.Debug(lock, ref.TxID, ref.Index, txID)
		if _, err = tx.ExecContext(ctx, lock, ref.TxID, ref.Index, txID, now); err != nil {
			return errors.Wrapf(err, "error reserving state %s", ref)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed committing db transaction")
	}
	return nil
}

func (s *StateStore) Release(ctx context.Context, txID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE locked_by = $1", s.table.Reservations)
	logger.Debug(query, txID)
	if _, err := s.db.ExecContext(ctx, query, txID); err != nil {
		return errors.Wrapf(err, "error releasing reservations of [%s]", txID)
	}
	return nil
}

func (s *StateStore) release(ctx context.Context, tx *sql.Tx, txID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE locked_by = $1", s.table.Reservations)
	logger.Debug(query, txID)
	if _, err := tx.ExecContext(ctx, query, txID); err != nil {
		return errors.Wrapf(err, "error releasing reservations of [%s]", txID)
	}
	return nil
}

func (s *StateStore) lockedBy(ctx context.Context, tx *sql.Tx, ref token.StateRef) (string, error) {
	query := fmt.Sprintf("SELECT locked_by FROM %s WHERE tx_id = $1 AND idx = $2", s.table.Reservations)
	logger.Debug(query, ref.TxID, ref.Index)
	var lockedBy string
	err := tx.QueryRowContext(ctx, query, ref.TxID, ref.Index).Scan(&lockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "error looking up reservation of %s", ref)
	}
	return lockedBy, nil
}

func (s *StateStore) checkNotReservedByOthers(ctx context.Context, tx *sql.Tx, txID string, ref token.StateRef) error {
	lockedBy, err := s.lockedBy(ctx, tx, ref)
	if err != nil {
		return err
	}
	if len(lockedBy) != 0 && lockedBy != txID {
		return errors.Wrapf(vault.ErrStateReserved, "state %s reserved by [%s]", ref, lockedBy)
	}
	return nil
}
