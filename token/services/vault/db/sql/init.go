/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sql

import (
	"database/sql"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/pkg/errors"
)

var logger = logging.MustGetLogger("vault.sql")

const maxPrefixLength = 100

var prefixRegexp = regexp.MustCompile("^[a-zA-Z_]+$")

type tableNames struct {
	States       string
	Reservations string
	Transactions string
}

func getTableNames(prefix string) (tableNames, error) {
	if prefix != "" {
		if len(prefix) > maxPrefixLength {
			return tableNames{}, errors.Errorf("table prefix [%s] longer than %d characters", prefix, maxPrefixLength)
		}
		if !prefixRegexp.MatchString(prefix) {
			return tableNames{}, errors.New("illegal character in table prefix, only letters and underscores allowed")
		}
		prefix = strings.ToLower(prefix) + "_"
	}

	return tableNames{
		States:       fmt.Sprintf("%sstates", prefix),
		Reservations: fmt.Sprintf("%sreservations", prefix),
		Transactions: fmt.Sprintf("%stransactions", prefix),
	}, nil
}

func initSchema(db *sql.DB, schemas ...string) (err error) {
	logger.Info("creating tables")
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil && tx != nil {
			if err := tx.Rollback(); err != nil {
				logger.Errorf("failed to rollback [%s][%s]", err, debug.Stack())
			}
		}
	}()
	for _, schema := range schemas {
		logger.Debug(schema)
		if _, err = tx.Exec(schema); err != nil {
			return errors.Wrap(err, "error creating schema")
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Errorf("error rolling back: %s", err.Error())
	}
}
