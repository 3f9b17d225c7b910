/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memory

import (
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db/sql"
)

var instances atomic.Uint64

// Driver opens a private in-memory sqlite database per node.
// Two drivers never share a database, even for nodes with the same name.
type Driver struct {
	instance uint64
	opener   *sql.DBOpener
}

func NewDriver() *Driver {
	return &Driver{
		instance: instances.Add(1),
		opener:   sql.NewDBOpener(),
	}
}

func (d *Driver) Open(node string) (*sql.StateStore, *sql.TransactionStore, error) {
	return d.opener.Open(sql.Opts{
		Driver:       sql.SQLite,
		DataSource:   d.DataSource(node),
		CreateSchema: true,
		// a shared-cache memory database does not tolerate concurrent writers
		MaxOpenConns: 1,
	})
}

func (d *Driver) Close() error {
	return d.opener.Close()
}

// DataSource returns the sqlite data source of the in-memory database of node
func (d *Driver) DataSource(node string) string {
	return fmt.Sprintf("file:%d_%x?mode=memory&cache=shared", d.instance, sha256.Sum256([]byte(node)))
}
