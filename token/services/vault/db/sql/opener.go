/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sql

import (
	"database/sql"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	// SQLite is the name under which modernc.org/sqlite registers itself
	SQLite = "sqlite"
	// Postgres is the name under which the pgx stdlib adapter registers itself
	Postgres = "pgx"
)

type Opts struct {
	Driver       string
	DataSource   string
	TablePrefix  string
	CreateSchema bool
	MaxOpenConns int
}

// DBOpener opens and caches sql databases. The same driver and data source share one *sql.DB.
type DBOpener struct {
	mutex sync.RWMutex
	dbs   map[string]*sql.DB
}

func NewDBOpener() *DBOpener {
	return &DBOpener{dbs: map[string]*sql.DB{}}
}

// Open returns the stores backed by the database described by opts
func (d *DBOpener) Open(opts Opts) (*StateStore, *TransactionStore, error) {
	if opts.Driver != SQLite && opts.Driver != Postgres {
		return nil, nil, errors.Errorf("unsupported sql driver [%s]", opts.Driver)
	}
	if len(opts.DataSource) == 0 {
		return nil, nil, errors.Errorf("data source not set for driver [%s]", opts.Driver)
	}
	db, err := d.OpenSQLDB(opts.Driver, opts.DataSource, opts.MaxOpenConns)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open db [%s]", opts.Driver)
	}
	states, err := NewStateStore(db, opts.Driver, opts.TablePrefix, opts.CreateSchema)
	if err != nil {
		return nil, nil, err
	}
	transactions, err := NewTransactionStore(db, opts.TablePrefix, opts.CreateSchema)
	if err != nil {
		return nil, nil, err
	}
	return states, transactions, nil
}

func (d *DBOpener) OpenSQLDB(driverName, dataSourceName string, maxOpenConns int) (*sql.DB, error) {
	logger.Infof("connecting to [%s] database", driverName) // dataSource can contain a password

	id := driverName + dataSourceName
	d.mutex.RLock()
	p, ok := d.dbs[id]
	d.mutex.RUnlock()
	if ok {
		logger.Debugf("reuse [%s] database (cached)", driverName)
		return p, nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	// check again
	if p, ok = d.dbs[id]; ok {
		return p, nil
	}
	p, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db [%s]", driverName)
	}
	if maxOpenConns > 0 {
		p.SetMaxOpenConns(maxOpenConns)
	}
	if err := p.Ping(); err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "failed to ping db [%s]", driverName)
	}
	d.dbs[id] = p
	return p, nil
}

// Close closes every database opened so far
func (d *DBOpener) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var firstErr error
	for id, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.dbs, id)
	}
	return firstErr
}
