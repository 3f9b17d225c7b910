/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db/memory"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault/db/sql"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

var logger = logging.MustGetLogger("vault.db")

var illegalPrefixChars = regexp.MustCompile("[^a-zA-Z_]")

// Manager opens the stores of the nodes according to the vault configuration
type Manager struct {
	cfg    config.Vault
	opener *sql.DBOpener
	memory *memory.Driver
}

func NewManager(cfg config.Vault) *Manager {
	return &Manager{
		cfg:    cfg,
		opener: sql.NewDBOpener(),
		memory: memory.NewDriver(),
	}
}

// Open returns the state and transaction stores of node
func (m *Manager) Open(node string) (*sql.StateStore, *sql.TransactionStore, error) {
	logger.Debugf("open [%s] stores for node [%s]", m.cfg.Driver, node)
	switch m.cfg.Driver {
	case config.MemoryDriver:
		return m.memory.Open(node)
	case config.SQLiteDriver:
		dataSource := m.cfg.DataSource
		if strings.Contains(dataSource, "%s") {
			// one database file per node
			return m.opener.Open(sql.Opts{
				Driver:       sql.SQLite,
				DataSource:   fmt.Sprintf(dataSource, node),
				TablePrefix:  m.cfg.TablePrefix,
				CreateSchema: true,
				MaxOpenConns: 1,
			})
		}
		return m.opener.Open(sql.Opts{
			Driver:       sql.SQLite,
			DataSource:   dataSource,
			TablePrefix:  TablePrefix(m.cfg.TablePrefix, node),
			CreateSchema: true,
			MaxOpenConns: 1,
		})
	case config.PostgresDriver:
		return m.opener.Open(sql.Opts{
			Driver:       sql.Postgres,
			DataSource:   m.cfg.DataSource,
			TablePrefix:  TablePrefix(m.cfg.TablePrefix, node),
			CreateSchema: true,
			MaxOpenConns: m.cfg.MaxOpenConns,
		})
	default:
		return nil, nil, errors.Errorf("unknown vault driver [%s]", m.cfg.Driver)
	}
}

// Close closes every database opened by this manager
func (m *Manager) Close() error {
	err1 := m.opener.Close()
	err2 := m.memory.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// readablePrefixLen bounds the part of the table prefix derived from the node name,
// keeping table names within the 63 characters allowed by postgres
const readablePrefixLen = 16

// TablePrefix returns the table prefix of node in a database shared by several nodes.
// Table names are case-insensitive and may only contain letters and underscores, so the node name
// is followed by a digest of it, spelled with the letters a to p, to keep the prefixes of
// different nodes apart (node1 and node2, Alice and alice).
func TablePrefix(prefix, node string) string {
	readable := illegalPrefixChars.ReplaceAllString(node, "_")
	if len(readable) > readablePrefixLen {
		readable = readable[:readablePrefixLen]
	}
	h := sha3.Sum256([]byte(node))
	digest := make([]byte, 0, 16)
	for _, b := range h[:8] {
		digest = append(digest, 'a'+b>>4, 'a'+b&0x0f)
	}
	p := readable + "_" + string(digest)
	if len(prefix) != 0 {
		p = prefix + "_" + p
	}
	return p
}
