/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package network

import (
	"sort"
	"sync"

	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/driver"
	"github.com/pkg/errors"
)

var logger = logging.MustGetLogger("network")

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]driver.Driver)
)

// Register makes a network driver available by the provided name.
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(name string, driver driver.Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("Register called twice for driver " + name)
	}
	drivers[name] = driver
}

func unregisterAllDrivers() {
	driversMu.Lock()
	defer driversMu.Unlock()
	// For tests.
	drivers = make(map[string]driver.Driver)
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// New returns a network created by the driver registered under cfg.Mode
func New(cfg config.Network) (driver.Network, error) {
	driversMu.RLock()
	d, ok := drivers[cfg.Mode]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no network driver registered for mode [%s], available %v", cfg.Mode, Drivers())
	}
	n, err := d.New(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed creating [%s] network", cfg.Mode)
	}
	logger.Debugf("[%s] network created", cfg.Mode)
	return n, nil
}
