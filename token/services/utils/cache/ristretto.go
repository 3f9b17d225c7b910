/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cache

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxEntries bounds the number of entries of a cache created with size 0
	DefaultMaxEntries = 10_000
	bufferItems       = 64
)

type ristrettoCache[V any] struct {
	cache *ristretto.Cache[string, V]
	sfg   singleflight.Group
}

// NewRistrettoCache returns a cache holding at most maxEntries entries.
// Each entry costs 1, so maxEntries is the ristretto MaxCost.
func NewRistrettoCache[V any](maxEntries int64) (*ristrettoCache[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		// ristretto recommends 10x the number of items expected when full
		NumCounters: 10 * maxEntries,
		MaxCost:     maxEntries,
		BufferItems: bufferItems,
		Cost:        func(V) int64 { return 1 },
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed creating ristretto cache")
	}
	return &ristrettoCache[V]{cache: c}, nil
}

func (c *ristrettoCache[V]) Get(key string) (V, bool) {
	return c.cache.Get(key)
}

// Add waits for the write buffers to be applied so that a following Get sees the value
func (c *ristrettoCache[V]) Add(key string, value V) {
	c.cache.Set(key, value, 0)
	c.cache.Wait()
}

func (c *ristrettoCache[V]) Delete(key string) {
	c.cache.Del(key)
	c.cache.Wait()
}

func (c *ristrettoCache[V]) GetOrLoad(key string, loader func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	// concurrent misses on the same key share one load
	res, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		v, err := loader()
		if err != nil {
			return nil, err
		}
		c.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

func (c *ristrettoCache[V]) Close() {
	c.cache.Close()
}
