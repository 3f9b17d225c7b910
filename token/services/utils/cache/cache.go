/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cache

// Cache is a key-value cache keyed by string.
type Cache[V any] interface {
	// Get returns the cached value, if any
	Get(key string) (V, bool)
	// Add caches the passed value
	Add(key string, value V)
	// Delete evicts the passed key
	Delete(key string)
	// GetOrLoad returns the cached value or loads it with loader and caches it.
	// The boolean reports whether the value was served from the cache.
	GetOrLoad(key string, loader func() (V, error)) (V, bool, error)
}

// NoCache implements a cache that never holds anything. Every GetOrLoad invokes the loader.
type NoCache[V any] struct{}

func NewNoCache[V any]() *NoCache[V] {
	return &NoCache[V]{}
}

func (n *NoCache[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (n *NoCache[V]) Add(string, V) {}

func (n *NoCache[V]) Delete(string) {}

func (n *NoCache[V]) GetOrLoad(_ string, loader func() (V, error)) (V, bool, error) {
	v, err := loader()
	return v, false, err
}
