// Package storage provides the key-value persistence adapter beneath the
// secret store. Values are opaque bytes; encryption, if any, happens in
// the layer above. Backends must make Put atomic: a torn write may never
// surface a half-written value.
package storage

import "errors"

// ErrKeyNotFound is returned by Get and Delete for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is the storage adapter contract.
type KV interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting an absent key returns ErrKeyNotFound.
	Delete(key string) error

	// Keys returns all keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)

	Close() error
}
