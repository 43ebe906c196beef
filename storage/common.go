package storage

import (
	"context"
	"time"
)

// KeyValueStore client for interacting with a remote key-value store
type KeyValueStore interface {
	// GetString fetch the string value stored under a key
	GetString(ctxt context.Context, key string) (string, error)
	// SetString store a string value under a key. A TTL of zero means the
	// key never expires.
	SetString(ctxt context.Context, key string, value string, ttl time.Duration) error
	// Delete remove a key
	Delete(ctxt context.Context, key string) error
	// GetHashAll fetch all fields of the hash stored under a key
	GetHashAll(ctxt context.Context, key string) (map[string]string, error)
	// Ready verify the store is reachable
	Ready(ctxt context.Context) error
	// Close close the connection with the store
	Close() error
}
