// Package kv abstracts the cluster-visible key-value store that backs named
// locks and aggregation pointers. Production runs on redis; tests run on the
// in-memory implementation.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	// SetNX stores value under key with a TTL only if the key is absent.
	// Returns true when the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally stores value with a TTL; zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Get(ctx context.Context, key string) (string, error)

	// DelIfEqual removes key only while it still holds value. Returns true
	// when the key was removed. Used for safe lock release.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)

	Del(ctx context.Context, key string) error
}
