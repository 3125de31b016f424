// Package db defines the key-value contract used by the embedding cache.
package db

import "context"

// KVStore provides the key-value operations the embedding cache needs.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close()
}
