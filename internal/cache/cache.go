// Package cache remembers short lived acknowledgement and session facts.
// Lookups are advisory: any failure reads as "not found".
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a namespaced key/value store with per-entry TTL
type Cache interface {
	Get(ctx context.Context, namespace, key string) (string, bool)
	Put(ctx context.Context, namespace, key, value string, ttl time.Duration) bool
}

// Key returns the storage key for key in namespace. Keys are case
// insensitive callsigns.
func Key(namespace, key string) string {
	return namespace + ":" + strings.ToUpper(key)
}
