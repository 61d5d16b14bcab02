package cache

import "time"

// CacheService is the key/value store behind the site cooldown. Get must
// return ErrCacheMiss for absent or expired keys.
type CacheService interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}
