package cache

import "time"

// Cache32 is a bounded cache keyed by 32-byte identifiers (event ids,
// pubkeys). Implementations may evict at will; callers must tolerate
// false negatives.
type Cache32[V any] interface {
	Get(k [32]byte) (v V, ok bool)
	Delete(k [32]byte)
	Set(k [32]byte, v V) bool
	SetWithTTL(k [32]byte, v V, d time.Duration) bool
}
