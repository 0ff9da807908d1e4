package saga

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup remembers recently processed event IDs per handler so redeliveries
// become no-ops. The LRU bound keeps memory flat; an entry evicted before a
// very late redelivery means the handler runs again, which the handlers
// tolerate.
type Dedup struct {
	cache *lru.Cache[string, struct{}]
}

func NewDedup(size int) (*Dedup, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Dedup{cache: cache}, nil
}

// Seen marks the key as processed and reports whether it already was.
func (d *Dedup) Seen(key string) bool {
	seen, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return seen
}

// Forget clears the key so a failed handler run can be retried on redelivery.
func (d *Dedup) Forget(key string) {
	d.cache.Remove(key)
}
