package bufcache

// Stats is a point-in-time snapshot of cache-wide counters, useful for
// dashboards and for boundary-case tests.
type Stats struct {
	Hits              uint64
	Misses            uint64
	Evictions         uint64
	EvictionRestarts  uint64
	DuplicateInstalls uint64
}

// Stats returns the current counters. It is safe to call concurrently with
// any other Cache method.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
		Evictions:         c.evictions.Load(),
		EvictionRestarts:  c.evictionRestarts.Load(),
		DuplicateInstalls: c.duplicateInstalls.Load(),
	}
}
