package bufcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// evict finds the globally least-recently-released unreferenced buffer,
// detaches it from its bucket, and returns its arena index. It restarts
// the scan if the chosen candidate was referenced again between the scan
// and the unlink.
func (c *Cache) evict(ctx context.Context) (int32, error) {
	_, span := c.tracer.Start(ctx, "bufcache.evict")
	defer span.End()

	c.evictLock.Acquire()
	defer c.evictLock.Release()

	for {
		candidate, candidateBucket := c.scanForVictim()
		if candidate == noNext {
			span.SetAttributes(attribute.Bool("found", false))
			return noNext, ErrPoolExhausted
		}

		b := &c.buckets[candidateBucket]
		b.spin.Acquire()
		idx, prev := c.findInBucketLocked(candidateBucket, candidate)
		if idx == noNext {
			// Another evictor already claimed it and it has since moved
			// buckets (or this goroutine's earlier scan is stale); this
			// can only happen if our own bookkeeping is wrong, since
			// evictLock serializes all evictors.
			b.spin.Release()
			panic("bufcache: evict candidate vanished from its own bucket under the eviction lock")
		}
		if c.pool[idx].refCount > 0 {
			// Referenced again since the scan; give up on it and
			// restart the whole scan from the top.
			b.spin.Release()
			c.evictionRestarts.Add(1)
			c.log.Warn("bufcache: eviction restart, candidate re-referenced",
				zap.Uint32("dev", c.pool[idx].Dev), zap.Uint32("blockno", c.pool[idx].Blockno))
			continue
		}
		c.unlinkLocked(candidateBucket, idx, prev)
		b.spin.Release()

		c.evictions.Add(1)
		span.SetAttributes(attribute.Bool("found", true), attribute.Int64("victim", int64(idx)))
		return idx, nil
	}
}

// scanForVictim scans every bucket under its own lock, one at a time, and
// returns the arena index of the eligible (refCount == 0) buffer with the
// smallest releaseTick, along with the bucket it was found in. Returns
// (noNext, 0) if no eligible buffer exists.
func (c *Cache) scanForVictim() (int32, int) {
	var best int32 = noNext
	var bestTick uint64
	var bestBucket int

	for h := range c.buckets {
		b := &c.buckets[h]
		b.spin.Acquire()
		for i := b.head; i != noNext; i = c.pool[i].next {
			if c.pool[i].refCount != 0 {
				continue
			}
			if best == noNext || c.pool[i].releaseTick < bestTick {
				best = i
				bestTick = c.pool[i].releaseTick
				bestBucket = h
			}
		}
		b.spin.Release()
	}
	return best, bestBucket
}

// findInBucketLocked walks bucket h's chain for arena index target,
// returning its position and the arena index of its predecessor (or noNext
// if it is the head). Caller must hold buckets[h].spin.
func (c *Cache) findInBucketLocked(h int, target int32) (found, prev int32) {
	prev = noNext
	for i := c.buckets[h].head; i != noNext; i = c.pool[i].next {
		if i == target {
			return i, prev
		}
		prev = i
	}
	return noNext, noNext
}

// unlinkLocked removes the buffer at arena index idx (whose predecessor in
// the chain is prev, or noNext if idx is the head) from bucket h. Caller
// must hold buckets[h].spin.
func (c *Cache) unlinkLocked(h int, idx, prev int32) {
	if prev == noNext {
		c.buckets[h].head = c.pool[idx].next
	} else {
		c.pool[prev].next = c.pool[idx].next
	}
	c.pool[idx].next = noNext
}
