package bufcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Get resolves (dev, blockno) to a buffer, installing one if absent. It
// returns the buffer with its content lock held and its reference count
// incremented for the caller, blocking while another holder has the
// content lock. If every buffer is referenced it returns ErrPoolExhausted
// immediately instead of waiting for one to be released. ctx is used
// only to propagate the OpenTelemetry span across a possible eviction
// scan; it carries no cancellation semantics.
func (c *Cache) Get(ctx context.Context, dev, blockno uint32) (*Buffer, error) {
	ctx, span := c.tracer.Start(ctx, "bufcache.Get", trace.WithAttributes(
		attribute.Int64("dev", int64(dev)), attribute.Int64("blockno", int64(blockno)),
	))
	defer span.End()

	h := c.bucketOf(dev, blockno)

	if buf := c.lookupAndPin(h, dev, blockno); buf != nil {
		c.hits.Add(1)
		span.SetAttributes(attribute.Bool("hit", true))
		buf.lock()
		return buf, nil
	}
	c.misses.Add(1)
	span.SetAttributes(attribute.Bool("hit", false))

	idx, err := c.evict(ctx)
	if err != nil {
		return nil, err
	}

	b := &c.buckets[h]
	b.spin.Acquire()
	duplicate := c.scanBucketLocked(h, dev, blockno) != nil
	if duplicate {
		// Lost the race: another goroutine installed (dev, blockno)
		// while we were evicting. This is accepted transient duplication
		// rather than retried, so we install our victim too and only
		// observe the waste via Stats.
		c.duplicateInstalls.Add(1)
	}

	victim := &c.pool[idx]
	c.insertHead(h, idx)
	victim.Dev = dev
	victim.Blockno = blockno
	victim.Valid = false
	victim.refCount = 1
	b.spin.Release()

	if duplicate {
		c.log.Warn("bufcache: duplicate install", zap.Uint32("dev", dev), zap.Uint32("blockno", blockno))
	}
	victim.lock()
	return victim, nil
}

// lookupAndPin scans bucket h for (dev, blockno); on a match it increments
// the buffer's reference count and returns it with the bucket lock already
// released (the content lock is NOT yet held - the caller must lock it).
func (c *Cache) lookupAndPin(h int, dev, blockno uint32) *Buffer {
	b := &c.buckets[h]
	b.spin.Acquire()
	defer b.spin.Release()

	buf := c.scanBucketLocked(h, dev, blockno)
	if buf != nil {
		buf.refCount++
	}
	return buf
}

// scanBucketLocked walks bucket h's chain looking for (dev, blockno).
// Caller must hold buckets[h].spin.
func (c *Cache) scanBucketLocked(h int, dev, blockno uint32) *Buffer {
	for i := c.buckets[h].head; i != noNext; i = c.pool[i].next {
		if c.pool[i].Dev == dev && c.pool[i].Blockno == blockno {
			return &c.pool[i]
		}
	}
	return nil
}
