package bufcache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Read returns a locked buffer holding the contents of (dev, blockno),
// reading from the device on first access and reusing the cached copy
// thereafter.
func (c *Cache) Read(ctx context.Context, dev, blockno uint32) (*Buffer, error) {
	ctx, span := c.tracer.Start(ctx, "bufcache.Read", trace.WithAttributes(
		attribute.Int64("dev", int64(dev)), attribute.Int64("blockno", int64(blockno)),
	))
	defer span.End()

	buf, err := c.Get(ctx, dev, blockno)
	if err != nil {
		return nil, fmt.Errorf("bufcache: read dev=%d blockno=%d: %w", dev, blockno, err)
	}
	if !buf.Valid {
		if err := c.device.ReadWrite(buf.id(), buf.Data, false); err != nil {
			return nil, fmt.Errorf("bufcache: fill dev=%d blockno=%d: %w", dev, blockno, err)
		}
		buf.Valid = true
	}
	return buf, nil
}

// Write synchronously persists buf's contents to the device. The caller
// must already hold buf's content lock (obtained via Get or Read);
// violating this precondition is a contract error and panics.
func (c *Cache) Write(ctx context.Context, buf *Buffer) error {
	if !buf.locked() {
		panic("bufcache: Write called on a buffer whose content lock is not held")
	}
	_, span := c.tracer.Start(ctx, "bufcache.Write", trace.WithAttributes(
		attribute.Int64("dev", int64(buf.Dev)), attribute.Int64("blockno", int64(buf.Blockno)),
	))
	defer span.End()

	if err := c.device.ReadWrite(buf.id(), buf.Data, true); err != nil {
		return fmt.Errorf("bufcache: write dev=%d blockno=%d: %w", buf.Dev, buf.Blockno, err)
	}
	return nil
}

// Release drops the caller's reference to buf. The caller must hold buf's
// content lock; violating this precondition is a contract error and
// panics. If this was the last outstanding reference, the buffer's
// release tick is stamped for the evictor's approximate-LRU ordering.
func (c *Cache) Release(buf *Buffer) {
	if !buf.locked() {
		panic("bufcache: Release called on a buffer whose content lock is not held")
	}
	buf.unlock()

	h := c.bucketOf(buf.Dev, buf.Blockno)
	b := &c.buckets[h]
	b.spin.Acquire()
	buf.refCount--
	if buf.refCount == 0 {
		buf.releaseTick = c.clock.Now()
	}
	b.spin.Release()
}

// Pin increments buf's reference count without acquiring its content lock,
// for callers that need a buffer to stay resident across a span of logic
// that does not need exclusive access to its bytes for that whole span
// (see the wal package).
func (c *Cache) Pin(buf *Buffer) {
	h := c.bucketOf(buf.Dev, buf.Blockno)
	b := &c.buckets[h]
	b.spin.Acquire()
	buf.refCount++
	b.spin.Release()
}

// Unpin reverses a prior Pin.
func (c *Cache) Unpin(buf *Buffer) {
	h := c.bucketOf(buf.Dev, buf.Blockno)
	b := &c.buckets[h]
	b.spin.Acquire()
	buf.refCount--
	if buf.refCount == 0 {
		buf.releaseTick = c.clock.Now()
	}
	b.spin.Release()
}
