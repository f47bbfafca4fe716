// Package wal demonstrates a subsystem that must keep a buffer resident
// across several logical operations without holding its content lock for
// the whole span. It accumulates length-prefixed records into a tail
// block and rolls to a fresh one when full, restricted to exactly that
// pattern - no replay, checkpointing, or recovery, which belong to the
// filesystem layer this repository leaves out of scope.
package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"blockcache/bufcache"
)

// Log appends fixed-format records to a sequence of blocks on one device.
// Between Append calls the current tail buffer is kept resident purely via
// Cache.Pin - its content lock is held only for the duration of each
// individual record copy, via an ordinary Cache.Get/Release pair.
type Log struct {
	cache *bufcache.Cache
	dev   uint32

	mu       sync.Mutex
	tail     *bufcache.Buffer
	tailBlk  uint32
	boundary int // offset into tail.Data where the next record begins
	nextBlk  uint32
}

const lenPrefixSize = 4

// Open pins block 0 of dev as the log's initial tail buffer.
func Open(ctx context.Context, cache *bufcache.Cache, dev uint32) (*Log, error) {
	buf, err := cache.Read(ctx, dev, 0)
	if err != nil {
		return nil, fmt.Errorf("wal: open dev=%d: %w", dev, err)
	}
	cache.Pin(buf)
	cache.Release(buf)

	return &Log{
		cache:   cache,
		dev:     dev,
		tail:    buf,
		tailBlk: 0,
		nextBlk: 1,
	}, nil
}

// Append writes rec, length-prefixed, into the log's tail block, rolling
// over to a freshly pinned block when rec does not fit. It returns the
// block number the record landed in.
func (l *Log) Append(ctx context.Context, rec []byte) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	needed := lenPrefixSize + len(rec)
	if l.boundary+needed > len(l.tail.Data) {
		if err := l.rollLocked(ctx); err != nil {
			return 0, err
		}
	}

	// The tail buffer is already resident (pinned); Get re-locks its
	// content for just this copy and hands back the same buffer.
	buf, err := l.cache.Get(ctx, l.dev, l.tailBlk)
	if err != nil {
		return 0, fmt.Errorf("wal: append dev=%d blk=%d: %w", l.dev, l.tailBlk, err)
	}

	binary.BigEndian.PutUint32(buf.Data[l.boundary:], uint32(len(rec)))
	copy(buf.Data[l.boundary+lenPrefixSize:], rec)
	l.boundary += needed
	blk := l.tailBlk

	writeErr := l.cache.Write(ctx, buf)
	l.cache.Release(buf)
	if writeErr != nil {
		return 0, fmt.Errorf("wal: append dev=%d blk=%d: %w", l.dev, blk, writeErr)
	}
	return blk, nil
}

// rollLocked unpins the current tail, pins the next block in its place,
// and resets the write cursor. Caller must hold l.mu.
func (l *Log) rollLocked(ctx context.Context) error {
	next, err := l.cache.Read(ctx, l.dev, l.nextBlk)
	if err != nil {
		return fmt.Errorf("wal: roll to blk=%d: %w", l.nextBlk, err)
	}
	l.cache.Pin(next)
	l.cache.Release(next)

	l.cache.Unpin(l.tail)
	l.tail = next
	l.tailBlk = l.nextBlk
	l.nextBlk++
	l.boundary = 0
	return nil
}

// Close unpins the current tail buffer, releasing its reservation in the
// cache.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Unpin(l.tail)
}
