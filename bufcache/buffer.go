// Package bufcache implements a concurrent buffer cache for a block-based
// disk device: a fixed pool of fixed-size buffers mapping (dev, blockno) to
// cached contents, with fine-grained bucket locking and approximate-LRU
// eviction.
package bufcache

import (
	"blockcache/diskio"
	"blockcache/sleeplock"
)

// noNext marks the end of a bucket's chain (and "not in any chain" for a
// freshly detached victim).
const noNext int32 = -1

// Buffer is one cached disk block slot. Dev and Blockno name the block
// most recently installed in the slot (zero until the first install), and
// Valid reports whether Data holds that block's contents; both survive the
// reference count dropping to zero, so a later lookup can reuse the cached
// copy. Data holds the block's bytes and is guarded by the buffer's
// content lock, which the caller must hold before touching it.
type Buffer struct {
	Dev     uint32
	Blockno uint32
	Valid   bool
	Data    []byte

	// refCount and releaseTick are bookkeeping fields: mutated only while
	// the owning bucket's spin lock is held.
	refCount    int
	releaseTick uint64

	content sleeplock.Lock

	// next is this buffer's arena index within whichever bucket chain
	// currently lists it, or noNext. Index-based links let eviction
	// reassign a slot's bucket without aliasing a live pointer.
	next int32
}

func (b *Buffer) id() diskio.BlockID {
	return diskio.BlockID{Dev: b.Dev, Blockno: b.Blockno}
}

// lock acquires the buffer's content lock. Cache.Get/Read always return a
// buffer with this already held; callers release it via Cache.Release.
func (b *Buffer) lock() { b.content.Acquire() }

func (b *Buffer) unlock() { b.content.Release() }

func (b *Buffer) locked() bool { return b.content.Held() }
