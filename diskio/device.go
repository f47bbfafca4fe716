// Package diskio supplies the disk driver collaborator the buffer cache
// treats as opaque: a synchronous disk_rw(buffer, write) call. BlockID
// names the block a Device operation addresses; Device is the interface
// bufcache.Cache depends on; FileDevice and MemDevice are two concrete,
// swappable implementations.
package diskio

import "fmt"

// BlockID identifies one fixed-size block on one device.
type BlockID struct {
	Dev     uint32
	Blockno uint32
}

// Hash mixes dev and blockno the same way the cache's bucket hash does,
// exposed here so diagnostics (log lines, trace attributes) can report a
// stable identity without importing bufcache.
func (b BlockID) Hash() uint64 {
	return uint64(b.Dev)*67 + uint64(b.Blockno)
}

func (b BlockID) String() string {
	return fmt.Sprintf("dev=%d blk=%d", b.Dev, b.Blockno)
}

// Device is the synchronous disk driver contract the cache depends on.
// ReadWrite populates data from (dev, blockno) when write is false, and
// persists data to (dev, blockno) when write is true. Implementations must
// be safe for concurrent use. The cache calls ReadWrite for a buffer only
// while holding that buffer's content lock, but the duplicate-install race
// in bufcache.Cache.Get can leave two buffers carrying the same identity,
// so two calls for the same (dev, blockno) may still run concurrently.
type Device interface {
	ReadWrite(blk BlockID, data []byte, write bool) error
}
