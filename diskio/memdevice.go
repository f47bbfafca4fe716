package diskio

import "sync"

// MemDevice is an in-memory Device, useful for tests that want
// deterministic, allocation-cheap I/O without touching the filesystem. Each
// device is a sparse map of blockno to block contents; reads of a block
// that was never written return zeros.
type MemDevice struct {
	BlockSize int

	mu      sync.Mutex
	devices map[uint32]map[uint32][]byte
	reads   int
	writes  int
}

// NewMemDevice returns an empty MemDevice with the given block size.
func NewMemDevice(blockSize int) *MemDevice {
	return &MemDevice{
		BlockSize: blockSize,
		devices:   make(map[uint32]map[uint32][]byte),
	}
}

// ReadWrite implements Device.
func (m *MemDevice) ReadWrite(blk BlockID, data []byte, write bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices[blk.Dev]
	if !ok {
		dev = make(map[uint32][]byte)
		m.devices[blk.Dev] = dev
	}

	if write {
		stored := make([]byte, len(data))
		copy(stored, data)
		dev[blk.Blockno] = stored
		m.writes++
		return nil
	}

	if stored, ok := dev[blk.Blockno]; ok {
		copy(data, stored)
	} else {
		for i := range data {
			data[i] = 0
		}
	}
	m.reads++
	return nil
}

// Peek returns a copy of the stored bytes for blk without going through
// ReadWrite (so it does not count as a read), or a zero-filled slice if the
// block was never written. Test-only convenience.
func (m *MemDevice) Peek(blk BlockID) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.BlockSize)
	if dev, ok := m.devices[blk.Dev]; ok {
		if stored, ok := dev[blk.Blockno]; ok {
			copy(out, stored)
		}
	}
	return out
}

// Counts returns the number of ReadWrite calls observed so far, split by
// direction. It exists for tests that need to assert a cache hit did not
// trigger a new disk read.
func (m *MemDevice) Counts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

// Seed directly installs block contents, bypassing ReadWrite, for tests
// that want to assert a read observes pre-existing disk content.
func (m *MemDevice) Seed(blk BlockID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.devices[blk.Dev]
	if !ok {
		dev = make(map[uint32][]byte)
		m.devices[blk.Dev] = dev
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	dev[blk.Blockno] = stored
}
