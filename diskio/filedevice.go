package diskio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxLogEntries bounds the in-memory read/write diagnostic log so a
// long-running device never grows it without limit.
const maxLogEntries = 1000

// ReadWriteLogEntry records one completed I/O operation for diagnostics.
type ReadWriteLogEntry struct {
	Timestamp time.Time
	Block     BlockID
	Write     bool
	Bytes     int
}

// FileDevice is a synchronous, file-backed Device: one regular file per
// dev under Root, block blockno stored at offset blockno*BlockSize.
type FileDevice struct {
	Root      string
	BlockSize int
	logger    *zap.Logger

	mu            sync.Mutex
	openFiles     map[uint32]*os.File
	blocksRead    uint64
	blocksWritten uint64
	log           []ReadWriteLogEntry
}

// NewFileDevice creates a FileDevice rooted at dir, creating dir if it does
// not already exist. Individual device files are opened lazily on first
// access.
func NewFileDevice(dir string, blockSize int, logger *zap.Logger) (*FileDevice, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("diskio: block size must be positive, got %d", blockSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskio: create root %s: %w", dir, err)
	}
	return &FileDevice{
		Root:      dir,
		BlockSize: blockSize,
		logger:    logger,
		openFiles: make(map[uint32]*os.File),
	}, nil
}

func (d *FileDevice) fileFor(dev uint32) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.openFiles[dev]; ok {
		return f, nil
	}
	path := filepath.Join(d.Root, fmt.Sprintf("dev-%d.img", dev))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		d.logger.Error("diskio: open device file failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	d.openFiles[dev] = f
	d.logger.Info("diskio: device file opened", zap.Uint32("dev", dev), zap.String("path", path))
	return f, nil
}

// ReadWrite implements Device.
func (d *FileDevice) ReadWrite(blk BlockID, data []byte, write bool) error {
	if len(data) != d.BlockSize {
		return fmt.Errorf("diskio: buffer length %d does not match block size %d", len(data), d.BlockSize)
	}
	f, err := d.fileFor(blk.Dev)
	if err != nil {
		return err
	}
	offset := int64(blk.Blockno) * int64(d.BlockSize)

	var n int
	if write {
		n, err = f.WriteAt(data, offset)
	} else {
		n, err = f.ReadAt(data, offset)
		// A read past current EOF on a never-written block is not an
		// error: it means the block is all zeros, matching a fresh
		// block on a sparse device.
		if err == io.EOF && n < len(data) {
			for i := n; i < len(data); i++ {
				data[i] = 0
			}
			err = nil
		}
	}
	if err != nil {
		d.logger.Error("diskio: I/O failed", zap.Stringer("block", blk), zap.Bool("write", write), zap.Error(err))
		return fmt.Errorf("diskio: %s %v: %w", ioVerb(write), blk, err)
	}

	d.mu.Lock()
	if write {
		d.blocksWritten++
	} else {
		d.blocksRead++
	}
	d.log = append(d.log, ReadWriteLogEntry{Timestamp: time.Now(), Block: blk, Write: write, Bytes: n})
	if len(d.log) > maxLogEntries {
		d.log = d.log[len(d.log)-maxLogEntries:]
	}
	d.mu.Unlock()
	return nil
}

func ioVerb(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

// Stats is a point-in-time snapshot of device I/O counters.
type Stats struct {
	BlocksRead    uint64
	BlocksWritten uint64
}

// Stats returns the current I/O counters.
func (d *FileDevice) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{BlocksRead: d.blocksRead, BlocksWritten: d.blocksWritten}
}

// Sync flushes the on-disk file for dev, if open. A file-backed device is
// not durable until this is called; unlike the kernel's virtio driver,
// nothing implicitly fsyncs on our behalf.
func (d *FileDevice) Sync(dev uint32) error {
	d.mu.Lock()
	f, ok := d.openFiles[dev]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("diskio: sync dev %d: %w", dev, err)
	}
	return nil
}

// SyncAll flushes every open device file, for a clean shutdown that does
// not want to track which dev IDs were touched during the session.
func (d *FileDevice) SyncAll() error {
	d.mu.Lock()
	devs := make([]uint32, 0, len(d.openFiles))
	for dev := range d.openFiles {
		devs = append(devs, dev)
	}
	d.mu.Unlock()

	var firstErr error
	for _, dev := range devs {
		if err := d.Sync(dev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every open device file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for dev, f := range d.openFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diskio: close dev %d: %w", dev, err)
		}
		delete(d.openFiles, dev)
		d.logger.Info("diskio: device file closed", zap.Uint32("dev", dev))
	}
	return firstErr
}
