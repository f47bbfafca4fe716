package bufcache

import (
	"fmt"
	"sync/atomic"

	"blockcache/diskio"
	"blockcache/spinlock"
	"blockcache/ticks"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// bucket is one independently-locked hash chain. head is the arena index
// of the first buffer in the chain, or noNext if empty.
type bucket struct {
	spin spinlock.Lock
	head int32
}

// Config configures a Cache. PoolSize, Buckets, and BlockSize are fixed for
// the lifetime of the Cache once New returns; there is no runtime resizing.
type Config struct {
	// PoolSize is N, the number of fixed buffer slots.
	PoolSize int
	// Buckets is B, the number of hash buckets. Must be a prime strictly
	// less than PoolSize.
	Buckets int
	// BlockSize is the fixed length, in bytes, of every buffer's Data.
	BlockSize int
	// Device is the synchronous disk driver collaborator. Required.
	Device diskio.Device
	// Clock supplies Now() for release timestamps. Defaults to an
	// internal ticks.Counter that nothing ever advances unless the
	// caller holds onto it separately - pass one explicitly to drive
	// eviction ordering.
	Clock ticks.Source
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// Tracer wraps Get/evict/Read/Write in spans. Defaults to the
	// OpenTelemetry no-op tracer.
	Tracer trace.Tracer
}

// Cache is a fixed-size, concurrently-safe buffer cache over one or more
// devices. Construct with New; there is no ambient global instance, so
// tests can run several Caches side by side.
type Cache struct {
	pool    []Buffer
	buckets []bucket

	// evictLock serializes evict() calls and imposes a total order on the
	// bucket scan; it protects no data of its own.
	evictLock spinlock.Lock

	device diskio.Device
	clock  ticks.Source
	log    *zap.Logger
	tracer trace.Tracer

	hits              atomic.Uint64
	misses            atomic.Uint64
	evictions         atomic.Uint64
	evictionRestarts  atomic.Uint64
	duplicateInstalls atomic.Uint64
}

// ErrPoolExhausted is returned by Get/Read when every buffer is currently
// referenced, rather than aborting the process - see DESIGN.md for why.
var ErrPoolExhausted = fmt.Errorf("bufcache: no unreferenced buffer available for eviction")

// New allocates the fixed buffer pool and hash table and returns a ready
// Cache. It panics if cfg is not self-consistent: these are constructor
// contract violations, not runtime conditions a caller can recover from.
func New(cfg Config) *Cache {
	if cfg.PoolSize <= 0 {
		panic("bufcache: PoolSize must be positive")
	}
	if cfg.BlockSize <= 0 {
		panic("bufcache: BlockSize must be positive")
	}
	if cfg.Device == nil {
		panic("bufcache: Device must not be nil")
	}
	if cfg.Buckets <= 0 || cfg.Buckets >= cfg.PoolSize || !isPrime(cfg.Buckets) {
		panic(fmt.Sprintf("bufcache: Buckets must be a prime less than PoolSize, got Buckets=%d PoolSize=%d", cfg.Buckets, cfg.PoolSize))
	}
	if cfg.Clock == nil {
		cfg.Clock = ticks.NewCounter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.NewNoopTracerProvider().Tracer("blockcache/bufcache")
	}

	c := &Cache{
		pool:    make([]Buffer, cfg.PoolSize),
		buckets: make([]bucket, cfg.Buckets),
		device:  cfg.Device,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		tracer:  cfg.Tracer,
	}
	for i := range c.buckets {
		c.buckets[i].head = noNext
	}
	for i := range c.pool {
		c.pool[i].Data = make([]byte, cfg.BlockSize)
		c.pool[i].next = noNext
		c.insertHead(0, int32(i))
	}
	return c
}

// bucketOf implements bucketOf(dev, blockno) = (dev*67 + blockno) mod B.
func (c *Cache) bucketOf(dev, blockno uint32) int {
	return int((uint64(dev)*67 + uint64(blockno)) % uint64(len(c.buckets)))
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// insertHead prepends the buffer at arena index idx to bucket bucketID's
// chain. Caller must hold buckets[bucketID].spin.
func (c *Cache) insertHead(bucketID int, idx int32) {
	b := &c.buckets[bucketID]
	c.pool[idx].next = b.head
	b.head = idx
}
