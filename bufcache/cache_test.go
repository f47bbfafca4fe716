package bufcache

import (
	"context"
	"sync"
	"testing"

	"blockcache/diskio"
	"blockcache/ticks"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, poolSize, numBuckets int) (*Cache, *diskio.MemDevice, *ticks.Counter) {
	t.Helper()
	dev := diskio.NewMemDevice(64)
	clk := ticks.NewCounter()
	c := New(Config{
		PoolSize:  poolSize,
		Buckets:   numBuckets,
		BlockSize: 64,
		Device:    dev,
		Clock:     clk,
	})
	return c, dev, clk
}

// Scenario 1: cold read.
func TestColdRead(t *testing.T) {
	c, dev, _ := newTestCache(t, 8, 3)
	ctx := context.Background()

	seed := make([]byte, 64)
	seed[0] = 0x42
	dev.Seed(diskio.BlockID{Dev: 1, Blockno: 42}, seed)

	buf, err := c.Read(ctx, 1, 42)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), buf.Data[0])
	require.True(t, buf.Valid)
	c.Release(buf)
}

// Scenario 2: warm read does not invoke the device again.
func TestWarmReadDoesNotReread(t *testing.T) {
	c, dev, _ := newTestCache(t, 8, 3)
	ctx := context.Background()

	buf, err := c.Read(ctx, 1, 42)
	require.NoError(t, err)
	c.Release(buf)

	reads, _ := dev.Counts()
	require.Equal(t, 1, reads)

	buf2, err := c.Read(ctx, 1, 42)
	require.NoError(t, err)
	c.Release(buf2)

	reads, _ = dev.Counts()
	require.Equal(t, 1, reads, "warm read must not trigger a second disk read")
}

// Scenario 3: write-through survives eviction.
func TestWriteThroughSurvivesEviction(t *testing.T) {
	c, dev, clk := newTestCache(t, 3, 2)
	ctx := context.Background()

	buf, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	buf.Data[0] = 0xAB
	require.NoError(t, c.Write(ctx, buf))
	clk.Tick()
	c.Release(buf) // releaseTick=1, the smallest of everything that follows

	// Fill the rest of the pool and release at strictly later ticks, so
	// (1,1) is the guaranteed eviction candidate once the pool is full.
	for _, dn := range [][2]uint32{{2, 1}, {2, 2}} {
		b, err := c.Read(ctx, dn[0], dn[1])
		require.NoError(t, err)
		clk.Tick()
		c.Release(b)
	}

	// A fourth distinct block forces an eviction; (1,1) has the smallest
	// releaseTick and must be the one reused.
	b, err := c.Read(ctx, 2, 3)
	require.NoError(t, err)
	c.Release(b)

	fresh, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	defer c.Release(fresh)
	require.Equal(t, byte(0xAB), fresh.Data[0])
	require.Equal(t, byte(0xAB), dev.Peek(diskio.BlockID{Dev: 1, Blockno: 1})[0])
}

// Scenario 4: eviction must prefer the smallest ticks among eligible
// buffers.
func TestEvictionPrefersSmallestTicks(t *testing.T) {
	c, dev, clk := newTestCache(t, 3, 2)
	ctx := context.Background()

	b1, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	b2, err := c.Read(ctx, 1, 2)
	require.NoError(t, err)
	b3, err := c.Read(ctx, 1, 3)
	require.NoError(t, err)

	clk.Tick() // 1
	c.Release(b1)
	clk.Tick() // 2
	c.Release(b2)
	clk.Tick() // 3
	c.Release(b3)

	readsBefore, _ := dev.Counts()

	// A fourth, new block must evict block 1 (released at tick 1, the
	// smallest).
	b4, err := c.Read(ctx, 1, 4)
	require.NoError(t, err)
	defer c.Release(b4)

	// Blocks 2 and 3 must still be cache-resident: re-reading them must
	// not trigger a new disk read.
	got2, err := c.Read(ctx, 1, 2)
	require.NoError(t, err)
	c.Release(got2)
	got3, err := c.Read(ctx, 1, 3)
	require.NoError(t, err)
	c.Release(got3)

	readsAfterWarm, _ := dev.Counts()
	require.Equal(t, readsBefore+1, readsAfterWarm, "only block 4's fill should have read from disk")

	// Block 1 was evicted: re-reading it must trigger a fresh disk fill.
	got1, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	defer c.Release(got1)

	readsAfterCold, _ := dev.Counts()
	require.Equal(t, readsAfterWarm+1, readsAfterCold, "re-reading the evicted block must hit the disk")
}

// Scenario 5: concurrent lookup of a cold block observes exactly one fill
// and converges on a single live buffer once both sides release.
func TestConcurrentColdLookup(t *testing.T) {
	c, dev, _ := newTestCache(t, 8, 3)
	ctx := context.Background()

	seed := make([]byte, 64)
	seed[0] = 0x7
	dev.Seed(diskio.BlockID{Dev: 9, Blockno: 9}, seed)

	var wg sync.WaitGroup
	results := make([]*Buffer, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := c.Read(ctx, 9, 9)
			require.NoError(t, err)
			results[i] = buf
		}(i)
	}
	wg.Wait()

	require.Equal(t, byte(0x7), results[0].Data[0])
	require.Equal(t, byte(0x7), results[1].Data[0])

	c.Release(results[0])
	c.Release(results[1])
}

// Scenario 6 (boundary): pool exhaustion. Holding every buffer in the pool
// and requesting one more distinct block must fail rather than block
// forever. A pool of size 2 has no valid prime bucket count below it, so
// this uses the smallest pool size (N=3) that admits a prime bucket count
// (B=2).
func TestPoolExhaustionThreeBuffers(t *testing.T) {
	c, _, _ := newTestCache(t, 3, 2)
	ctx := context.Background()

	b1, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	b2, err := c.Read(ctx, 1, 2)
	require.NoError(t, err)
	b3, err := c.Read(ctx, 1, 3)
	require.NoError(t, err)

	_, err = c.Get(ctx, 1, 4)
	require.ErrorIs(t, err, ErrPoolExhausted)

	c.Release(b1)
	c.Release(b2)
	c.Release(b3)
}

// Hash consistency invariant: every live buffer resides in bucketOf(dev,
// blockno).
func TestHashConsistency(t *testing.T) {
	c, _, _ := newTestCache(t, 16, 5)
	ctx := context.Background()

	for dn := uint32(0); dn < 10; dn++ {
		buf, err := c.Get(ctx, 1, dn)
		require.NoError(t, err)
		h := c.bucketOf(buf.Dev, buf.Blockno)
		found := false
		for i := c.buckets[h].head; i != noNext; i = c.pool[i].next {
			if &c.pool[i] == buf {
				found = true
				break
			}
		}
		require.True(t, found, "buffer for dev=1 blockno=%d not in its own bucket %d", dn, h)
		c.Release(buf)
	}
}

// Contract violations must panic.
func TestWriteWithoutLockPanics(t *testing.T) {
	c, _, _ := newTestCache(t, 4, 3)
	ctx := context.Background()
	buf, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	c.Release(buf)

	require.Panics(t, func() {
		_ = c.Write(ctx, buf)
	})
}

func TestReleaseWithoutLockPanics(t *testing.T) {
	c, _, _ := newTestCache(t, 4, 3)
	ctx := context.Background()
	buf, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	c.Release(buf)

	require.Panics(t, func() {
		c.Release(buf)
	})
}

func TestNewPanicsOnNonPrimeBuckets(t *testing.T) {
	dev := diskio.NewMemDevice(64)
	require.Panics(t, func() {
		New(Config{PoolSize: 10, Buckets: 4, BlockSize: 64, Device: dev})
	})
}

// TestStatsReflectsExactOperationCounts uses go-cmp, rather than testify's
// field-by-field assertions, to catch any unintended extra counter field
// drifting out of sync with what a fixed sequence of operations should
// produce.
func TestStatsReflectsExactOperationCounts(t *testing.T) {
	c, _, _ := newTestCache(t, 4, 3)
	ctx := context.Background()

	buf, err := c.Read(ctx, 1, 1) // miss
	require.NoError(t, err)
	c.Release(buf)

	buf, err = c.Read(ctx, 1, 1) // hit
	require.NoError(t, err)
	c.Release(buf)

	want := Stats{Hits: 1, Misses: 1, Evictions: 1} // the miss evicts a free slot
	got := c.Stats()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestPinUnpinKeepsBufferResident(t *testing.T) {
	c, _, _ := newTestCache(t, 3, 2)
	ctx := context.Background()

	buf, err := c.Read(ctx, 1, 1)
	require.NoError(t, err)
	c.Pin(buf)
	c.Release(buf) // drops the Get/Read reference; Pin's reference remains

	// Fill the rest of the pool and request a new block; the pinned
	// buffer must not be chosen as a victim.
	b2, err := c.Read(ctx, 2, 1)
	require.NoError(t, err)
	defer c.Release(b2)
	b3, err := c.Read(ctx, 2, 2)
	require.NoError(t, err)
	defer c.Release(b3)

	h := c.bucketOf(1, 1)
	found := false
	for i := c.buckets[h].head; i != noNext; i = c.pool[i].next {
		if c.pool[i].Dev == 1 && c.pool[i].Blockno == 1 {
			found = true
		}
	}
	require.True(t, found, "pinned buffer must still be resident")

	c.Unpin(buf)
}
