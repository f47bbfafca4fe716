package bufcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"blockcache/diskio"
)

// TestConcurrentMixedWorkload exercises Get/Read/Write/Release/Pin/Unpin
// from many goroutines over a small pool. It is meant to be run with
// -race.
func TestConcurrentMixedWorkload(t *testing.T) {
	dev := diskio.NewMemDevice(32)
	c := New(Config{PoolSize: 7, Buckets: 5, BlockSize: 32, Device: dev})

	const goroutines = 16
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ctx := context.Background()
			for i := 0; i < opsPerGoroutine; i++ {
				dn := uint32((g + i) % 11)
				buf, err := c.Read(ctx, 1, dn)
				if err != nil {
					// Pool exhaustion under heavy contention is an
					// acceptable, documented outcome; anything else is a
					// test failure.
					if !errors.Is(err, ErrPoolExhausted) {
						t.Errorf("unexpected error: %v", err)
					}
					continue
				}
				buf.Data[0]++
				if i%7 == 0 {
					if err := c.Write(ctx, buf); err != nil {
						t.Errorf("write failed: %v", err)
					}
				}
				if i%5 == 0 {
					c.Pin(buf)
					c.Unpin(buf)
				}
				c.Release(buf)
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Hits+stats.Misses == 0 {
		t.Fatal("expected some cache activity")
	}
}

// TestNoLiveDuplicates checks the no-live-duplicates invariant informally:
// concurrent Gets for the same cold block may trigger the documented
// duplicate-install race, but each caller still gets back a valid,
// individually-lockable buffer, and the pool never exceeds
// ErrPoolExhausted as its only failure mode even under contention. Each
// goroutine releases its buffer itself, since a caller that hits another's
// buffer waits for its content lock.
func TestNoLiveDuplicates(t *testing.T) {
	dev := diskio.NewMemDevice(16)
	c := New(Config{PoolSize: 5, Buckets: 3, BlockSize: 16, Device: dev})

	const n = 4 // stays comfortably under PoolSize even with duplication
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := c.Get(context.Background(), 4, 4)
			if err == nil {
				c.Release(buf)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && err != ErrPoolExhausted {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := c.Stats().DuplicateInstalls; got > n {
		t.Errorf("duplicate installs %d exceeds goroutine count %d", got, n)
	}
}
