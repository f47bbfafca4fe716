// Command blockcached hosts one buffer cache instance and exposes it
// through an interactive inspector. It is a demonstration and diagnostic
// harness, not a network service: the cache itself has no wire protocol.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"blockcache/bufcache"
	"blockcache/diskio"
	"blockcache/ticks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "blockcached: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		dataDir        string
		poolSize       int
		buckets        int
		blockSize      int
		tickInterval   time.Duration
		jaegerEndpoint string
		statsSnapshot  string
	)

	cfg := DefaultConfig()

	flag.StringVar(&configPath, "config", "", "path to a JSONC config file")
	flag.StringVar(&dataDir, "data-dir", "", "directory holding per-device block files (default "+cfg.DataDir+")")
	flag.IntVar(&poolSize, "pool-size", 0, "number of fixed buffer slots (default "+strconv.Itoa(cfg.PoolSize)+")")
	flag.IntVar(&buckets, "buckets", 0, "number of hash buckets, must be prime and < pool-size")
	flag.IntVar(&blockSize, "block-size", 0, "block size in bytes (default "+strconv.Itoa(cfg.BlockSize)+")")
	flag.DurationVar(&tickInterval, "tick-interval", 0, "interval between automatic tick advances")
	flag.StringVar(&jaegerEndpoint, "jaeger-endpoint", "", "Jaeger collector endpoint; empty disables tracing")
	flag.StringVar(&statsSnapshot, "stats-snapshot", "", "path to write a JSON stats snapshot on quit")
	flag.Parse()

	cfg, err := loadConfigFile(configPath, cfg)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if poolSize != 0 {
		cfg.PoolSize = poolSize
	}
	if buckets != 0 {
		cfg.Buckets = buckets
	}
	if blockSize != 0 {
		cfg.BlockSize = blockSize
	}
	if tickInterval != 0 {
		cfg.TickInterval = tickInterval.String()
	}
	if jaegerEndpoint != "" {
		cfg.JaegerEndpoint = jaegerEndpoint
	}
	if statsSnapshot != "" {
		cfg.StatsSnapshot = statsSnapshot
	}

	interval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		return fmt.Errorf("blockcached: invalid tick-interval %q: %w", cfg.TickInterval, err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("blockcached: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tracer, shutdownTracing, err := initTracing(cfg.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("blockcached: tracer shutdown failed", zap.Error(err))
		}
	}()

	device, err := diskio.NewFileDevice(cfg.DataDir, cfg.BlockSize, logger)
	if err != nil {
		return err
	}
	defer device.Close() //nolint:errcheck

	clock := ticks.NewCounter()
	stopTicker := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				clock.Tick()
			case <-stopTicker:
				return
			}
		}
	}()
	defer close(stopTicker)

	cache := bufcache.New(bufcache.Config{
		PoolSize:  cfg.PoolSize,
		Buckets:   cfg.Buckets,
		BlockSize: cfg.BlockSize,
		Device:    device,
		Clock:     clock,
		Logger:    logger,
		Tracer:    tracer,
	})

	repl := &REPL{
		cache:   cache,
		device:  device,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		locked:  make(map[diskio.BlockID]*bufcache.Buffer),
		pinned:  make(map[diskio.BlockID]*bufcache.Buffer),
	}
	return repl.Run()
}

// REPL is the interactive command loop over one running Cache.
type REPL struct {
	cache  *bufcache.Cache
	device *diskio.FileDevice
	clock  *ticks.Counter
	logger *zap.Logger
	cfg    Config

	locked map[diskio.BlockID]*bufcache.Buffer // buffers currently content-locked by this REPL
	pinned map[diskio.BlockID]*bufcache.Buffer // buffers currently pinned by this REPL

	line *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".blockcached_history")
}

// Run starts the REPL loop and blocks until the operator quits.
func (r *REPL) Run() error {
	r.line = liner.NewLiner()
	defer r.line.Close()

	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.line.ReadHistory(f) //nolint:errcheck
		f.Close()
	}

	fmt.Printf("blockcached - pool_size=%d buckets=%d block_size=%d\n", r.cfg.PoolSize, r.cfg.Buckets, r.cfg.BlockSize)
	fmt.Println("Type 'help' for available commands.")

	for {
		text, err := r.line.Prompt("blockcache> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("blockcached: read input: %w", err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		r.line.AppendHistory(text)

		fields := strings.Fields(text)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		switch cmd {
		case "help", "?":
			r.printHelp()
		case "get":
			r.cmdGet(args)
		case "put":
			r.cmdPut(args)
		case "release":
			r.cmdRelease(args)
		case "pin":
			r.cmdPin(args)
		case "unpin":
			r.cmdUnpin(args)
		case "stats":
			r.cmdStats()
		case "tick":
			fmt.Printf("tick: %d\n", r.clock.Tick())
		case "quit", "exit", "q":
			r.saveHistory()
			return r.shutdown()
		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return r.shutdown()
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.line.WriteHistory(f) //nolint:errcheck
		f.Close()
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "put", "release", "pin", "unpin", "stats", "tick", "help", "quit", "exit"}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <dev> <blockno>               Fetch and content-lock a block")
	fmt.Println("  put <dev> <blockno> <hex-bytes>   Write bytes into a held block and flush it")
	fmt.Println("  release <dev> <blockno>           Release a held block's content lock")
	fmt.Println("  pin <dev> <blockno>               Pin a held block so it survives eviction")
	fmt.Println("  unpin <dev> <blockno>             Reverse a prior pin")
	fmt.Println("  stats                             Show cache and device counters")
	fmt.Println("  tick                              Manually advance the release-tick clock")
	fmt.Println("  quit / exit / q                   Write a stats snapshot, sync, and exit")
}

func parseBlockArgs(args []string) (diskio.BlockID, error) {
	if len(args) < 2 {
		return diskio.BlockID{}, fmt.Errorf("expected <dev> <blockno>")
	}
	dev, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return diskio.BlockID{}, fmt.Errorf("invalid dev %q: %w", args[0], err)
	}
	blockno, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return diskio.BlockID{}, fmt.Errorf("invalid blockno %q: %w", args[1], err)
	}
	return diskio.BlockID{Dev: uint32(dev), Blockno: uint32(blockno)}, nil
}

func (r *REPL) cmdGet(args []string) {
	blk, err := parseBlockArgs(args)
	if err != nil {
		fmt.Println("usage: get <dev> <blockno>:", err)
		return
	}
	if _, held := r.locked[blk]; held {
		fmt.Println("already held; release it first")
		return
	}
	buf, err := r.cache.Read(context.Background(), blk.Dev, blk.Blockno)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	r.locked[blk] = buf
	fmt.Printf("%s: %s\n", blk, hex.EncodeToString(buf.Data))
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 3 {
		fmt.Println("usage: put <dev> <blockno> <hex-bytes>")
		return
	}
	blk, err := parseBlockArgs(args[:2])
	if err != nil {
		fmt.Println("usage: put <dev> <blockno> <hex-bytes>:", err)
		return
	}
	buf, held := r.locked[blk]
	if !held {
		fmt.Println("block is not held; run 'get' first")
		return
	}
	raw, err := hex.DecodeString(args[2])
	if err != nil {
		fmt.Println("invalid hex:", err)
		return
	}
	n := copy(buf.Data, raw)
	for i := n; i < len(buf.Data); i++ {
		buf.Data[i] = 0
	}
	if err := r.cache.Write(context.Background(), buf); err != nil {
		fmt.Println("write failed:", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdRelease(args []string) {
	blk, err := parseBlockArgs(args)
	if err != nil {
		fmt.Println("usage: release <dev> <blockno>:", err)
		return
	}
	buf, held := r.locked[blk]
	if !held {
		fmt.Println("block is not held")
		return
	}
	r.cache.Release(buf)
	delete(r.locked, blk)
	fmt.Println("OK")
}

func (r *REPL) cmdPin(args []string) {
	blk, err := parseBlockArgs(args)
	if err != nil {
		fmt.Println("usage: pin <dev> <blockno>:", err)
		return
	}
	buf, held := r.locked[blk]
	if !held {
		fmt.Println("block must be held (via 'get') before it can be pinned")
		return
	}
	r.cache.Pin(buf)
	r.pinned[blk] = buf
	fmt.Println("OK")
}

func (r *REPL) cmdUnpin(args []string) {
	blk, err := parseBlockArgs(args)
	if err != nil {
		fmt.Println("usage: unpin <dev> <blockno>:", err)
		return
	}
	buf, pinned := r.pinned[blk]
	if !pinned {
		fmt.Println("block is not pinned")
		return
	}
	r.cache.Unpin(buf)
	delete(r.pinned, blk)
	fmt.Println("OK")
}

func (r *REPL) cmdStats() {
	cs := r.cache.Stats()
	ds := r.device.Stats()
	fmt.Printf("cache:  hits=%d misses=%d evictions=%d eviction_restarts=%d duplicate_installs=%d\n",
		cs.Hits, cs.Misses, cs.Evictions, cs.EvictionRestarts, cs.DuplicateInstalls)
	fmt.Printf("device: blocks_read=%d blocks_written=%d\n", ds.BlocksRead, ds.BlocksWritten)
}

// statsSnapshot is the durable, on-quit record written via natefinch/atomic.
type statsSnapshot struct {
	Time   time.Time      `json:"time"`
	Cache  bufcache.Stats `json:"cache"`
	Device diskio.Stats   `json:"device"`
}

func (r *REPL) shutdown() error {
	if r.cfg.StatsSnapshot != "" {
		snap := statsSnapshot{
			Time:   time.Now(),
			Cache:  r.cache.Stats(),
			Device: r.device.Stats(),
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("blockcached: marshal stats snapshot: %w", err)
		}
		if err := atomic.WriteFile(r.cfg.StatsSnapshot, strings.NewReader(string(data))); err != nil {
			return fmt.Errorf("blockcached: write stats snapshot: %w", err)
		}
	}
	if err := r.device.SyncAll(); err != nil {
		r.logger.Warn("blockcached: sync on shutdown failed", zap.Error(err))
	}
	return nil
}
