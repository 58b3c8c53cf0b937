package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ls4154/blockwal"
	"github.com/ls4154/blockwal/wal"
)

type config struct {
	path             string
	benchmarks       []string
	num              int
	reads            int
	valueSize        int
	threads          int
	seed             int64
	sync             bool
	compression      wal.CompressionType
	compressionRatio float64
	histogram        bool
	useExisting      bool
}

func main() {
	cfg := parseFlags()
	printBanner(cfg)
	printHeader(cfg)

	for _, name := range cfg.benchmarks {
		spec, err := benchSpecFor(name)
		if err != nil {
			fatalf("%v", err)
		}

		if spec.fresh {
			if cfg.useExisting {
				fmt.Printf("%-12s %12s\n", name, "skipped (--use_existing=true)")
				continue
			}
			if err := blockwal.Remove(logOptions(cfg, false), cfg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				fatalf("remove log: %v", err)
			}
		}

		if spec.name == "recover" {
			printResult(cfg, name, runRecover(cfg))
			continue
		}

		l, err := openLog(cfg, spec.sync)
		if err != nil {
			fatalf("open log for %s: %v", name, err)
		}

		r, runErr := runBenchmark(l, cfg, spec)
		closeErr := l.Close()
		if runErr != nil {
			fatalf("%s: %v", name, runErr)
		}
		if closeErr != nil {
			fatalf("close log after %s: %v", name, closeErr)
		}
		printResult(cfg, name, r)
	}
}

func logOptions(cfg config, sync bool) *wal.Options {
	opt := wal.DefaultOptions()
	opt.Sync = cfg.sync || sync
	opt.Compression = cfg.compression
	return opt
}

func openLog(cfg config, sync bool) (wal.Log, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.path), 0o755); err != nil {
		return nil, err
	}
	l, err := blockwal.Open(logOptions(cfg, sync), cfg.path)
	if err != nil {
		return nil, err
	}
	if info := l.Recovery(); info.DiscardedBytes > 0 {
		fmt.Fprintf(os.Stderr, "warning: discarded %d bytes past %s: %v\n", info.DiscardedBytes, info.ValidEnd, info.Reason)
	}
	return l, nil
}

func printBanner(cfg config) {
	fmt.Printf("walbench: path=%s num=%d reads=%d value_size=%d threads=%d seed=%d sync=%v compression=%s compression_ratio=%.2f block_size=%d\n",
		cfg.path,
		cfg.num,
		readsPerThread(cfg),
		cfg.valueSize,
		cfg.threads,
		cfg.seed,
		cfg.sync,
		compressionName(cfg.compression),
		cfg.compressionRatio,
		wal.BlockSize)
}

func printHeader(cfg config) {
	if cfg.histogram {
		fmt.Printf("%-12s %12s %12s %12s %12s %10s %8s %8s %8s %8s\n",
			"benchmark", "ops", "ops/sec", "MB/sec", "avg(us)", "errors", "mismatch", "p50", "p95", "p99")
		return
	}
	fmt.Printf("%-12s %12s %12s %12s %12s %10s %8s\n",
		"benchmark", "ops", "ops/sec", "MB/sec", "avg(us)", "errors", "mismatch")
}

func printResult(cfg config, name string, r runResult) {
	if cfg.histogram {
		fmt.Printf("%-12s %12d %12.0f %12.2f %12.1f %10d %8d %8s %8s %8s\n",
			name, r.ops, r.opsPerSec(), r.mbPerSec(), r.avgMicros(), r.errors, r.mismatches,
			formatMicros(r.hist.Percentile(50)),
			formatMicros(r.hist.Percentile(95)),
			formatMicros(r.hist.Percentile(99)))
	} else {
		fmt.Printf("%-12s %12d %12.0f %12.2f %12.1f %10d %8d\n",
			name, r.ops, r.opsPerSec(), r.mbPerSec(), r.avgMicros(), r.errors, r.mismatches)
	}
	if r.message != "" {
		fmt.Printf("%-12s %s\n", "", r.message)
	}
}

func parseFlags() config {
	var benchmarkList string
	var compression string
	cfg := config{}

	flag.StringVar(&cfg.path, "path", "/tmp/blockwal-bench/bench.log", "log file path")
	flag.StringVar(&benchmarkList, "benchmarks", "fillseq,readseq,readrandom,recover", "comma-separated benchmark names")
	flag.IntVar(&cfg.num, "num", 100000, "records to append")
	flag.IntVar(&cfg.reads, "reads", -1, "read operations per thread (default: num; recover default: 10 opens)")
	flag.IntVar(&cfg.valueSize, "value_size", 100, "record payload size in bytes")
	flag.IntVar(&cfg.threads, "threads", 1, "number of reader goroutines")
	flag.Int64Var(&cfg.seed, "seed", 301, "rng seed")
	flag.BoolVar(&cfg.sync, "sync", false, "fsync after every append")
	flag.StringVar(&compression, "compression", "no", "record compression: no|snappy")
	flag.Float64Var(&cfg.compressionRatio, "compression_ratio", 0.5, "compression ratio for generated payloads")
	flag.BoolVar(&cfg.histogram, "histogram", false, "print latency histogram percentiles")
	flag.BoolVar(&cfg.useExisting, "use_existing", false, "do not recreate the log for fill benchmarks")
	flag.Parse()

	cfg.benchmarks = parseBenchmarks(benchmarkList)

	if cfg.num <= 0 {
		fatalf("num must be > 0")
	}
	if cfg.reads < -1 {
		fatalf("reads must be >= -1")
	}
	if cfg.valueSize < 0 {
		fatalf("value_size must be >= 0")
	}
	if cfg.threads <= 0 {
		fatalf("threads must be > 0")
	}
	if cfg.compressionRatio <= 0 {
		fatalf("compression_ratio must be > 0")
	}
	if len(cfg.benchmarks) == 0 {
		fatalf("benchmarks is empty")
	}

	cfg.compression = parseCompression(compression)
	return cfg
}

func parseCompression(raw string) wal.CompressionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "no", "none":
		return wal.NoCompression
	case "snappy":
		return wal.SnappyCompression
	default:
		fatalf("invalid compression %q (allowed: no|snappy)", raw)
		return wal.NoCompression
	}
}

func compressionName(t wal.CompressionType) string {
	switch t {
	case wal.SnappyCompression:
		return "snappy"
	default:
		return "no"
	}
}

func parseBenchmarks(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
