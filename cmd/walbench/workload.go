package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ls4154/blockwal"
	"github.com/ls4154/blockwal/wal"
)

func runBenchmark(l wal.Log, cfg config, spec benchSpec) (runResult, error) {
	switch spec.name {
	case "fillseq", "fillsync", "append":
		return runFill(l, cfg, func(int, *rand.Rand) int { return cfg.valueSize }), nil
	case "fillrandom":
		return runFill(l, cfg, func(_ int, rng *rand.Rand) int { return rng.Intn(2*cfg.valueSize + 1) }), nil
	case "readrandom":
		return runReadRandom(l, cfg)
	case "readseq":
		return runReadSeq(l, cfg), nil
	default:
		return runResult{}, fmt.Errorf("unknown benchmark %q", spec.name)
	}
}

// runFill appends cfg.num records from a single goroutine; the log has one
// writer.
func runFill(l wal.Log, cfg config, size func(i int, rng *rand.Rand) int) runResult {
	gen := newPayloadGenerator(cfg.compressionRatio, cfg.seed)
	rng := rand.New(rand.NewSource(cfg.seed))
	r := runResult{hist: newLatencyHistogram()}

	start := time.Now()
	for i := 0; i < cfg.num; i++ {
		payload := gen.Next(size(i, rng))

		t0 := time.Now()
		_, err := l.Append(payload)
		r.hist.Observe(time.Since(t0))
		r.ops++
		if err != nil {
			r.errors++
			continue
		}
		r.bytes += int64(len(payload))
	}
	if err := l.Flush(); err != nil {
		r.errors++
	}
	r.wall = time.Since(start)
	r.message = fmt.Sprintf("log size %d bytes", l.Size())
	return r
}

type indexEntry struct {
	pos wal.Position
	n   int
}

func buildIndex(l wal.Log) ([]indexEntry, error) {
	var index []indexEntry
	err := l.Scan(wal.Position{}, func(pos wal.Position, payload []byte) error {
		index = append(index, indexEntry{pos: pos, n: len(payload)})
		return nil
	})
	return index, err
}

func runReadRandom(l wal.Log, cfg config) (runResult, error) {
	index, err := buildIndex(l)
	if err != nil {
		return runResult{}, fmt.Errorf("build index: %w", err)
	}
	if len(index) == 0 {
		return runResult{message: "log is empty"}, nil
	}

	reads := readsPerThread(cfg)
	results := make([]runResult, cfg.threads)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < cfg.threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.seed + int64(w)))
			r := runResult{hist: newLatencyHistogram()}
			for i := 0; i < reads; i++ {
				e := index[rng.Intn(len(index))]

				t0 := time.Now()
				payload, err := l.ReadAt(e.pos)
				r.hist.Observe(time.Since(t0))
				r.ops++
				if err != nil {
					r.errors++
					continue
				}
				if len(payload) != e.n {
					r.mismatches++
				}
				r.bytes += int64(len(payload))
			}
			results[w] = r
		}(w)
	}
	wg.Wait()

	merged := runResult{hist: newLatencyHistogram(), wall: time.Since(start)}
	for _, r := range results {
		merged.ops += r.ops
		merged.errors += r.errors
		merged.mismatches += r.mismatches
		merged.bytes += r.bytes
		merged.hist.Merge(r.hist)
	}
	merged.message = fmt.Sprintf("index of %d records", len(index))
	return merged, nil
}

func runReadSeq(l wal.Log, cfg config) runResult {
	r := runResult{hist: newLatencyHistogram()}
	reads := readsPerThread(cfg)

	start := time.Now()
	last := start
	err := l.Scan(wal.Position{}, func(_ wal.Position, payload []byte) error {
		now := time.Now()
		r.hist.Observe(now.Sub(last))
		last = now
		r.ops++
		r.bytes += int64(len(payload))
		if r.ops >= int64(reads) {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		r.errors++
		r.message = err.Error()
	}
	r.wall = time.Since(start)
	return r
}

var errStopScan = errors.New("stop scan")

// runRecover times repeated opens of the log at cfg.path. Each open runs
// the full tail scan.
func runRecover(cfg config) runResult {
	r := runResult{hist: newLatencyHistogram()}
	rounds := cfg.reads
	if rounds < 0 {
		rounds = 10
	}

	start := time.Now()
	for i := 0; i < rounds; i++ {
		t0 := time.Now()
		l, err := blockwal.Open(logOptions(cfg, false), cfg.path)
		r.hist.Observe(time.Since(t0))
		r.ops++
		if err != nil {
			r.errors++
			r.message = err.Error()
			continue
		}
		info := l.Recovery()
		r.bytes += info.FileSize
		r.message = fmt.Sprintf("records=%d valid_end=%s discarded=%d", info.Records, info.ValidEnd, info.DiscardedBytes)
		if err := l.Close(); err != nil {
			r.errors++
		}
	}
	r.wall = time.Since(start)
	return r
}

func readsPerThread(cfg config) int {
	if cfg.reads >= 0 {
		return cfg.reads
	}
	return cfg.num
}
