package main

import (
	"fmt"
	"math"
	"time"
)

// latencyBounds are the upper edges of the histogram buckets. Appends with
// Sync land in the millisecond range, buffered appends and cached reads in
// the low microseconds.
var latencyBounds = []time.Duration{
	1 * time.Microsecond,
	2 * time.Microsecond,
	5 * time.Microsecond,
	10 * time.Microsecond,
	20 * time.Microsecond,
	50 * time.Microsecond,
	100 * time.Microsecond,
	200 * time.Microsecond,
	500 * time.Microsecond,
	1 * time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	1 * time.Second,
}

type latencyHistogram struct {
	counts []uint64
	total  uint64
	sum    time.Duration
}

func newLatencyHistogram() latencyHistogram {
	return latencyHistogram{counts: make([]uint64, len(latencyBounds)+1)}
}

func (h *latencyHistogram) Observe(d time.Duration) {
	h.total++
	h.sum += d
	for i, b := range latencyBounds {
		if d <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.counts)-1]++
}

func (h *latencyHistogram) Merge(other latencyHistogram) {
	h.total += other.total
	h.sum += other.sum
	for i := range h.counts {
		h.counts[i] += other.counts[i]
	}
}

func (h latencyHistogram) Percentile(p float64) time.Duration {
	if h.total == 0 {
		return 0
	}
	target := uint64(math.Ceil(p / 100.0 * float64(h.total)))
	if target == 0 {
		target = 1
	}
	var seen uint64
	for i, c := range h.counts {
		seen += c
		if seen >= target && i < len(latencyBounds) {
			return latencyBounds[i]
		}
	}
	return latencyBounds[len(latencyBounds)-1]
}

type runResult struct {
	ops        int64
	errors     int64
	mismatches int64
	bytes      int64
	wall       time.Duration
	hist       latencyHistogram
	message    string
}

func (r runResult) opsPerSec() float64 {
	return float64(r.ops) / seconds(r.wall)
}

func (r runResult) mbPerSec() float64 {
	return float64(r.bytes) / (1024 * 1024) / seconds(r.wall)
}

func (r runResult) avgMicros() float64 {
	if r.hist.total == 0 {
		return 0
	}
	return float64(r.hist.sum.Microseconds()) / float64(r.hist.total)
}

func seconds(d time.Duration) float64 {
	if s := d.Seconds(); s > 0 {
		return s
	}
	return 1e-9
}

func formatMicros(d time.Duration) string {
	return fmt.Sprintf("%.1f", float64(d.Nanoseconds())/1000)
}
