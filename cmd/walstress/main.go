package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ls4154/blockwal"
	"github.com/ls4154/blockwal/wal"
)

type config struct {
	path           string
	duration       time.Duration
	reopenInterval time.Duration
	reportInterval time.Duration
	writerDelay    time.Duration

	readers  int
	scanners int

	valueSize   int
	valueJitter int
	tearPercent int

	maxDiskMB   int64
	seed        int64
	syncWrites  bool
	finalCheck  bool
	compression wal.CompressionType
}

type stats struct {
	appends    atomic.Uint64
	reads      atomic.Uint64
	scans      atomic.Uint64
	scanned    atomic.Uint64
	tears      atomic.Uint64
	lost       atomic.Uint64
	errors     atomic.Uint64
	mismatches atomic.Uint64
}

type runError struct {
	mu  sync.Mutex
	err error
}

func (r *runError) set(err error, cancel context.CancelFunc) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = err
	cancel()
}

func (r *runError) get() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type entry struct {
	pos  wal.Position
	end  int64
	size int
}

// oracle records every acknowledged append, indexed by sequence number.
type oracle struct {
	mu      sync.RWMutex
	entries []entry
}

func (o *oracle) Add(e entry) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
	return uint64(len(o.entries) - 1)
}

func (o *oracle) Get(seq uint64) entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.entries[seq]
}

func (o *oracle) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

func (o *oracle) End() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.entries) == 0 {
		return 0
	}
	return o.entries[len(o.entries)-1].end
}

// TrimTo drops entries that do not end at or before off and returns how
// many were dropped along with the end of the last survivor.
func (o *oracle) TrimTo(off int64) (int, int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.entries)
	for n > 0 && o.entries[n-1].end > off {
		n--
	}
	dropped := len(o.entries) - n
	o.entries = o.entries[:n]
	if n == 0 {
		return dropped, 0
	}
	return dropped, o.entries[n-1].end
}

func main() {
	cfg := parseFlags()
	if err := validateConfig(cfg); err != nil {
		fatalf("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.path), 0o755); err != nil {
		fatalf("mkdir: %v", err)
	}
	if err := blockwal.Remove(wal.DefaultOptions(), cfg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatalf("remove log: %v", err)
	}

	fmt.Printf("walstress: path=%s duration=%s reopen_interval=%s readers=%d scanners=%d value=%d+%d tear=%d%% writer_delay=%s sync=%t compression=%s max_disk_mb=%d\n",
		cfg.path,
		cfg.duration,
		cfg.reopenInterval,
		cfg.readers,
		cfg.scanners,
		cfg.valueSize,
		cfg.valueJitter,
		cfg.tearPercent,
		cfg.writerDelay,
		cfg.syncWrites,
		compressionName(cfg.compression),
		cfg.maxDiskMB,
	)

	o := &oracle{}
	st := &stats{}
	rng := rand.New(rand.NewSource(cfg.seed))

	start := time.Now()
	remaining := cfg.duration
	epoch := 1
	for remaining > 0 {
		epochDur := remaining
		if cfg.reopenInterval > 0 && epochDur > cfg.reopenInterval {
			epochDur = cfg.reopenInterval
		}

		l, err := openLog(cfg, o, st)
		if err != nil {
			fatalf("open log (epoch=%d): %v", epoch, err)
		}

		fmt.Printf("walstress: epoch=%d start duration=%s records=%d\n", epoch, epochDur, o.Len())
		err = runEpoch(l, cfg, o, st, epochDur, epoch)
		closeErr := l.Close()
		if err != nil {
			fatalf("epoch=%d failed: %v", epoch, err)
		}
		if closeErr != nil {
			fatalf("close log (epoch=%d): %v", epoch, closeErr)
		}

		if rng.Intn(100) < cfg.tearPercent {
			if err := tearTail(cfg.path, rng); err != nil {
				fatalf("tear tail (epoch=%d): %v", epoch, err)
			}
			st.tears.Add(1)
		}

		remaining -= epochDur
		epoch++
	}

	fmt.Printf("walstress: workload done elapsed=%s records=%d tears=%d lost=%d\n",
		time.Since(start).Round(time.Millisecond), o.Len(), st.tears.Load(), st.lost.Load())

	if cfg.finalCheck {
		if err := finalCheck(cfg, o, st); err != nil {
			fatalf("final check: %v", err)
		}
	}

	fi, err := os.Stat(cfg.path)
	if err != nil {
		fatalf("final size check: %v", err)
	}
	fmt.Printf("walstress: PASS elapsed=%s final_size=%.1fMB\n", time.Since(start).Round(time.Millisecond), float64(fi.Size())/(1024.0*1024.0))
}

// openLog opens the log and reconciles the oracle with what recovery kept.
// Records past the recovered end can only be lost to a tail tear.
func openLog(cfg config, o *oracle, st *stats) (wal.Log, error) {
	opt := wal.DefaultOptions()
	opt.Sync = cfg.syncWrites
	opt.Compression = cfg.compression

	l, err := blockwal.Open(opt, cfg.path)
	if err != nil {
		return nil, err
	}

	info := l.Recovery()
	validEnd := info.ValidEnd.Offset()
	dropped, lastEnd := o.TrimTo(validEnd)
	if dropped > 0 {
		st.lost.Add(uint64(dropped))
		fmt.Printf("walstress: recovery dropped %d records, valid_end=%s discarded=%d reason=%v\n",
			dropped, info.ValidEnd, info.DiscardedBytes, info.Reason)
	}
	if lastEnd != validEnd {
		l.Close()
		return nil, fmt.Errorf("recovered end %d does not match last record end %d: %w", validEnd, lastEnd, errInvariant)
	}
	if info.Records != o.Len() {
		l.Close()
		return nil, fmt.Errorf("recovered %d records, expected %d: %w", info.Records, o.Len(), errInvariant)
	}
	return l, nil
}

func runEpoch(l wal.Log, cfg config, o *oracle, st *stats, epochDur time.Duration, epoch int) error {
	ctx, cancel := context.WithTimeout(context.Background(), epochDur)
	defer cancel()

	rs := &runError{}
	epochStart := time.Now()
	appendsBefore := st.appends.Load()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writerWorker(ctx, cancel, rs, st, l, cfg, o)
	}()
	for i := 0; i < cfg.readers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			readerWorker(ctx, cancel, rs, st, l, cfg, o, id)
		}(i)
	}
	for i := 0; i < cfg.scanners; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			scannerWorker(ctx, cancel, rs, st, l, cfg, o, id)
		}(i)
	}
	if cfg.reportInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter(ctx, cancel, rs, st, l, cfg, epoch, epochStart)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if err := rs.get(); err != nil {
		return err
	}
	if err := l.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	fmt.Printf("walstress: epoch=%d done appends=%d reads=%d scans=%d scanned=%d size=%d errors=%d mismatches=%d\n",
		epoch,
		st.appends.Load()-appendsBefore,
		st.reads.Load(),
		st.scans.Load(),
		st.scanned.Load(),
		l.Size(),
		st.errors.Load(),
		st.mismatches.Load(),
	)
	return nil
}

func writerWorker(ctx context.Context, cancel context.CancelFunc, rs *runError, st *stats, l wal.Log, cfg config, o *oracle) {
	r := rand.New(rand.NewSource(cfg.seed + 1000 + int64(o.Len())))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if cfg.writerDelay > 0 {
			time.Sleep(cfg.writerDelay)
		}

		seq := uint64(o.Len())
		size := cfg.valueSize
		if cfg.valueJitter > 0 {
			size += r.Intn(cfg.valueJitter + 1)
		}
		payload := makePayload(cfg.seed, seq, size)

		pos, err := l.Append(payload)
		if err != nil {
			st.errors.Add(1)
			rs.set(fmt.Errorf("writer append #%d: %w", seq, err), cancel)
			return
		}
		if got := o.Add(entry{pos: pos, end: l.Size(), size: len(payload)}); got != seq {
			rs.set(fmt.Errorf("oracle sequence %d, expected %d: %w", got, seq, errInvariant), cancel)
			return
		}
		st.appends.Add(1)
	}
}

func readerWorker(ctx context.Context, cancel context.CancelFunc, rs *runError, st *stats, l wal.Log, cfg config, o *oracle, id int) {
	r := rand.New(rand.NewSource(cfg.seed + 2000 + int64(id)*104729))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := o.Len()
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		seq := uint64(r.Intn(n))
		e := o.Get(seq)

		got, err := l.ReadAt(e.pos)
		if err != nil {
			st.errors.Add(1)
			rs.set(fmt.Errorf("reader #%d at %s: %w", seq, e.pos, err), cancel)
			return
		}
		if err := checkPayload(cfg.seed, seq, e.size, got); err != nil {
			st.mismatches.Add(1)
			rs.set(fmt.Errorf("reader at %s: %w", e.pos, err), cancel)
			return
		}
		st.reads.Add(1)
	}
}

// scannerWorker replays a bounded run of records from a random known
// position and checks they come back in append order.
func scannerWorker(ctx context.Context, cancel context.CancelFunc, rs *runError, st *stats, l wal.Log, cfg config, o *oracle, id int) {
	r := rand.New(rand.NewSource(cfg.seed + 3000 + int64(id)*1301081))
	const maxSteps = 64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := o.Len()
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		seq := uint64(r.Intn(n))
		from := o.Get(seq).pos

		steps := 0
		err := l.Scan(from, func(pos wal.Position, payload []byte) error {
			if seq >= uint64(o.Len()) {
				// appended after the oracle snapshot
				return errStop
			}
			e := o.Get(seq)
			if pos != e.pos {
				return fmt.Errorf("scan yielded %s, expected %s for #%d: %w", pos, e.pos, seq, errInvariant)
			}
			if err := checkPayload(cfg.seed, seq, e.size, payload); err != nil {
				return err
			}
			seq++
			steps++
			if steps >= maxSteps {
				return errStop
			}
			return nil
		})
		st.scanned.Add(uint64(steps))
		if err != nil && !errors.Is(err, errStop) {
			st.errors.Add(1)
			if errors.Is(err, errInvariant) {
				st.mismatches.Add(1)
			}
			rs.set(fmt.Errorf("scanner from %s: %w", from, err), cancel)
			return
		}
		st.scans.Add(1)
	}
}

func reporter(ctx context.Context, cancel context.CancelFunc, rs *runError, st *stats, l wal.Log, cfg config, epoch int, epochStart time.Time) {
	ticker := time.NewTicker(cfg.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := l.Size()
			fmt.Printf("walstress: epoch=%d elapsed=%s appends=%d reads=%d scans=%d scanned=%d err=%d mismatch=%d size=%.1fMB\n",
				epoch,
				time.Since(epochStart).Round(time.Second),
				st.appends.Load(),
				st.reads.Load(),
				st.scans.Load(),
				st.scanned.Load(),
				st.errors.Load(),
				st.mismatches.Load(),
				float64(size)/(1024.0*1024.0),
			)

			if cfg.maxDiskMB > 0 && size > cfg.maxDiskMB*1024*1024 {
				st.errors.Add(1)
				rs.set(fmt.Errorf("log size exceeds limit: size=%dMB limit=%dMB", size/(1024*1024), cfg.maxDiskMB), cancel)
				return
			}
		}
	}
}

// tearTail simulates a crash in the middle of a write: either cut the file
// short or leave junk after the last record.
func tearTail(path string, r *rand.Rand) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := fi.Size()

	if r.Intn(2) == 0 && size > 0 {
		cut := 1 + r.Int63n(min(size, 3*wal.HeaderSize+100))
		fmt.Printf("walstress: tearing %d bytes off %d\n", cut, size)
		return os.Truncate(path, size-cut)
	}

	junk := make([]byte, 1+r.Intn(2*wal.HeaderSize+64))
	r.Read(junk)
	fmt.Printf("walstress: appending %d junk bytes at %d\n", len(junk), size)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(junk); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// finalCheck reopens the log and replays it end to end against the oracle.
func finalCheck(cfg config, o *oracle, st *stats) error {
	l, err := openLog(cfg, o, st)
	if err != nil {
		return err
	}
	defer l.Close()

	var seq uint64
	err = l.Scan(wal.Position{}, func(pos wal.Position, payload []byte) error {
		if seq >= uint64(o.Len()) {
			return fmt.Errorf("scan yielded extra record at %s: %w", pos, errInvariant)
		}
		e := o.Get(seq)
		if pos != e.pos {
			return fmt.Errorf("record #%d at %s, expected %s: %w", seq, pos, e.pos, errInvariant)
		}
		if err := checkPayload(cfg.seed, seq, e.size, payload); err != nil {
			return err
		}
		seq++
		return nil
	})
	if err != nil {
		return err
	}
	if seq != uint64(o.Len()) {
		return fmt.Errorf("scan yielded %d records, expected %d: %w", seq, o.Len(), errInvariant)
	}

	fmt.Printf("walstress: final scan records=%d end=%d\n", seq, l.Size())
	return nil
}

// makePayload derives a record's bytes from its sequence number so readers
// can verify it without storing payloads. The first 8 bytes carry seq.
func makePayload(seed int64, seq uint64, size int) []byte {
	size = max(size, 8)
	b := make([]byte, size)
	binary.LittleEndian.PutUint64(b, seq)
	r := rand.New(rand.NewSource(seed ^ int64(seq)))
	r.Read(b[8:])
	return b
}

func checkPayload(seed int64, seq uint64, size int, got []byte) error {
	if len(got) != size {
		return fmt.Errorf("record #%d has %d bytes, expected %d: %w", seq, len(got), size, errInvariant)
	}
	if !bytes.Equal(got, makePayload(seed, seq, size)) {
		return fmt.Errorf("record #%d content mismatch: %w", seq, errInvariant)
	}
	return nil
}

func parseFlags() config {
	cfg := config{}
	var compression string

	flag.StringVar(&cfg.path, "path", "/tmp/blockwal-stress/stress.log", "log file path")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Minute, "total stress duration")
	flag.DurationVar(&cfg.reopenInterval, "reopen-interval", 20*time.Second, "close/open interval during run (0 disables)")
	flag.DurationVar(&cfg.reportInterval, "report-interval", 5*time.Second, "progress report interval (0 disables)")
	flag.DurationVar(&cfg.writerDelay, "writer-delay", 50*time.Microsecond, "delay per append to limit write pressure")

	flag.IntVar(&cfg.readers, "readers", 8, "number of concurrent ReadAt goroutines")
	flag.IntVar(&cfg.scanners, "scanners", 2, "number of concurrent Scan goroutines")

	flag.IntVar(&cfg.valueSize, "value-size", 256, "base payload size")
	flag.IntVar(&cfg.valueJitter, "value-jitter", 70000, "random additional payload bytes")
	flag.IntVar(&cfg.tearPercent, "tear-percent", 50, "chance to tear the tail between epochs [0..100]")

	flag.Int64Var(&cfg.maxDiskMB, "max-disk-mb", 2048, "stop run if the log exceeds this size in MB (0 disables)")
	flag.Int64Var(&cfg.seed, "seed", 20260222, "random seed")
	flag.BoolVar(&cfg.syncWrites, "sync", false, "fsync after every append")
	flag.BoolVar(&cfg.finalCheck, "final-check", true, "replay the whole log against the oracle at the end")
	flag.StringVar(&compression, "compression", "no", "compression: no|snappy")
	flag.Parse()

	cfg.compression = parseCompression(compression)
	return cfg
}

func validateConfig(cfg config) error {
	if cfg.duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if cfg.reopenInterval < 0 {
		return fmt.Errorf("reopen-interval must be >= 0")
	}
	if cfg.reportInterval < 0 {
		return fmt.Errorf("report-interval must be >= 0")
	}
	if cfg.readers < 0 || cfg.scanners < 0 {
		return fmt.Errorf("readers/scanners must be >= 0")
	}
	if cfg.valueSize < 0 || cfg.valueJitter < 0 {
		return fmt.Errorf("value-size/value-jitter must be >= 0")
	}
	if cfg.tearPercent < 0 || cfg.tearPercent > 100 {
		return fmt.Errorf("tear-percent must be in [0,100]")
	}
	if cfg.maxDiskMB < 0 {
		return fmt.Errorf("max-disk-mb must be >= 0")
	}
	return nil
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

var (
	errInvariant = errors.New("invariant violation")
	errStop      = errors.New("stop")
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "walstress: "+format+"\n", args...)
	os.Exit(1)
}
