package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ls4154/blockwal/log"
	"github.com/ls4154/blockwal/wal"
)

type config struct {
	path      string
	fragments bool
	from      wal.Position
	hexBytes  int
	limit     int
}

func main() {
	cfg := parseFlags()

	f, err := os.Open(cfg.path)
	if err != nil {
		die(err.Error())
	}
	defer f.Close()

	if cfg.fragments {
		err = dumpFragments(f, cfg)
	} else {
		err = dumpRecords(f, cfg)
	}
	if err != nil {
		die(err.Error())
	}
}

func parseFlags() config {
	cfg := config{}
	var from string
	flag.StringVar(&cfg.path, "path", "", "log file to dump")
	flag.BoolVar(&cfg.fragments, "fragments", false, "print every physical fragment instead of logical records")
	flag.StringVar(&from, "from", "0:0", "start position as block:offset")
	flag.IntVar(&cfg.hexBytes, "hex", 0, "print up to this many leading payload bytes in hex")
	flag.IntVar(&cfg.limit, "limit", 0, "stop after this many records or fragments (0: no limit)")
	flag.Parse()

	if cfg.path == "" && flag.NArg() > 0 {
		cfg.path = flag.Arg(0)
	}
	if cfg.path == "" {
		die("path is required")
	}
	if cfg.hexBytes < 0 || cfg.limit < 0 {
		die("invalid numeric flags")
	}

	pos, err := parsePosition(from)
	if err != nil {
		die(err.Error())
	}
	cfg.from = pos
	return cfg
}

func parsePosition(s string) (wal.Position, error) {
	block, off, ok := strings.Cut(s, ":")
	if !ok {
		return wal.Position{}, fmt.Errorf("%w: %q is not block:offset", wal.ErrInvalidPosition, s)
	}
	b, err := strconv.ParseUint(block, 10, 64)
	if err != nil {
		return wal.Position{}, fmt.Errorf("%w: block %q: %v", wal.ErrInvalidPosition, block, err)
	}
	o, err := strconv.ParseUint(off, 10, 32)
	if err != nil {
		return wal.Position{}, fmt.Errorf("%w: offset %q: %v", wal.ErrInvalidPosition, off, err)
	}
	pos := wal.Position{BlockNumber: b, ChunkOffset: uint32(o)}
	return pos, pos.Validate()
}

// dumpRecords replays logical records the same way recovery does and
// reports where and why the scan stopped.
func dumpRecords(f *os.File, cfg config) error {
	start := cfg.from.Offset()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	r := log.NewReader(f, start)
	n := 0
	var total int64
	for cfg.limit == 0 || n < cfg.limit {
		pos, data, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("stop at %s: %v\n", wal.PositionFromOffset(r.Offset()), err)
			break
		}
		fmt.Printf("%-14s len=%-8d%s\n", pos, len(data), hexPrefix(data, cfg.hexBytes))
		n++
		total += int64(len(data))
	}

	fmt.Printf("records=%d bytes=%d valid_end=%s\n", n, total, wal.PositionFromOffset(r.Offset()))
	return nil
}

// dumpFragments walks the file block by block and prints each fragment
// header, including ones that do not form a valid record.
func dumpFragments(f *os.File, cfg config) error {
	block := make([]byte, wal.BlockSize)
	n := 0
	for bn := cfg.from.BlockNumber; ; bn++ {
		m, err := f.ReadAt(block, int64(bn)*wal.BlockSize)
		if m == 0 && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		off := 0
		if bn == cfg.from.BlockNumber {
			off = int(cfg.from.ChunkOffset)
		}
		for off+wal.HeaderSize <= m {
			if cfg.limit > 0 && n >= cfg.limit {
				return nil
			}
			pos := wal.Position{BlockNumber: bn, ChunkOffset: uint32(off)}
			frag, derr := log.DecodeFragment(block[off:m])
			if derr != nil {
				fmt.Printf("%-14s error: %v\n", pos, derr)
				break
			}
			fmt.Printf("%-14s %-7s len=%-6d crc=%08x%s\n", pos, frag.Type, frag.Length, frag.Checksum, hexPrefix(frag.Payload, cfg.hexBytes))
			off += wal.HeaderSize + int(frag.Length)
			n++
		}
		if rest := m - off; rest > 0 && rest < wal.HeaderSize {
			fmt.Printf("%-14s trailer %d bytes\n", wal.Position{BlockNumber: bn, ChunkOffset: uint32(off)}, rest)
		}
		if m < wal.BlockSize {
			break
		}
	}
	return nil
}

func hexPrefix(b []byte, n int) string {
	if n == 0 || len(b) == 0 {
		return ""
	}
	if len(b) > n {
		return " " + hex.EncodeToString(b[:n]) + "..."
	}
	return " " + hex.EncodeToString(b)
}

func die(msg string) {
	fmt.Fprintf(os.Stderr, "waldump: %s\n", msg)
	os.Exit(1)
}
