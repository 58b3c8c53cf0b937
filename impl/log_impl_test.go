package impl

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ls4154/blockwal/env"
	"github.com/ls4154/blockwal/log"
	"github.com/ls4154/blockwal/wal"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *recordingLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func openTestLog(t *testing.T, name string, mutate func(*wal.Options)) wal.Log {
	t.Helper()
	opt := wal.DefaultOptions()
	if mutate != nil {
		mutate(opt)
	}
	l, err := Open(opt, name)
	require.NoError(t, err)
	return l
}

func randomPayload(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestLogAppendReadAt(t *testing.T) {
	name := filepath.Join(t.TempDir(), "000001.log")
	l := openTestLog(t, name, nil)
	defer l.Close()

	r := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 100, 2028, wal.MaxFragmentPayload, wal.MaxFragmentPayload + 1, wal.BlockSize, 3*wal.BlockSize + 17, 10 * wal.BlockSize}

	var payloads [][]byte
	var positions []wal.Position
	for _, size := range sizes {
		p := randomPayload(r, size)
		pos, err := l.Append(p)
		require.NoError(t, err)
		payloads = append(payloads, p)
		positions = append(positions, pos)
	}
	require.NoError(t, l.Flush())

	for i := range payloads {
		got, err := l.ReadAt(positions[i])
		require.NoError(t, err)
		require.Equal(t, payloads[i], got)
	}

	fsize, err := env.DefaultEnv().GetFileSize(name)
	require.NoError(t, err)
	require.EqualValues(t, fsize, l.Size())
}

func TestLogScenarios(t *testing.T) {
	e := env.NewMemEnv()
	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = e })
	defer l.Close()

	a := bytes.Repeat([]byte("A"), 2028)
	pos, err := l.Append(a)
	require.NoError(t, err)
	require.Equal(t, wal.Position{BlockNumber: 0, ChunkOffset: 0}, pos)
	got, err := l.ReadAt(pos)
	require.NoError(t, err)
	require.Equal(t, a, got)

	l2 := openTestLog(t, "000002.log", func(o *wal.Options) { o.Env = e })
	defer l2.Close()

	pos, err = l2.Append(make([]byte, wal.BlockSize-wal.HeaderSize))
	require.NoError(t, err)
	require.Equal(t, wal.Position{}, pos)
	require.EqualValues(t, wal.BlockSize, l2.Size())

	pos, err = l2.Append([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, wal.Position{BlockNumber: 1, ChunkOffset: 0}, pos)
	require.EqualValues(t, wal.BlockSize+wal.HeaderSize+10, l2.Size())
	require.Len(t, e.Contents("000002.log"), wal.BlockSize+wal.HeaderSize+10)
}

func writeRecords(t *testing.T, l wal.Log, payloads [][]byte) []wal.Position {
	t.Helper()
	positions := make([]wal.Position, 0, len(payloads))
	for _, p := range payloads {
		pos, err := l.Append(p)
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	require.NoError(t, l.Flush())
	return positions
}

func testPayloads() [][]byte {
	r := rand.New(rand.NewSource(42))
	return [][]byte{
		randomPayload(r, 100),
		randomPayload(r, 40000),
		{},
		randomPayload(r, 5000),
		randomPayload(r, 70000),
	}
}

func TestLogTailRecovery(t *testing.T) {
	name := filepath.Join(t.TempDir(), "000001.log")
	logs := &recordingLogger{}

	l := openTestLog(t, name, nil)
	payloads := testPayloads()
	positions := writeRecords(t, l, payloads)
	validEnd := l.Size()
	require.NoError(t, l.Close())
	require.LessOrEqual(t, validEnd%wal.BlockSize, int64(wal.BlockSize-wal.HeaderSize))

	frag, err := log.EncodeFragment(nil, log.FragmentFull, bytes.Repeat([]byte("z"), 100))
	require.NoError(t, err)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(frag[:50])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l = openTestLog(t, name, func(o *wal.Options) { o.Logger = logs })
	defer l.Close()

	info := l.Recovery()
	require.Equal(t, len(payloads), info.Records)
	require.Equal(t, wal.PositionFromOffset(validEnd), info.ValidEnd)
	require.Equal(t, validEnd+50, info.FileSize)
	require.EqualValues(t, 50, info.DiscardedBytes)
	require.True(t, info.Truncated)
	require.ErrorIs(t, info.Reason, wal.ErrIncompleteRecord)
	require.True(t, logs.Contains("truncated 50 bytes"))

	fsize, err := env.DefaultEnv().GetFileSize(name)
	require.NoError(t, err)
	require.EqualValues(t, validEnd, fsize)

	for i := range payloads {
		got, err := l.ReadAt(positions[i])
		require.NoError(t, err)
		require.Equal(t, payloads[i], got)
	}

	pos, err := l.Append([]byte("after recovery"))
	require.NoError(t, err)
	require.Equal(t, wal.PositionFromOffset(validEnd), pos)
	got, err := l.ReadAt(pos)
	require.NoError(t, err)
	require.Equal(t, []byte("after recovery"), got)
}

func TestLogIdempotentReopen(t *testing.T) {
	e := env.NewMemEnv()
	withEnv := func(o *wal.Options) { o.Env = e }

	l := openTestLog(t, "000001.log", withEnv)
	payloads := testPayloads()
	writeRecords(t, l, payloads)
	size := l.Size()
	require.NoError(t, l.Close())

	for i := 0; i < 3; i++ {
		l = openTestLog(t, "000001.log", withEnv)
		info := l.Recovery()
		require.NoError(t, info.Reason)
		require.Equal(t, len(payloads)+i, info.Records)
		require.Zero(t, info.DiscardedBytes)
		require.False(t, info.Truncated)
		require.Equal(t, size, l.Size())
		require.Len(t, e.Contents("000001.log"), int(size))

		pos, err := l.Append([]byte(fmt.Sprintf("reopen-%d", i)))
		require.NoError(t, err)
		require.Equal(t, wal.PositionFromOffset(size), pos)
		size = l.Size()
		require.NoError(t, l.Close())
	}
}

func TestLogReopenPadsPartialBlock(t *testing.T) {
	e := env.NewMemEnv()
	withEnv := func(o *wal.Options) { o.Env = e }

	l := openTestLog(t, "000001.log", withEnv)
	// leave 4 bytes in block 0
	_, err := l.Append(make([]byte, wal.BlockSize-4-wal.HeaderSize))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l = openTestLog(t, "000001.log", withEnv)
	defer l.Close()
	require.NoError(t, l.Recovery().Reason)
	require.EqualValues(t, wal.BlockSize-4, l.Size())

	pos, err := l.Append([]byte("next"))
	require.NoError(t, err)
	require.Equal(t, wal.Position{BlockNumber: 1}, pos)
	require.Equal(t, []byte{0, 0, 0, 0}, e.Contents("000001.log")[wal.BlockSize-4:wal.BlockSize])
}

func TestLogCorruptionDetected(t *testing.T) {
	e := env.NewMemEnv()
	withEnv := func(o *wal.Options) { o.Env = e }

	l := openTestLog(t, "000001.log", withEnv)
	first, err := l.Append([]byte("first record"))
	require.NoError(t, err)
	second, err := l.Append(bytes.Repeat([]byte("second"), 10000))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	raw := e.Contents("000001.log")
	raw[second.Offset()+wal.HeaderSize+3] ^= 0x10
	e.SetContents("000001.log", raw)

	l = openTestLog(t, "000001.log", func(o *wal.Options) {
		o.Env = e
		o.TruncateTail = false
	})
	defer l.Close()

	info := l.Recovery()
	require.Equal(t, 1, info.Records)
	require.Equal(t, second, info.ValidEnd)
	require.False(t, info.Truncated)
	require.ErrorIs(t, info.Reason, wal.ErrChecksumMismatch)
	var cerr *wal.ChecksumError
	require.True(t, errors.As(info.Reason, &cerr))
	require.Equal(t, second.Offset(), cerr.Offset)

	got, err := l.ReadAt(first)
	require.NoError(t, err)
	require.Equal(t, []byte("first record"), got)

	// the corrupt record is past the valid end
	_, err = l.ReadAt(second)
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)

	_, err = l.Append([]byte("blocked"))
	require.ErrorIs(t, err, wal.ErrUntrustedTail)
	require.Len(t, e.Contents("000001.log"), len(raw))

	require.NoError(t, l.Truncate())
	require.Len(t, e.Contents("000001.log"), int(second.Offset()))
	require.True(t, l.Recovery().Truncated)

	pos, err := l.Append([]byte("replacement"))
	require.NoError(t, err)
	require.Equal(t, second, pos)
}

func TestLogRecoverFrom(t *testing.T) {
	e := env.NewMemEnv()
	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = e })
	positions := writeRecords(t, l, testPayloads())
	size := l.Size()
	require.NoError(t, l.Close())

	l = openTestLog(t, "000001.log", func(o *wal.Options) {
		o.Env = e
		o.RecoverFrom = positions[3]
	})
	info := l.Recovery()
	require.Equal(t, 2, info.Records)
	require.Equal(t, wal.PositionFromOffset(size), info.ValidEnd)
	require.NoError(t, l.Close())

	_, err := Open(&wal.Options{Env: e, RecoverFrom: wal.Position{BlockNumber: 100}}, "000001.log")
	require.ErrorIs(t, err, wal.ErrInvalidPosition)

	_, err = Open(&wal.Options{Env: e, RecoverFrom: wal.Position{ChunkOffset: wal.BlockSize - 1}}, "000001.log")
	require.ErrorIs(t, err, wal.ErrInvalidPosition)

	// a failed open releases the lock
	l = openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = e })
	require.NoError(t, l.Close())
}

func TestLogScan(t *testing.T) {
	e := env.NewMemEnv()
	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = e })
	defer l.Close()

	payloads := testPayloads()
	positions := writeRecords(t, l, payloads)

	var gotPos []wal.Position
	var got [][]byte
	err := l.Scan(wal.Position{}, func(pos wal.Position, payload []byte) error {
		gotPos = append(gotPos, pos)
		got = append(got, payload)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, positions, gotPos)
	require.Equal(t, payloads, got)

	count := 0
	err = l.Scan(positions[2], func(pos wal.Position, payload []byte) error {
		require.Equal(t, positions[2+count], pos)
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, count)

	errStop := errors.New("stop")
	count = 0
	err = l.Scan(wal.Position{}, func(wal.Position, []byte) error {
		count++
		if count == 2 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, 2, count)

	err = l.Scan(wal.Position{BlockNumber: 1000}, func(wal.Position, []byte) error { return nil })
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)

	// scanning from the end yields nothing
	err = l.Scan(wal.PositionFromOffset(l.Size()), func(wal.Position, []byte) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)

	err = l.Scan(wal.Position{ChunkOffset: wal.BlockSize - wal.HeaderSize + 1}, func(wal.Position, []byte) error { return nil })
	require.ErrorIs(t, err, wal.ErrInvalidPosition)
}

func TestLogReadPastValidEnd(t *testing.T) {
	e := env.NewMemEnv()
	withEnv := func(o *wal.Options) { o.Env = e }

	l := openTestLog(t, "000001.log", withEnv)
	first, err := l.Append([]byte("a"))
	require.NoError(t, err)
	second, err := l.Append(bytes.Repeat([]byte("b"), 100))
	require.NoError(t, err)
	third, err := l.Append([]byte("third"))
	require.NoError(t, err)
	size := l.Size()

	_, err = l.ReadAt(wal.PositionFromOffset(size))
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)
	require.NotErrorIs(t, err, wal.ErrCorruption)
	require.NoError(t, l.Close())

	raw := e.Contents("000001.log")
	raw[second.Offset()+wal.HeaderSize+10] ^= 0x01
	e.SetContents("000001.log", raw)

	l = openTestLog(t, "000001.log", func(o *wal.Options) {
		o.Env = e
		o.TruncateTail = false
	})
	defer l.Close()
	require.Equal(t, second, l.Recovery().ValidEnd)
	require.Equal(t, second.Offset(), l.Size())

	got, err := l.ReadAt(first)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)

	// intact bytes behind the corruption are not served
	for _, pos := range []wal.Position{second, third} {
		_, err = l.ReadAt(pos)
		require.ErrorIs(t, err, wal.ErrIncompleteRecord, "read at %s", pos)
		require.NotErrorIs(t, err, wal.ErrCorruption)
	}

	err = l.Scan(second, func(wal.Position, []byte) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)
	err = l.Scan(third, func(wal.Position, []byte) error { return nil })
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)

	require.NoError(t, l.Truncate())
	pos, err := l.Append([]byte("replacement"))
	require.NoError(t, err)
	require.Equal(t, second, pos)
	require.Less(t, l.Size(), third.Offset())

	got, err = l.ReadAt(pos)
	require.NoError(t, err)
	require.Equal(t, []byte("replacement"), got)

	_, err = l.ReadAt(third)
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)
	_, err = l.ReadAt(wal.PositionFromOffset(l.Size()))
	require.ErrorIs(t, err, wal.ErrIncompleteRecord)

	var scanned []wal.Position
	err = l.Scan(first, func(pos wal.Position, _ []byte) error {
		scanned = append(scanned, pos)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []wal.Position{first, second}, scanned)
}

func TestLogOutOfRangePosition(t *testing.T) {
	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = env.NewMemEnv() })
	defer l.Close()
	_, err := l.Append([]byte("record"))
	require.NoError(t, err)

	huge := []wal.Position{
		{BlockNumber: math.MaxUint64 / 2},
		{BlockNumber: math.MaxUint64},
		{BlockNumber: wal.MaxBlockNumber + 1},
	}
	for _, pos := range huge {
		_, err = l.ReadAt(pos)
		require.ErrorIs(t, err, wal.ErrInvalidPosition, "read at %s", pos)
		require.NotErrorIs(t, err, wal.ErrIO)

		err = l.Scan(pos, func(wal.Position, []byte) error { return nil })
		require.ErrorIs(t, err, wal.ErrInvalidPosition, "scan from %s", pos)
		require.NotErrorIs(t, err, wal.ErrIO)
	}

	_, err = l.ReadAt(wal.Position{ChunkOffset: wal.BlockSize - wal.HeaderSize + 1})
	require.ErrorIs(t, err, wal.ErrInvalidPosition)
}

func TestLogSnappyCompression(t *testing.T) {
	e := env.NewMemEnv()
	withSnappy := func(o *wal.Options) {
		o.Env = e
		o.Compression = wal.SnappyCompression
	}

	l := openTestLog(t, "000001.log", withSnappy)
	compressible := bytes.Repeat([]byte("compress me "), 20000)
	random := randomPayload(rand.New(rand.NewSource(7)), 50000)
	payloads := [][]byte{compressible, random, {}}
	positions := writeRecords(t, l, payloads)
	require.Less(t, l.Size(), int64(len(compressible)))

	for i := range payloads {
		got, err := l.ReadAt(positions[i])
		require.NoError(t, err)
		require.Equal(t, payloads[i], got)
	}
	require.NoError(t, l.Close())

	l = openTestLog(t, "000001.log", withSnappy)
	defer l.Close()
	require.Equal(t, 3, l.Recovery().Records)

	i := 0
	err := l.Scan(wal.Position{}, func(pos wal.Position, payload []byte) error {
		require.Equal(t, positions[i], pos)
		require.Equal(t, payloads[i], payload)
		i++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, i)
}

func TestLogLocked(t *testing.T) {
	name := filepath.Join(t.TempDir(), "000001.log")
	l := openTestLog(t, name, nil)

	_, err := Open(wal.DefaultOptions(), name)
	require.ErrorIs(t, err, wal.ErrLocked)

	require.NoError(t, l.Close())
	l = openTestLog(t, name, nil)
	require.NoError(t, l.Close())
}

func TestLogRemove(t *testing.T) {
	mem := env.NewMemEnv()
	logger := &recordingLogger{}
	opt := wal.DefaultOptions()
	opt.Env = mem
	opt.Logger = logger

	l, err := Open(opt, "000001.log")
	require.NoError(t, err)
	_, err = l.Append([]byte("doomed"))
	require.NoError(t, err)

	require.ErrorIs(t, Remove(opt, "000001.log"), wal.ErrLocked)
	require.True(t, mem.FileExists("000001.log"))

	require.NoError(t, l.Close())
	require.NoError(t, Remove(opt, "000001.log"))
	require.False(t, mem.FileExists("000001.log"))
	require.True(t, logger.Contains("removed 13 bytes"))

	err = Remove(opt, "000001.log")
	require.ErrorIs(t, err, wal.ErrIO)
	require.ErrorIs(t, err, os.ErrNotExist)

	l, err = Open(opt, "000001.log")
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, 0, l.Recovery().Records)
	require.Equal(t, int64(0), l.Size())
}

func TestLogRemoveFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "000001.log")
	l := openTestLog(t, name, nil)
	_, err := l.Append([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.NoError(t, Remove(wal.DefaultOptions(), name))
	_, err = os.Stat(name)
	require.True(t, os.IsNotExist(err))
}

func TestLogClosed(t *testing.T) {
	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = env.NewMemEnv() })
	pos, err := l.Append([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append([]byte("y"))
	require.ErrorIs(t, err, wal.ErrClosed)
	_, err = l.ReadAt(pos)
	require.ErrorIs(t, err, wal.ErrClosed)
	require.ErrorIs(t, l.Flush(), wal.ErrClosed)
	require.ErrorIs(t, l.Close(), wal.ErrClosed)
}

func TestLogInvalidOptions(t *testing.T) {
	_, err := Open(nil, "000001.log")
	require.ErrorIs(t, err, wal.ErrInvalidArgument)

	_, err = Open(&wal.Options{Env: env.NewMemEnv(), Compression: 9}, "000001.log")
	require.ErrorIs(t, err, wal.ErrInvalidArgument)
}

type faultyEnv struct {
	*env.MemEnv
	fail *atomic.Bool
}

type faultyFile struct {
	wal.LogFile
	fail *atomic.Bool
}

func (e faultyEnv) NewLogFile(name string) (wal.LogFile, error) {
	f, err := e.MemEnv.NewLogFile(name)
	if err != nil {
		return nil, err
	}
	return faultyFile{LogFile: f, fail: e.fail}, nil
}

func (f faultyFile) Write(p []byte) (int, error) {
	if f.fail.Load() {
		// torn write
		n, _ := f.LogFile.Write(p[:len(p)/2])
		return n, errors.New("disk full")
	}
	return f.LogFile.Write(p)
}

func TestLogWriteFailureIsSticky(t *testing.T) {
	mem := env.NewMemEnv()
	fe := faultyEnv{MemEnv: mem, fail: &atomic.Bool{}}

	l := openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = fe })
	pos, err := l.Append([]byte("good"))
	require.NoError(t, err)

	fe.fail.Store(true)
	_, err = l.Append(bytes.Repeat([]byte("bad"), 1000))
	require.ErrorIs(t, err, wal.ErrIO)

	fe.fail.Store(false)
	_, err = l.Append([]byte("after failure"))
	require.ErrorIs(t, err, wal.ErrIO)
	require.NoError(t, l.Close())

	l = openTestLog(t, "000001.log", func(o *wal.Options) { o.Env = mem })
	defer l.Close()
	info := l.Recovery()
	require.Equal(t, 1, info.Records)
	require.True(t, info.Truncated)
	require.ErrorIs(t, info.Reason, wal.ErrIncompleteRecord)

	got, err := l.ReadAt(pos)
	require.NoError(t, err)
	require.Equal(t, []byte("good"), got)
}

func TestLogConcurrentReaders(t *testing.T) {
	name := filepath.Join(t.TempDir(), "000001.log")
	l := openTestLog(t, name, nil)
	defer l.Close()

	type written struct {
		pos     wal.Position
		payload []byte
	}

	const numRecords = 300
	const numReaders = 4

	chans := make([]chan written, numReaders)
	for i := range chans {
		chans[i] = make(chan written, numRecords)
	}

	errCh := make(chan error, numReaders)
	var wg sync.WaitGroup
	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(ch chan written) {
			defer wg.Done()
			for w := range ch {
				got, err := l.ReadAt(w.pos)
				if err != nil {
					errCh <- err
					return
				}
				if !bytes.Equal(got, w.payload) {
					errCh <- fmt.Errorf("mismatch at %s", w.pos)
					return
				}
			}
		}(chans[i])
	}

	r := rand.New(rand.NewSource(99))
	for i := 0; i < numRecords; i++ {
		p := randomPayload(r, r.Intn(3*wal.BlockSize))
		pos, err := l.Append(p)
		require.NoError(t, err)
		for _, ch := range chans {
			ch <- written{pos: pos, payload: p}
		}
	}
	for _, ch := range chans {
		close(ch)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
}
