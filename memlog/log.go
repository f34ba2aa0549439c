// Package memlog implements the in-memory chunked byte log used as C2: a
// single-writer, multi-reader append-only byte stream, segmented into
// fixed-size chunks so that head/tail truncation only needs to release whole
// chunks rather than rewrite a single growing buffer.
//
// It is used directly as the durable byte-log in tests, and stands in for
// the real file-backed log in production call sites — grounded in the
// teacher's segment.go, which plays the analogous role for file segments.
package memlog

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultChunkSize matches the teacher's default segment size class.
const DefaultChunkSize = 1 << 20 // 1 MiB

var (
	// ErrClosed is returned by operations against a closed Log.
	ErrClosed = errors.New("memlog: log is closed")

	// ErrOversizedTruncation is the fatal-misuse error for a truncation
	// request outside [head, tail].
	ErrOversizedTruncation = errors.New("memlog: truncation position out of range")
)

type chunk struct {
	base   int64 // absolute byte offset of chunk[0]
	data   []byte
	filled int
}

func (c *chunk) end() int64 { return c.base + int64(c.filled) }

// Log is a single-writer, multi-reader in-memory append-only byte log.
type Log struct {
	mu        sync.RWMutex
	chunkSize int64
	chunks    []*chunk
	head      int64
	tail      int64
	closed    bool

	// chunkIndex caches offset -> chunk slice index for repeated
	// ReadStream lookups, avoiding a binary search on every Read call from
	// a reader that is advancing sequentially one chunk at a time.
	chunkIndex *lru.Cache

	waiters map[interface{}]chan struct{}
}

// New returns an empty Log using chunkSize-byte chunks. chunkSize <= 0 uses
// DefaultChunkSize.
func New(chunkSize int64) *Log {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	idx, _ := lru.New(64)
	return &Log{
		chunkSize:  chunkSize,
		chunkIndex: idx,
		waiters:    make(map[interface{}]chan struct{}),
	}
}

// Head returns the oldest readable offset.
func (l *Log) Head() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Tail returns the current write cursor (first byte not yet written).
func (l *Log) Tail() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tail
}

// Append writes buf starting at the current tail, allocating new chunks as
// needed, and returns the offset it was written at. Single writer: callers
// must serialize their own Append calls.
func (l *Log) Append(buf []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	offset := l.tail
	remaining := buf
	for len(remaining) > 0 {
		c := l.currentWriteChunk()
		space := int(l.chunkSize) - c.filled
		n := len(remaining)
		if n > space {
			n = space
		}
		copy(c.data[c.filled:c.filled+n], remaining[:n])
		c.filled += n
		remaining = remaining[n:]
	}
	l.tail += int64(len(buf))
	l.notifyWaiters()
	return offset, nil
}

// currentWriteChunk returns the chunk new bytes should land in, allocating
// one if the last chunk is full or none exist yet.
func (l *Log) currentWriteChunk() *chunk {
	if len(l.chunks) == 0 {
		c := &chunk{base: l.tail, data: make([]byte, l.chunkSize)}
		l.chunks = append(l.chunks, c)
		return c
	}
	last := l.chunks[len(l.chunks)-1]
	if last.filled >= int(l.chunkSize) {
		c := &chunk{base: last.end(), data: make([]byte, l.chunkSize)}
		l.chunks = append(l.chunks, c)
		return c
	}
	return last
}

// findChunk returns the index of the chunk containing offset, or -1 if
// offset is at or past the tail / before the head.
func (l *Log) findChunk(offset int64) int {
	if offset < l.head || offset >= l.tail {
		return -1
	}
	if v, ok := l.chunkIndex.Get(offset / l.chunkSize); ok {
		idx := v.(int)
		if idx < len(l.chunks) && l.chunks[idx].base <= offset && offset < l.chunks[idx].end() {
			return idx
		}
	}
	lo, hi := 0, len(l.chunks)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := l.chunks[mid]
		switch {
		case offset < c.base:
			hi = mid - 1
		case offset >= c.end():
			lo = mid + 1
		default:
			l.chunkIndex.Add(offset/l.chunkSize, mid)
			return mid
		}
	}
	return -1
}

// ReadAt copies up to len(p) bytes starting at offset into p, returning a
// short read if fewer bytes than requested are available before the tail.
// It never returns bytes below head or at/after tail.
func (l *Log) ReadAt(p []byte, offset int64) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset < l.head {
		offset = l.head
	}
	n := 0
	for n < len(p) {
		idx := l.findChunk(offset)
		if idx < 0 {
			break
		}
		c := l.chunks[idx]
		start := offset - c.base
		avail := int64(c.filled) - start
		want := int64(len(p) - n)
		if avail > want {
			avail = want
		}
		copy(p[n:n+int(avail)], c.data[start:start+avail])
		n += int(avail)
		offset += avail
		if offset >= l.tail {
			break
		}
	}
	return n, nil
}

// TruncateHead releases whole chunks entirely below newHead. Partial chunks
// remain allocated; their prefix simply becomes unreadable via head.
func (l *Log) TruncateHead(newHead int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newHead < l.head || newHead > l.tail {
		return ErrOversizedTruncation
	}
	keep := 0
	for keep < len(l.chunks) && l.chunks[keep].end() <= newHead {
		keep++
	}
	l.chunks = l.chunks[keep:]
	l.head = newHead
	l.chunkIndex.Purge()
	return nil
}

// TruncateTail releases chunks entirely after newTail and resets the write
// cursor so subsequent Appends continue at newTail.
func (l *Log) TruncateTail(newTail int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newTail < l.head || newTail > l.tail {
		return ErrOversizedTruncation
	}
	keep := 0
	for keep < len(l.chunks) && l.chunks[keep].base < newTail {
		keep++
	}
	l.chunks = l.chunks[:keep]
	if keep > 0 {
		last := l.chunks[keep-1]
		last.filled = int(newTail - last.base)
	}
	l.tail = newTail
	l.chunkIndex.Purge()
	return nil
}

// Close marks the log closed and wakes any blocked readers so they observe
// ErrClosed rather than hanging forever.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.notifyWaiters()
	return nil
}

func (l *Log) notifyWaiters() {
	for _, ch := range l.waiters {
		close(ch)
	}
	l.waiters = make(map[interface{}]chan struct{})
}

// waitForData registers key as a waiter and returns a channel that is closed
// by the next Append or by Close (at once if the log is already closed); it
// does not block itself. Grounded in the teacher segment's waiters map
// future pattern.
func (l *Log) waitForData(key interface{}) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	if l.closed {
		close(ch)
		return ch
	}
	l.waiters[key] = ch
	return ch
}
