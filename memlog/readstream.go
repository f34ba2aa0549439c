package memlog

import "context"

// ReadStream is an independent, positioned reader over a Log. Multiple
// ReadStreams may read concurrently; each tracks its own offset.
type ReadStream struct {
	log *Log
	pos int64
}

// NewReadStream returns a stream positioned at start.
func (l *Log) NewReadStream(start int64) *ReadStream {
	return &ReadStream{log: l, pos: start}
}

// Position returns the stream's current offset.
func (s *ReadStream) Position() int64 { return s.pos }

// Read copies the next available bytes into p and advances the stream's
// position, returning a short read (n < len(p), err == nil) if fewer bytes
// than requested are currently available.
func (s *ReadStream) Read(p []byte) (int, error) {
	n, err := s.log.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// WaitRead behaves like Read but blocks until at least one byte is
// available, the log is closed, or ctx is done.
func (s *ReadStream) WaitRead(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := s.Read(p)
		if n > 0 || err != nil {
			return n, err
		}

		s.log.mu.RLock()
		closed := s.log.closed
		tail := s.log.tail
		s.log.mu.RUnlock()
		if closed {
			return 0, ErrClosed
		}
		if s.pos < tail {
			continue
		}

		ch := s.log.waitForData(s)
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
