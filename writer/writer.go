// Package writer implements the physical log writer (C3): it buffers
// records from a single producer, batches them into flushes against a
// durable byte-log, and dispatches ordered flush-completion callbacks.
//
// The batching/throttling shape and its background flush goroutine are
// grounded in the teacher commitLog's append/split/checkpoint loops; the
// channel-based "join the next flush" pattern is grounded in the teacher's
// waitForHW/hwWaiters future pattern.
package writer

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/liftbridge-io/replog/internal/logger"
	"github.com/liftbridge-io/replog/record"
)

// ErrClosed is delivered to every record's flush callback once a hard error
// has been observed or the writer has been told to prepare_to_close and has
// finished draining.
var ErrClosed = errors.New("writer: closed")

// ByteLog is the minimal durable append target the writer batches against.
// *memlog.Log satisfies it; a real file-backed log would too.
type ByteLog interface {
	Append(buf []byte) (int64, error)
}

// FlushCallback is invoked once per record, in PSN order, after its batch
// either flushes successfully or fails. err is nil on success.
type FlushCallback func(rec record.Record, psn int64, err error)

// Awaitable is returned by FlushAsync; callers block on Wait for the flush
// this call joined to complete.
type Awaitable struct {
	done chan struct{}
	err  error
}

// Wait blocks until the joined flush completes and returns its error, if
// any.
func (a *Awaitable) Wait() error {
	<-a.done
	return a.err
}

type batchEntry struct {
	rec record.Record
	psn int64
}

// Writer is the physical log writer.
type Writer struct {
	mu sync.Mutex

	log      ByteLog
	callback FlushCallback
	log_     *logger.Logger

	nextPSN int64

	buffered          []batchEntry
	bufferedBytes     int64
	pendingFlushBytes int64

	flushing  bool
	flushDone chan struct{}

	closing bool
	closed  bool
	hardErr error

	// ThrottleThresholdBytes is the configured limit on
	// pendingFlushBytes+bufferedBytes above which ShouldThrottleWrites
	// reports true.
	ThrottleThresholdBytes int64
}

// New returns a Writer that appends flushed batches to log and delivers
// completions to callback.
func New(log ByteLog, callback FlushCallback) *Writer {
	return &Writer{
		log:                    log,
		callback:               callback,
		log_:                   logger.New(logrus.StandardLogger(), "writer"),
		nextPSN:                0,
		ThrottleThresholdBytes: 64 << 20,
	}
}

// InsertBufferedRecord assigns rec a PSN and appends it to the current
// buffering batch. If the writer has observed a hard error or is closing,
// the record is still accepted and its callback will deliver ErrClosed once
// flushed/drained — callers waiting on it must still unblock.
func (w *Writer) InsertBufferedRecord(rec record.Record) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	psn := w.nextPSN
	w.nextPSN++
	rec.Header().PSN = psn
	w.buffered = append(w.buffered, batchEntry{rec: rec, psn: psn})
	w.bufferedBytes += recordSize(rec)
	return psn
}

// FlushAsync triggers a flush of the currently buffered batch. If a flush is
// already in flight, the caller joins it; a new batch begins buffering
// immediately regardless. initiator is accepted for parity with the
// teacher's call shape and is currently only used for logging.
func (w *Writer) FlushAsync(initiator string) *Awaitable {
	w.mu.Lock()
	if w.flushing {
		aw := &Awaitable{done: w.flushDone}
		w.mu.Unlock()
		return aw
	}
	batch := w.buffered
	w.buffered = nil
	w.pendingFlushBytes += w.bufferedBytes
	w.bufferedBytes = 0
	w.flushing = true
	done := make(chan struct{})
	w.flushDone = done
	w.mu.Unlock()

	aw := &Awaitable{done: done}
	go w.runFlush(initiator, batch, done)
	return aw
}

func (w *Writer) runFlush(initiator string, batch []batchEntry, done chan struct{}) {
	var flushErr error

	w.mu.Lock()
	hardErr := w.hardErr
	w.mu.Unlock()

	if hardErr != nil {
		flushErr = ErrClosed
	} else {
		// Appending.
		for _, e := range batch {
			buf, err := record.Encode(e.rec)
			if err != nil {
				flushErr = errors.Wrap(err, "encode record")
				break
			}
			if _, err := w.log.Append(buf); err != nil {
				flushErr = errors.Wrap(err, "append to log")
				break
			}
		}
		// Marking: a durability barrier. The in-memory log is durable by
		// construction of this process's memory; a real file-backed log
		// would fsync here.
	}

	if flushErr != nil && hardErr == nil {
		w.log_.Errorf("flush failed (initiator=%s): %v", initiator, flushErr)
		w.mu.Lock()
		w.hardErr = flushErr
		w.mu.Unlock()
	}

	// Dispatching: deliver callbacks in PSN order.
	for _, e := range batch {
		err := flushErr
		if err == nil {
			w.checkClosingErr(&err)
		}
		w.callback(e.rec, e.psn, err)
	}

	w.mu.Lock()
	w.pendingFlushBytes -= batchBytes(batch)
	w.flushing = false
	w.flushDone = nil
	closing := w.closing
	w.mu.Unlock()

	close(done)

	if closing {
		w.drainClosing()
	}
}

func (w *Writer) checkClosingErr(err *error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hardErr != nil {
		*err = w.hardErr
	} else if w.closed {
		*err = ErrClosed
	}
}

// SetTailRecord re-anchors the logical tail for false-progress truncation.
// It does not change durable content; it only affects where the next PSN
// will be assigned from.
func (w *Writer) SetTailRecord(rec record.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextPSN = rec.Header().PSN + 1
}

// TruncateLogTail durably narrows the log so rec becomes the new tail
// record.
func (w *Writer) TruncateLogTail(truncator func(rec record.Record) error, rec record.Record) error {
	return truncator(rec)
}

// TruncateLogHeadAsync durably advances the log head to position.
func (w *Writer) TruncateLogHeadAsync(truncator func(position int64) error, position int64) error {
	return truncator(position)
}

// PrepareToClose arms the terminal state: subsequently inserted records are
// still accepted (so any waiter on their callback still unblocks) but will
// be delivered ErrClosed once flushed, and no further successful flushes
// occur after the currently in-flight one drains.
func (w *Writer) PrepareToClose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = true
	if !w.flushing {
		go w.drainClosing()
	}
}

func (w *Writer) drainClosing() {
	w.mu.Lock()
	remaining := w.buffered
	w.buffered = nil
	w.closed = true
	w.mu.Unlock()

	for _, e := range remaining {
		w.callback(e.rec, e.psn, ErrClosed)
	}
}

// BufferedRecordBytes returns the byte size of records currently in the
// buffering phase.
func (w *Writer) BufferedRecordBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bufferedBytes
}

// PendingFlushBytes returns the byte size of records currently flushing or
// waiting to be dispatched.
func (w *Writer) PendingFlushBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingFlushBytes
}

// IsCompletelyFlushed reports whether there is no buffered or pending-flush
// data outstanding.
func (w *Writer) IsCompletelyFlushed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bufferedBytes == 0 && w.pendingFlushBytes == 0
}

// ShouldThrottleWrites reports whether producers should back off because
// outstanding bytes exceed ThrottleThresholdBytes. The writer itself never
// drops a write; this is advisory to the caller.
func (w *Writer) ShouldThrottleWrites() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bufferedBytes+w.pendingFlushBytes > w.ThrottleThresholdBytes
}

func recordSize(rec record.Record) int64 {
	buf, err := record.Encode(rec)
	if err != nil {
		return 0
	}
	return int64(len(buf))
}

func batchBytes(batch []batchEntry) int64 {
	var total int64
	for _, e := range batch {
		total += recordSize(e.rec)
	}
	return total
}
