// Package txmap implements the transaction map (C5): the pending/completed
// index over in-flight transactions and the per-transaction parent-chain
// linkage records are threaded through as they are logged.
//
// Chain traversal is iterative by construction (see WalkParentChain) since
// a transaction may accumulate tens of thousands of operations before it
// commits or aborts.
package txmap

import (
	"github.com/pkg/errors"

	"github.com/liftbridge-io/replog/record"
)

var (
	// ErrUnknownTransaction is returned when an operation references a
	// transaction ID the map has no pending entry for.
	ErrUnknownTransaction = errors.New("txmap: unknown transaction")

	// ErrAlreadyExists is returned by CreateTransaction for a duplicate ID.
	ErrAlreadyExists = errors.New("txmap: transaction already pending")
)

// Transaction is the map's view of one in-flight or recently-completed
// transaction.
type Transaction struct {
	ID             int64
	BeginOffset    int64
	BeginLSN       int64
	LatestOffset   int64
	LatestRecord   record.Record
	EndLSN         int64
	IsCommitted    bool
}

// Map is the transaction map.
type Map struct {
	pendingByID map[int64]*Transaction
	pendingFIFO []int64 // transaction IDs in begin order

	completedFIFO []*Transaction // in end-LSN order (append order == log order)

	stableCount int
}

// New returns an empty transaction map.
func New() *Map {
	return &Map{pendingByID: make(map[int64]*Transaction)}
}

// TxRefOf extracts the transaction id and parent-chain offset from a record
// that carries a TransactionHeader (Begin/Operation/End). ok is false for
// every other record: Atomic* records, which carry no transaction id, and
// physical records, Barrier, UpdateEpoch and Backup.
func TxRefOf(rec record.Record, offset int64) (id, parent int64, ok bool) {
	switch r := rec.(type) {
	case *record.BeginTransactionRecord:
		return r.TransactionID, r.ParentTransactionRecord, true
	case *record.OperationRecord:
		return r.TransactionID, r.ParentTransactionRecord, true
	case *record.EndTransactionRecord:
		return r.TransactionID, r.ParentTransactionRecord, true
	default:
		return 0, 0, false
	}
}

// CreateTransaction inserts a new pending transaction from its begin
// record.
func (m *Map) CreateTransaction(rec *record.BeginTransactionRecord, offset int64) error {
	if _, exists := m.pendingByID[rec.TransactionID]; exists {
		return ErrAlreadyExists
	}
	tx := &Transaction{
		ID:           rec.TransactionID,
		BeginOffset:  offset,
		BeginLSN:     rec.LSN,
		LatestOffset: offset,
		LatestRecord: rec,
	}
	m.pendingByID[tx.ID] = tx
	m.pendingFIFO = append(m.pendingFIFO, tx.ID)
	return nil
}

// AddOperation links an additional operation record into a pending
// transaction's chain.
func (m *Map) AddOperation(rec *record.OperationRecord, offset int64) error {
	tx, ok := m.pendingByID[rec.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	tx.LatestRecord = rec
	tx.LatestOffset = offset
	return nil
}

// CompleteTransaction moves a pending transaction to completed/unstable.
func (m *Map) CompleteTransaction(rec *record.EndTransactionRecord, offset int64) error {
	tx, ok := m.pendingByID[rec.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	delete(m.pendingByID, tx.ID)
	m.removeFromPendingFIFO(tx.ID)
	tx.LatestRecord = rec
	tx.LatestOffset = offset
	tx.EndLSN = rec.LSN
	tx.IsCommitted = rec.IsCommitted
	m.completedFIFO = append(m.completedFIFO, tx)
	return nil
}

func (m *Map) removeFromPendingFIFO(id int64) {
	for i, pid := range m.pendingFIFO {
		if pid == id {
			m.pendingFIFO = append(m.pendingFIFO[:i], m.pendingFIFO[i+1:]...)
			return
		}
	}
}

// RemoveStableTransactions discards completed transactions whose end LSN is
// at or below barrierLSN; they have been dispatched past the barrier and no
// longer need tracking. Idempotent; returns the number removed.
func (m *Map) RemoveStableTransactions(barrierLSN int64) int {
	n := 0
	for n < len(m.completedFIFO) && m.completedFIFO[n].EndLSN <= barrierLSN {
		n++
	}
	if n == 0 {
		return 0
	}
	m.completedFIFO = m.completedFIFO[n:]
	m.stableCount += n
	return n
}

// GetEarliestPendingTransaction returns the oldest pending transaction. If
// barrierLSN is non-nil and the earliest pending transaction's begin LSN is
// older than *barrierLSN, it returns (nil, false, true): the diagnostic
// "failed barrier check" used by checkpoint planning.
func (m *Map) GetEarliestPendingTransaction(barrierLSN *int64) (tx *Transaction, ok bool, failedBarrierCheck bool) {
	if len(m.pendingFIFO) == 0 {
		return nil, false, false
	}
	earliest := m.pendingByID[m.pendingFIFO[0]]
	if barrierLSN != nil && earliest.BeginLSN < *barrierLSN {
		return nil, false, true
	}
	return earliest, true, false
}

// GetPendingRecords appends each pending transaction's latest record to out.
func (m *Map) GetPendingRecords(out *[]record.Record) {
	for _, id := range m.pendingFIFO {
		*out = append(*out, m.pendingByID[id].LatestRecord)
	}
}

// GetPendingTransactions appends every pending transaction to out, in begin
// order.
func (m *Map) GetPendingTransactions(out *[]*Transaction) {
	for _, id := range m.pendingFIFO {
		*out = append(*out, m.pendingByID[id])
	}
}

// GetPendingTransactionsOlderThanPosition appends pending transactions whose
// BeginOffset is strictly before pos.
func (m *Map) GetPendingTransactionsOlderThanPosition(pos int64, out *[]*Transaction) {
	for _, id := range m.pendingFIFO {
		tx := m.pendingByID[id]
		if tx.BeginOffset < pos {
			*out = append(*out, tx)
		}
	}
}

// FalseProgressApply reverses AddOperation during tail-truncation: it
// rewinds a pending transaction's latest_record/offset to the operation's
// parent.
func (m *Map) FalseProgressApply(rec *record.OperationRecord, parent record.Record, parentOffset int64) error {
	tx, ok := m.pendingByID[rec.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	tx.LatestRecord = parent
	tx.LatestOffset = parentOffset
	return nil
}

// FalseProgressComplete reverses CompleteTransaction during tail-truncation:
// it moves a completed transaction back to pending, anchored at its parent
// record.
func (m *Map) FalseProgressComplete(rec *record.EndTransactionRecord, parent record.Record, parentOffset int64) error {
	for i, tx := range m.completedFIFO {
		if tx.ID == rec.TransactionID {
			m.completedFIFO = append(m.completedFIFO[:i], m.completedFIFO[i+1:]...)
			tx.LatestRecord = parent
			tx.LatestOffset = parentOffset
			tx.EndLSN = 0
			tx.IsCommitted = false
			m.pendingByID[tx.ID] = tx
			m.pendingFIFO = append(m.pendingFIFO, tx.ID)
			return nil
		}
	}
	return ErrUnknownTransaction
}

// Resolver fetches the record stored at a byte offset, e.g. by seeking a
// ReadStream and decoding. WalkParentChain uses it to step backward through
// a transaction's chain without recursion.
type Resolver func(offset int64) (record.Record, error)

// WalkParentChain iteratively walks a transaction's parent chain starting
// from (startRec, startOffset), calling visit for every record in the chain
// from newest to oldest, until it reaches the begin record (visited last)
// or visit returns false.
func WalkParentChain(resolve Resolver, startRec record.Record, startOffset int64, visit func(rec record.Record, offset int64) bool) error {
	rec := startRec
	offset := startOffset
	for {
		if !visit(rec, offset) {
			return nil
		}
		_, parent, ok := TxRefOf(rec, offset)
		if !ok {
			return nil
		}
		if parent == record.NoOffset {
			return nil
		}
		next, err := resolve(parent)
		if err != nil {
			return errors.Wrap(err, "resolve parent record")
		}
		rec = next
		offset = parent
	}
}
