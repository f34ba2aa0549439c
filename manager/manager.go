// Package manager implements the replicated log manager (C6): it assigns
// LSNs, routes records to the transaction map and physical log writer, and
// coordinates the three-phase checkpoint and head-truncation protocols.
//
// Grounded in the teacher fsm.go's role as the single orchestration point
// sitting above the lower-level commit log and index.
package manager

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/liftbridge-io/replog/epoch"
	"github.com/liftbridge-io/replog/record"
	"github.com/liftbridge-io/replog/txmap"
	"github.com/liftbridge-io/replog/writer"
)

var (
	// ErrCheckpointInProgress is returned when a second checkpoint is
	// attempted while one is already in flight.
	ErrCheckpointInProgress = errors.New("manager: checkpoint already in progress")

	// ErrTruncateHeadInProgress is returned when a second head-truncation
	// is attempted while one is already in flight.
	ErrTruncateHeadInProgress = errors.New("manager: head truncation already in progress")

	// ErrNoInProgressCheckpoint is returned by EndCheckpoint/CompleteCheckpoint
	// when no BeginCheckpoint is outstanding.
	ErrNoInProgressCheckpoint = errors.New("manager: no checkpoint in progress")
)

// Manager is the replicated log manager.
type Manager struct {
	mu sync.Mutex

	w  *writer.Writer
	tx *txmap.Map

	nextLSN int64

	lastInProgressCheckpoint       *record.BeginCheckpointRecord
	lastInProgressCheckpointOffset int64
	truncateHeadInProgress         bool
}

// New returns a Manager assigning LSNs starting at startLSN, writing
// through w and tracking transactional records in tx.
func New(w *writer.Writer, tx *txmap.Map, startLSN int64) *Manager {
	return &Manager{w: w, tx: tx, nextLSN: startLSN}
}

// ReplicateAndLog assigns rec the next LSN, routes it through the
// transaction map if it is transactional, and submits it to the physical
// log writer. It returns the buffered-record-bytes size after insertion.
func (m *Manager) ReplicateAndLog(rec record.Record) (int64, error) {
	m.mu.Lock()
	lsn := m.nextLSN
	m.nextLSN++
	m.mu.Unlock()

	rec.Header().LSN = lsn

	// Assign rec's PSN before routing it through the transaction map: the
	// map indexes transactions by record position (BeginOffset/LatestOffset),
	// and InsertBufferedRecord is what stamps Header().PSN.
	m.w.InsertBufferedRecord(rec)

	if err := m.routeThroughTxMap(rec); err != nil {
		return 0, err
	}

	return m.w.BufferedRecordBytes(), nil
}

func (m *Manager) routeThroughTxMap(rec record.Record) error {
	switch r := rec.(type) {
	case *record.BeginTransactionRecord:
		return m.tx.CreateTransaction(r, int64(r.PSN))
	case *record.OperationRecord:
		return m.tx.AddOperation(r, int64(r.PSN))
	case *record.EndTransactionRecord:
		return m.tx.CompleteTransaction(r, int64(r.PSN))
	default:
		return nil
	}
}

// Information appends an Information record of kind text.
func (m *Manager) Information(text string) (int64, error) {
	return m.ReplicateAndLog(&record.InformationRecord{
		PhysicalHeader: record.PhysicalHeader{Header: record.Header{Type: record.TypeInformation}, LinkedPhysicalRecord: record.NoOffset},
		Text:           text,
	})
}

// ShouldIndex reports whether an Indexing record should be appended, per a
// caller-supplied policy hook (C7).
type ShouldIndex func() bool

// Index appends an Indexing record stamped with currentEpoch if
// shouldIndex() is true, so a reader landing on it can resolve FindEpoch
// without scanning back through UpdateEpoch records (§3.1).
func (m *Manager) Index(shouldIndex ShouldIndex, currentEpoch epoch.Epoch) (bool, error) {
	if !shouldIndex() {
		return false, nil
	}
	_, err := m.ReplicateAndLog(&record.IndexingRecord{
		PhysicalHeader: record.PhysicalHeader{Header: record.Header{Type: record.TypeIndexing}, LinkedPhysicalRecord: record.NoOffset},
		CurrentEpoch:   currentEpoch,
	})
	return err == nil, err
}

// InsertBeginCheckpoint opens a checkpoint. At most one checkpoint may be in
// progress at a time.
//
// lastBackupOffset must be the PSN of the most recent BackupRecord flushed
// to the log, or record.NoOffset if no backup has ever been taken for this
// replica. record.NoOffset is the only valid way to express "no backup yet"
// (record.ZeroBackupRecord's conceptual offset): offset 0 is itself a valid
// physical position for a genuine first record, so it must never be reused
// to mean "none" — callers resolving LastBackupRecordOffset back into a
// record must treat NoOffset as ZeroBackupRecord() rather than looking up
// offset 0 in the log.
func (m *Manager) InsertBeginCheckpoint(earliestPendingOffset, lastBackupOffset int64, progressVectorSnapshot []byte) (*record.BeginCheckpointRecord, error) {
	m.mu.Lock()
	if m.lastInProgressCheckpoint != nil {
		m.mu.Unlock()
		return nil, ErrCheckpointInProgress
	}
	m.mu.Unlock()

	rec := &record.BeginCheckpointRecord{
		PhysicalHeader:                    record.PhysicalHeader{Header: record.Header{Type: record.TypeBeginCheckpoint}, LinkedPhysicalRecord: record.NoOffset},
		EarliestPendingTransactionOffset: earliestPendingOffset,
		LastBackupRecordOffset:           lastBackupOffset,
		ProgressVectorSnapshot:           progressVectorSnapshot,
	}
	if _, err := m.ReplicateAndLog(rec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastInProgressCheckpoint = rec
	m.lastInProgressCheckpointOffset = int64(rec.PSN)
	m.mu.Unlock()
	return rec, nil
}

// EndCheckpoint closes the second checkpoint phase.
func (m *Manager) EndCheckpoint() (*record.EndCheckpointRecord, error) {
	m.mu.Lock()
	if m.lastInProgressCheckpoint == nil {
		m.mu.Unlock()
		return nil, ErrNoInProgressCheckpoint
	}
	beginOffset := m.lastInProgressCheckpointOffset
	m.mu.Unlock()

	rec := &record.EndCheckpointRecord{
		PhysicalHeader:        record.PhysicalHeader{Header: record.Header{Type: record.TypeEndCheckpoint}, LinkedPhysicalRecord: record.NoOffset},
		BeginCheckpointOffset: beginOffset,
	}
	if _, err := m.ReplicateAndLog(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CompleteCheckpoint closes the third and final checkpoint phase and clears
// the in-progress marker.
func (m *Manager) CompleteCheckpoint(headPosition, tailPosition int64) (*record.CompleteCheckpointRecord, error) {
	m.mu.Lock()
	if m.lastInProgressCheckpoint == nil {
		m.mu.Unlock()
		return nil, ErrNoInProgressCheckpoint
	}
	m.mu.Unlock()

	rec := &record.CompleteCheckpointRecord{
		PhysicalHeader: record.PhysicalHeader{Header: record.Header{Type: record.TypeCompleteCheckpoint}, LinkedPhysicalRecord: record.NoOffset},
		HeadPosition:   headPosition,
		TailPosition:   tailPosition,
	}
	if _, err := m.ReplicateAndLog(rec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastInProgressCheckpoint = nil
	m.lastInProgressCheckpointOffset = 0
	m.mu.Unlock()
	return rec, nil
}

// InsertTruncateHeadCallerHoldsLock appends a TruncateHead record
// referencing head. Caller must already hold whatever external lock
// serializes concurrent truncation attempts; this only guards the
// in-progress marker.
func (m *Manager) InsertTruncateHeadCallerHoldsLock(head *record.IndexingRecord) (*record.TruncateHeadRecord, error) {
	m.mu.Lock()
	if m.truncateHeadInProgress {
		m.mu.Unlock()
		return nil, ErrTruncateHeadInProgress
	}
	m.truncateHeadInProgress = true
	m.mu.Unlock()

	rec := &record.TruncateHeadRecord{
		PhysicalHeader:        record.PhysicalHeader{Header: record.Header{Type: record.TypeTruncateHead}, LinkedPhysicalRecord: record.NoOffset},
		NewHeadIndexingOffset: int64(head.PSN),
	}
	if _, err := m.ReplicateAndLog(rec); err != nil {
		m.mu.Lock()
		m.truncateHeadInProgress = false
		m.mu.Unlock()
		return nil, err
	}
	return rec, nil
}

// OnCompletePendingLogHeadTruncation clears the in-progress head-truncation
// marker once the underlying log has durably advanced its head.
func (m *Manager) OnCompletePendingLogHeadTruncation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncateHeadInProgress = false
}

// NextLSN returns the LSN that will be assigned to the next record,
// primarily for tests and diagnostics.
func (m *Manager) NextLSN() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}
