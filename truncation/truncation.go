// Package truncation implements the log truncation manager (C7): a
// threshold-driven policy engine deciding when to index, checkpoint,
// truncate the log head, or throttle producers.
//
// Grounded in the teacher commitLog's threshold-driven
// checkpointHWLoop/cleanerLoop decisions. This package runs no background
// loop and writes no files; github.com/dustin/go-humanize formats the sizes
// in its log messages.
package truncation

import (
	"sync"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/liftbridge-io/replog/internal/logger"
	"github.com/liftbridge-io/replog/txmap"
)

// Config holds the configurable thresholds, all in MB unless noted.
type Config struct {
	CheckpointThresholdMB     int64
	MinLogSizeMB              int64
	TruncationThresholdFactor float64
	ThrottlingThresholdFactor float64
	MaxStreamSizeMB           int64
}

func mb(n int64) int64 { return n * 1 << 20 }

// IndexingRecordRef is the minimal view of an Indexing record candidate the
// manager needs to evaluate as a truncation-head candidate.
type IndexingRecordRef struct {
	Offset      int64
	IsFlushed   bool
	LogUsedMB   int64 // total log bytes in use at the time this index was written
	HeadOffsetMB int64
}

// Manager is the log truncation manager.
type Manager struct {
	mu sync.Mutex

	cfg Config
	log *logger.Logger

	lastIndexOffset    int64
	haveIndex          bool
	bytesSinceLastIndex int64

	checkpointInProgress bool
	bytesSinceCheckpoint int64

	truncateHeadInProgress bool
	logUsedBytes           int64
	headOffsetBytes        int64

	checkpointCompleted chan struct{}
}

// New returns a Manager with cfg.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:                  cfg,
		log:                  logger.New(logrus.StandardLogger(), "truncation"),
		checkpointCompleted: make(chan struct{}),
	}
}

// ObserveFlush records that n additional bytes of log have been durably
// flushed, advancing the manager's notion of log-used size.
func (m *Manager) ObserveFlush(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesSinceLastIndex += n
	m.bytesSinceCheckpoint += n
	m.logUsedBytes += n
}

// ShouldIndex is true when no index exists yet, or the distance since the
// last index exceeds a threshold derived from MinLogSizeMB.
func (m *Manager) ShouldIndex() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveIndex {
		return true
	}
	return m.bytesSinceLastIndex > mb(m.cfg.MinLogSizeMB)
}

// OnIndexed records that an Indexing record was just written at offset.
func (m *Manager) OnIndexed(offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIndexOffset = offset
	m.haveIndex = true
	m.bytesSinceLastIndex = 0
}

// ShouldCheckpointOnPrimary is true when pending-checkpoint size exceeds
// CheckpointThresholdMB and no checkpoint is in flight. abortList is
// populated with old pending transactions to consider aborting to unblock
// the checkpoint, mirroring GetOldTransactions.
func (m *Manager) ShouldCheckpointOnPrimary(txm *txmap.Map, abortList *[]*txmap.Transaction) bool {
	m.mu.Lock()
	should := !m.checkpointInProgress && m.bytesSinceCheckpoint > mb(m.cfg.CheckpointThresholdMB)
	m.mu.Unlock()
	if should && txm != nil && abortList != nil {
		*abortList = m.GetOldTransactions(txm)
	}
	return should
}

// ShouldCheckpointOnSecondary mirrors ShouldCheckpointOnPrimary without the
// abort-candidate side effect.
func (m *Manager) ShouldCheckpointOnSecondary(txm *txmap.Map) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.checkpointInProgress && m.bytesSinceCheckpoint > mb(m.cfg.CheckpointThresholdMB)
}

// StartCheckpoint marks a checkpoint as in flight; at most one may be in
// progress at a time.
func (m *Manager) StartCheckpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointInProgress = true
	m.checkpointCompleted = make(chan struct{})
}

// CompleteCheckpoint clears the in-flight checkpoint and wakes any callers
// blocked in BlockSecondaryPumpIfNeeded.
func (m *Manager) CompleteCheckpoint() {
	m.mu.Lock()
	m.checkpointInProgress = false
	m.bytesSinceCheckpoint = 0
	ch := m.checkpointCompleted
	m.mu.Unlock()
	close(ch)
}

// ShouldTruncateHead is true when the log used beyond the head exceeds
// min_log_size * truncation_threshold_factor, and no head-truncation is
// already in flight.
func (m *Manager) ShouldTruncateHead() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.truncateHeadInProgress {
		return false
	}
	threshold := float64(mb(m.cfg.MinLogSizeMB)) * m.cfg.TruncationThresholdFactor
	used := float64(m.logUsedBytes - m.headOffsetBytes)
	return used > threshold
}

// ShouldBlockOperationsOnPrimary is the throttle signal: true when
// outstanding log use beyond the head exceeds
// min_log_size * throttling_threshold_factor.
func (m *Manager) ShouldBlockOperationsOnPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := float64(mb(m.cfg.MinLogSizeMB)) * m.cfg.ThrottlingThresholdFactor
	used := float64(m.logUsedBytes - m.headOffsetBytes)
	return used > threshold
}

// IsGoodLogHeadCandidate reports whether candidate may become the new log
// head: it must be flushed, lie at least MinLogSizeMB ahead of the head that
// was current when it was written (LogUsedMB - HeadOffsetMB), and leave at
// least MinLogSizeMB of log above it (current log used minus LogUsedMB).
func (m *Manager) IsGoodLogHeadCandidate(candidate IndexingRecordRef) bool {
	if !candidate.IsFlushed {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	minMB := m.cfg.MinLogSizeMB
	belowCandidate := candidate.LogUsedMB - candidate.HeadOffsetMB
	aboveCandidate := (m.logUsedBytes / (1 << 20)) - candidate.LogUsedMB
	return belowCandidate >= minMB && aboveCandidate >= minMB
}

// GoodLogHeadCandidateCalculator returns IsGoodLogHeadCandidate bound to m,
// for use as a callback passed to C6.
func (m *Manager) GoodLogHeadCandidateCalculator() func(IndexingRecordRef) bool {
	return m.IsGoodLogHeadCandidate
}

// StartTruncateHead marks a head-truncation as in flight.
func (m *Manager) StartTruncateHead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncateHeadInProgress = true
}

// CompleteTruncateHeadAsync clears the in-flight head-truncation and
// advances the retained head/log-used accounting.
func (m *Manager) CompleteTruncateHeadAsync(newHeadOffsetBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncateHeadInProgress = false
	m.headOffsetBytes = newHeadOffsetBytes
	m.log.Infof("truncated log head to offset %s", humanize.Bytes(uint64(newHeadOffsetBytes)))
}

// BlockSecondaryPumpIfNeeded blocks until the checkpoint that was in
// progress when this call started completes. It never blocks if no
// checkpoint is currently in progress.
func (m *Manager) BlockSecondaryPumpIfNeeded(lsn int64) {
	m.mu.Lock()
	if !m.checkpointInProgress {
		m.mu.Unlock()
		return
	}
	ch := m.checkpointCompleted
	m.mu.Unlock()
	<-ch
}

// GetOldTransactions returns pending transactions whose begin offset is
// before the current head offset (as last set by CompleteTruncateHeadAsync),
// as abort candidates to unblock truncation.
func (m *Manager) GetOldTransactions(txm *txmap.Map) []*txmap.Transaction {
	m.mu.Lock()
	cutoff := m.headOffsetBytes
	m.mu.Unlock()

	var out []*txmap.Transaction
	txm.GetPendingTransactionsOlderThanPosition(cutoff, &out)
	return out
}
