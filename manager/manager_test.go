package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/memlog"
	"github.com/liftbridge-io/replog/record"
	"github.com/liftbridge-io/replog/txmap"
	"github.com/liftbridge-io/replog/writer"
)

func newTestManager(t *testing.T) (*Manager, *writer.Writer) {
	log := memlog.New(memlog.DefaultChunkSize)
	w := writer.New(log, func(rec record.Record, psn int64, err error) {
		require.NoError(t, err)
	})
	tx := txmap.New()
	return New(w, tx, 1), w
}

func TestReplicateAndLogAssignsStrictlyIncreasingLSNs(t *testing.T) {
	m, _ := newTestManager(t)

	var lsns []int64
	for i := 0; i < 5; i++ {
		rec := &record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier}}
		_, err := m.ReplicateAndLog(rec)
		require.NoError(t, err)
		lsns = append(lsns, rec.Header().LSN)
	}
	for i := 1; i < len(lsns); i++ {
		assert.Greater(t, lsns[i], lsns[i-1])
	}
}

func TestOnlyOneCheckpointInProgressAtATime(t *testing.T) {
	m, w := newTestManager(t)

	_, err := m.InsertBeginCheckpoint(record.NoOffset, record.NoOffset, nil)
	require.NoError(t, err)

	_, err = m.InsertBeginCheckpoint(record.NoOffset, record.NoOffset, nil)
	assert.ErrorIs(t, err, ErrCheckpointInProgress)

	_, err = m.EndCheckpoint()
	require.NoError(t, err)
	_, err = m.CompleteCheckpoint(0, 100)
	require.NoError(t, err)

	require.NoError(t, w.FlushAsync("test").Wait())

	_, err = m.InsertBeginCheckpoint(record.NoOffset, record.NoOffset, nil)
	assert.NoError(t, err)
}

func TestOnlyOneTruncateHeadInProgressAtATime(t *testing.T) {
	m, _ := newTestManager(t)
	idx := &record.IndexingRecord{PhysicalHeader: record.PhysicalHeader{Header: record.Header{Type: record.TypeIndexing, PSN: 5}}}

	_, err := m.InsertTruncateHeadCallerHoldsLock(idx)
	require.NoError(t, err)

	_, err = m.InsertTruncateHeadCallerHoldsLock(idx)
	assert.ErrorIs(t, err, ErrTruncateHeadInProgress)

	m.OnCompletePendingLogHeadTruncation()
	_, err = m.InsertTruncateHeadCallerHoldsLock(idx)
	assert.NoError(t, err)
}

func TestBeginCheckpointWithNoPriorBackupUsesNoOffsetNotZero(t *testing.T) {
	m, _ := newTestManager(t)

	// Log a real record first, so a genuine record does sit at physical
	// offset 0: LastBackupRecordOffset must still come back as NoOffset
	// rather than aliasing that record.
	first := &record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier}}
	_, err := m.ReplicateAndLog(first)
	require.NoError(t, err)
	require.Zero(t, first.Header().PSN)

	rec, err := m.InsertBeginCheckpoint(record.NoOffset, record.NoOffset, nil)
	require.NoError(t, err)
	assert.Equal(t, record.NoOffset, rec.LastBackupRecordOffset)
	assert.NotEqual(t, first.Header().PSN, rec.LastBackupRecordOffset)
}

func TestTransactionalRecordsRouteThroughTxMap(t *testing.T) {
	m, w := newTestManager(t)

	// Log a couple of non-transactional records first so the transaction's
	// eventual PSN is not coincidentally 0.
	_, err := m.ReplicateAndLog(&record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier}})
	require.NoError(t, err)
	_, err = m.ReplicateAndLog(&record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier}})
	require.NoError(t, err)

	begin := &record.BeginTransactionRecord{
		TransactionHeader: record.TransactionHeader{
			Header:                  record.Header{Type: record.TypeBeginTransaction},
			TransactionID:           1,
			ParentTransactionRecord: record.NoOffset,
		},
	}
	_, err = m.ReplicateAndLog(begin)
	require.NoError(t, err)

	tx, ok, _ := m.tx.GetEarliestPendingTransaction(nil)
	require.True(t, ok)
	assert.Equal(t, int64(1), tx.ID)
	// The PSN the writer actually assigned to begin, not its zero value,
	// must have been threaded through to the transaction map.
	assert.Equal(t, begin.Header().PSN, tx.BeginOffset)
	assert.NotZero(t, tx.BeginOffset)

	end := &record.EndTransactionRecord{
		TransactionHeader: record.TransactionHeader{
			Header:                  record.Header{Type: record.TypeEndTransaction},
			TransactionID:           1,
			ParentTransactionRecord: 0,
		},
		IsCommitted: true,
	}
	_, err = m.ReplicateAndLog(end)
	require.NoError(t, err)

	_, ok, _ = m.tx.GetEarliestPendingTransaction(nil)
	assert.False(t, ok)

	require.NoError(t, w.FlushAsync("test").Wait())
}
