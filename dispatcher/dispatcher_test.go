package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/record"
)

type fakeProvider struct {
	mu      sync.Mutex
	applied []record.Record
}

func (p *fakeProvider) ApplyAsync(ctx context.Context, rec record.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, rec)
	return nil
}

func (p *fakeProvider) Unlock(rec record.Record) {}

func op(lsn int64) *record.OperationRecord {
	return &record.OperationRecord{TransactionHeader: record.TransactionHeader{Header: record.Header{Type: record.TypeOperation, LSN: lsn}}}
}

func barrierRec(lsn int64) *record.BarrierRecord {
	return &record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier, LSN: lsn}}
}

func TestDispatchedBarrierCountMatchesBarriersDelivered(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Serial)
	ctx := context.Background()

	seq := []record.Record{op(1), op(2), barrierRec(3), op(4), barrierRec(5), barrierRec(6)}
	for _, rec := range seq {
		require.NoError(t, d.Deliver(ctx, rec))
	}

	assert.Equal(t, 3, d.DispatchedBarriers())
	assert.Len(t, p.applied, len(seq))
}

func TestSerialModeAppliesWithinGroupInOrder(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Serial)
	ctx := context.Background()

	for _, rec := range []record.Record{op(1), op(2), op(3), barrierRec(4)} {
		require.NoError(t, d.Deliver(ctx, rec))
	}

	require.Len(t, p.applied, 4)
	assert.Equal(t, int64(1), p.applied[0].Header().LSN)
	assert.Equal(t, int64(2), p.applied[1].Header().LSN)
	assert.Equal(t, int64(3), p.applied[2].Header().LSN)
	assert.Equal(t, int64(4), p.applied[3].Header().LSN)
}

func TestParallelModeGroupFullyAppliedBeforeNextGroupStarts(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Parallel)
	ctx := context.Background()

	group1 := []record.Record{op(1), op(2), op(3)}
	group2 := []record.Record{op(11), op(12)}

	for _, rec := range group1 {
		require.NoError(t, d.Deliver(ctx, rec))
	}
	require.NoError(t, d.Deliver(ctx, barrierRec(4)))
	for _, rec := range group2 {
		require.NoError(t, d.Deliver(ctx, rec))
	}
	require.NoError(t, d.Deliver(ctx, barrierRec(13)))

	require.Len(t, p.applied, 7)
	// Every group-1 LSN must appear before every group-2 LSN, though within
	// a group parallel dispatch doesn't guarantee order.
	maxGroup1Index, minGroup2Index := -1, len(p.applied)
	for i, rec := range p.applied {
		lsn := rec.Header().LSN
		if lsn <= 4 {
			if i > maxGroup1Index {
				maxGroup1Index = i
			}
		} else if i < minGroup2Index {
			minGroup2Index = i
		}
	}
	assert.Less(t, maxGroup1Index, minGroup2Index)
}

func TestDrainAndPauseBlocksNewDeliveriesUntilResumed(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Serial)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, op(1)))
	d.DrainAndPause()

	done := make(chan struct{})
	go func() {
		require.NoError(t, d.Deliver(ctx, barrierRec(2)))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Deliver completed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	d.ContinueDispatch()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver did not resume after ContinueDispatch")
	}
	assert.Equal(t, 1, d.DispatchedBarriers())
}
