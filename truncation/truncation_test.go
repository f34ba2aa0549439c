package truncation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/txmap"
)

func testConfig() Config {
	return Config{
		CheckpointThresholdMB:     10,
		MinLogSizeMB:              5,
		TruncationThresholdFactor: 2,
		ThrottlingThresholdFactor: 3,
		MaxStreamSizeMB:           1000,
	}
}

func TestShouldIndexTrueUntilFirstIndex(t *testing.T) {
	m := New(testConfig())
	assert.True(t, m.ShouldIndex())
	m.OnIndexed(0)
	assert.False(t, m.ShouldIndex())

	m.ObserveFlush(mb(6))
	assert.True(t, m.ShouldIndex())
}

func TestShouldCheckpointOnPrimary(t *testing.T) {
	m := New(testConfig())
	txm := txmap.New()

	assert.False(t, m.ShouldCheckpointOnPrimary(txm, nil))
	m.ObserveFlush(mb(11))
	assert.True(t, m.ShouldCheckpointOnPrimary(txm, nil))

	m.StartCheckpoint()
	assert.False(t, m.ShouldCheckpointOnPrimary(txm, nil))
	m.CompleteCheckpoint()
	assert.False(t, m.ShouldCheckpointOnPrimary(txm, nil))
}

// TestShouldTruncateHeadImpliesMinRetainedLog reproduces property 8:
// should_truncate_head implies accepting the candidate still leaves at
// least min_log_size_mb of retained log.
func TestShouldTruncateHeadImpliesMinRetainedLog(t *testing.T) {
	cfg := testConfig()
	m := New(cfg)
	m.ObserveFlush(mb(12)) // 12MB used, 0 head offset: 12 > 5*2=10

	require.True(t, m.ShouldTruncateHead())

	// A candidate that would retain at least MinLogSizeMB below the new
	// head is acceptable.
	candidate := IndexingRecordRef{IsFlushed: true, LogUsedMB: 6, HeadOffsetMB: 0}
	require.True(t, m.IsGoodLogHeadCandidate(candidate))

	m.StartTruncateHead()
	m.CompleteTruncateHeadAsync(mb(6))

	retained := m.logUsedBytes - m.headOffsetBytes
	assert.GreaterOrEqual(t, retained, mb(cfg.MinLogSizeMB))
}

// TestTruncateHeadClearsThrottleSignal reproduces property 9:
// should_block_operations_on_primary becomes false after
// start_truncate_head + complete_truncate_head_async, absent other
// pressure.
func TestTruncateHeadClearsThrottleSignal(t *testing.T) {
	cfg := testConfig()
	m := New(cfg)
	m.ObserveFlush(mb(20)) // 20 > 5*3=15: throttle signal should be on

	require.True(t, m.ShouldBlockOperationsOnPrimary())

	m.StartTruncateHead()
	m.CompleteTruncateHeadAsync(mb(18)) // leaves only 2MB of gap

	assert.False(t, m.ShouldBlockOperationsOnPrimary())
}

func TestBlockSecondaryPumpIfNeededUnblocksOnCheckpointComplete(t *testing.T) {
	m := New(testConfig())

	// No checkpoint in progress: must not block.
	done := make(chan struct{})
	go func() {
		m.BlockSecondaryPumpIfNeeded(100)
		close(done)
	}()
	<-done

	m.StartCheckpoint()
	done2 := make(chan struct{})
	go func() {
		m.BlockSecondaryPumpIfNeeded(100)
		close(done2)
	}()

	select {
	case <-done2:
		t.Fatal("BlockSecondaryPumpIfNeeded returned before checkpoint completed")
	default:
	}

	m.CompleteCheckpoint()
	<-done2
}
