package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/epoch"
)

func e(dlv, cv, lsn, primary int64) Entry {
	return Entry{Epoch: epoch.Epoch{DataLossVersion: dlv, ConfigurationVersion: cv}, LSN: lsn, PrimaryReplicaID: primary}
}

func TestFindEpochMonotoneAndInvalidBelowHead(t *testing.T) {
	v := New()
	require.NoError(t, v.Append(e(0, 0, 0, 1)))
	require.NoError(t, v.Append(e(1, 1, 700, 2)))
	require.NoError(t, v.Append(e(1, 2, 720, 2)))

	assert.True(t, v.FindEpoch(-1).IsInvalid())
	assert.Equal(t, epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0}, v.FindEpoch(0))
	assert.Equal(t, epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 1}, v.FindEpoch(700))
	assert.Equal(t, epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 1}, v.FindEpoch(719))
	assert.Equal(t, epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 2}, v.FindEpoch(720))
	assert.Equal(t, epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 2}, v.FindEpoch(10000))
}

func TestFindSharedVectorSymmetric(t *testing.T) {
	a := NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2), e(1, 2, 720, 2)})
	b := NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2)})

	ab, foundAB := FindSharedVector(a, b)
	require.True(t, foundAB)
	ba, foundBA := FindSharedVector(b, a)
	require.True(t, foundBA)

	assert.Equal(t, ab.Epoch.Epoch, ba.Epoch.Epoch)
	assert.Equal(t, ab.SourceLSN, ba.TargetLSN)
	assert.Equal(t, ab.TargetLSN, ba.SourceLSN)
	assert.Equal(t, ab.SourceIndex, ba.TargetIndex)
	assert.Equal(t, ab.TargetIndex, ba.SourceIndex)
}

func TestFindSharedVectorNoOverlap(t *testing.T) {
	a := NewFromEntries([]Entry{e(5, 0, 0, 1)})
	b := NewFromEntries([]Entry{e(9, 0, 0, 1)})
	_, found := FindSharedVector(a, b)
	assert.False(t, found)
}

func TestTrimPreservesFindEpochAboveRetainedHead(t *testing.T) {
	v := New()
	for i := int64(0); i < 2000; i++ {
		require.NoError(t, v.Append(e(0, i, i*10, 1)))
	}
	before := v.FindEpoch(19990)
	v.Trim(epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 1990}, epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 1990}, 100)
	assert.True(t, v.Len() >= 100)
	after := v.FindEpoch(19990)
	assert.Equal(t, before, after)
}

// TestFindCopyModeScenarioS5 reproduces the scenario where source has moved
// one configuration ahead of target and target has continued writing past
// the shared point under the stale epoch (false progress).
func TestFindCopyModeScenarioS5(t *testing.T) {
	source := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2), e(1, 2, 720, 2)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 740,
	}
	target := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 730,
	}

	result := FindCopyMode(source, target, -1)
	assert.Equal(t, ModePartialFalseProgress, result.Mode)
	assert.Equal(t, 1, result.SharedSourceIndex)
	assert.Equal(t, 1, result.SharedTargetIndex)
	assert.Equal(t, int64(720), result.SourceStartingLSN)
	assert.Equal(t, int64(730), result.TargetStartingLSN)
}

// TestFindCopyModeScenarioS6 reproduces the scenario where the shared point
// is followed by a higher data-loss version on the source.
func TestFindCopyModeScenarioS6(t *testing.T) {
	source := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2), e(2, 2, 720, 3)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 740,
	}
	target := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 700,
	}

	result := FindCopyMode(source, target, -1)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, ReasonDataLoss, result.Reason)
}

func TestFindCopyModeAtomicRedoFalseProgressIsUnsafe(t *testing.T) {
	source := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2), e(1, 2, 720, 2)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 740,
	}
	target := Context{
		Vector:         NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2)}),
		LogHeadEpoch:   epoch.Epoch{DataLossVersion: 0, ConfigurationVersion: 0},
		LogHeadLSN:     0,
		CurrentTailLSN: 730,
	}

	// An atomic-redo-only record landed at LSN 715, inside the false
	// progressed region (700, 730]; undoing it is unsafe.
	result := FindCopyMode(source, target, 715)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, ReasonAtomicRedoOperationFalseProgressed, result.Reason)
}

func TestFindCopyModeNoSharedEpochIsFull(t *testing.T) {
	source := Context{Vector: NewFromEntries([]Entry{e(5, 0, 0, 1)}), CurrentTailLSN: 10}
	target := Context{Vector: NewFromEntries([]Entry{e(9, 0, 0, 1)}), CurrentTailLSN: 10}

	result := FindCopyMode(source, target, -1)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, ReasonProgressVectorTrimmed, result.Reason)
}

func TestFindCopyModeValidationFailedOnPrimaryMismatch(t *testing.T) {
	source := Context{Vector: NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 2)}), CurrentTailLSN: 700}
	target := Context{Vector: NewFromEntries([]Entry{e(0, 0, 0, 1), e(1, 1, 700, 99)}), CurrentTailLSN: 700}

	result := FindCopyMode(source, target, -1)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, ReasonValidationFailed, result.Reason)
}
