package progress

import "github.com/liftbridge-io/replog/epoch"

// Mode is the outcome of FindCopyMode.
type Mode int

const (
	ModeNone Mode = iota
	ModePartial
	ModePartialFalseProgress
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModePartial:
		return "Partial"
	case ModePartialFalseProgress:
		return "Partial|FalseProgress"
	case ModeFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// FullReason further classifies a ModeFull result.
type FullReason int

const (
	ReasonNone FullReason = iota
	ReasonOther
	ReasonDataLoss
	ReasonInsufficientLogs
	ReasonProgressVectorTrimmed
	ReasonAtomicRedoOperationFalseProgressed
	ReasonValidationFailed
)

func (r FullReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonOther:
		return "Other"
	case ReasonDataLoss:
		return "DataLoss"
	case ReasonInsufficientLogs:
		return "InsufficientLogs"
	case ReasonProgressVectorTrimmed:
		return "ProgressVectorTrimmed"
	case ReasonAtomicRedoOperationFalseProgressed:
		return "AtomicRedoOperationFalseProgressed"
	case ReasonValidationFailed:
		return "ValidationFailed"
	default:
		return "Unknown"
	}
}

// Context is one side's view of the world at copy-negotiation time.
type Context struct {
	Vector         *Vector
	LogHeadEpoch   epoch.Epoch
	LogHeadLSN     int64
	CurrentTailLSN int64
}

// CopyModeResult is FindCopyMode's deterministic output.
type CopyModeResult struct {
	Mode   Mode
	Reason FullReason

	SharedSourceIndex int
	SharedTargetIndex int

	SourceStartingLSN int64
	TargetStartingLSN int64
}

func full(reason FullReason) CopyModeResult {
	return CopyModeResult{
		Mode:              ModeFull,
		Reason:            reason,
		SharedSourceIndex: -1,
		SharedTargetIndex: -1,
	}
}

// FindCopyMode decides how a target replica should catch up to source:
// not at all (None), by replaying from a starting LSN (Partial), by first
// undoing false-progressed records and then replaying (Partial |
// FalseProgress), or by a full copy of the entire state (Full, with a
// reason). Identical inputs always produce an identical result.
func FindCopyMode(source, target Context, lastRecoveredAtomicRedoLSNOnTarget int64) CopyModeResult {
	shared, found := FindSharedVector(source.Vector, target.Vector)
	if !found {
		return full(ReasonProgressVectorTrimmed)
	}

	sourceEntry := source.Vector.At(shared.SourceIndex)
	targetEntry := target.Vector.At(shared.TargetIndex)
	if sourceEntry.PrimaryReplicaID != targetEntry.PrimaryReplicaID {
		return full(ReasonValidationFailed)
	}

	// Target is at an epoch we cannot resolve against source history at all.
	if target.LogHeadEpoch.IsInvalid() {
		return full(ReasonOther)
	}

	// If source has already truncated its head past the point target would
	// need to resume from, only a full copy can catch target up.
	if source.LogHeadLSN > shared.SourceLSN {
		return full(ReasonInsufficientLogs)
	}

	sourceNext, sourceHasNext := nextEntry(source.Vector, shared.SourceIndex)
	targetNext, targetHasNext := nextEntry(target.Vector, shared.TargetIndex)

	// Source moved on to a new, higher data-loss epoch after the shared
	// point: target's history beyond the shared point cannot be trusted
	// against source's, since a new primary may have been elected after an
	// actual loss of data rather than a clean configuration change.
	dataLoss := sourceHasNext && sourceNext.Epoch.DataLossVersion > sourceEntry.Epoch.DataLossVersion
	if !dataLoss && targetHasNext && targetNext.Epoch.DataLossVersion > targetEntry.Epoch.DataLossVersion {
		dataLoss = true
	}
	if dataLoss {
		return full(ReasonDataLoss)
	}

	sourceStart := nextLSN(sourceNext, sourceHasNext, source.CurrentTailLSN)
	targetStart := nextLSN(targetNext, targetHasNext, target.CurrentTailLSN)

	falseProgressed := targetStart > shared.TargetLSN

	if falseProgressed {
		// Target wrote records past the shared point that source never
		// confirmed. If any of those records are atomic-redo-only (no undo
		// information), the false progress can't be safely unwound.
		if lastRecoveredAtomicRedoLSNOnTarget > shared.TargetLSN {
			return full(ReasonAtomicRedoOperationFalseProgressed)
		}
		return CopyModeResult{
			Mode:              ModePartialFalseProgress,
			SharedSourceIndex: shared.SourceIndex,
			SharedTargetIndex: shared.TargetIndex,
			SourceStartingLSN: sourceStart,
			TargetStartingLSN: targetStart,
		}
	}

	if sourceStart == source.CurrentTailLSN && targetStart == target.CurrentTailLSN && sourceStart == targetStart {
		return CopyModeResult{
			Mode:              ModeNone,
			SharedSourceIndex: shared.SourceIndex,
			SharedTargetIndex: shared.TargetIndex,
			SourceStartingLSN: sourceStart,
			TargetStartingLSN: targetStart,
		}
	}

	return CopyModeResult{
		Mode:              ModePartial,
		SharedSourceIndex: shared.SourceIndex,
		SharedTargetIndex: shared.TargetIndex,
		SourceStartingLSN: sourceStart,
		TargetStartingLSN: targetStart,
	}
}

func nextEntry(v *Vector, sharedIndex int) (Entry, bool) {
	if sharedIndex+1 < v.Len() {
		return v.At(sharedIndex + 1), true
	}
	return Entry{}, false
}

func nextLSN(e Entry, has bool, tail int64) int64 {
	if has {
		return e.LSN
	}
	return tail
}
