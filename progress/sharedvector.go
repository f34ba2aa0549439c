package progress

// SharedEntry is one entry of two progress vectors' common prefix: the
// last epoch both sides agree was active, and each side's LSN and index
// for it.
type SharedEntry struct {
	Epoch       Entry
	SourceIndex int
	TargetIndex int
	SourceLSN   int64
	TargetLSN   int64
}

// FindSharedVector walks source and target from their tails toward their
// heads and returns the latest epoch present, in order, in both vectors,
// along with each side's LSN at that epoch. The two-pointer merge is
// symmetric in its two arguments: FindSharedVector(a, b) and
// FindSharedVector(b, a) agree on the shared epoch (property 6); only the
// Source/Target LSN labeling swaps.
//
// found is false if the vectors share no epoch at all (e.g. one side was
// never part of the same ring, or both have been trimmed past any overlap).
func FindSharedVector(source, target *Vector) (shared SharedEntry, found bool) {
	i := source.Len() - 1
	j := target.Len() - 1

	for i >= 0 && j >= 0 {
		se := source.At(i)
		te := target.At(j)
		switch se.Epoch.Compare(te.Epoch) {
		case 0:
			return SharedEntry{
				Epoch:       se,
				SourceIndex: i,
				TargetIndex: j,
				SourceLSN:   se.LSN,
				TargetLSN:   te.LSN,
			}, true
		case 1: // source epoch is ahead, advance source
			i--
		default: // target epoch is ahead, advance target
			j--
		}
	}
	return SharedEntry{}, false
}
