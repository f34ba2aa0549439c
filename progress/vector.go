// Package progress implements the progress vector: the append-only history
// of epoch transitions a replica has observed, and the algorithms that use
// two progress vectors to negotiate a copy between a source and a target
// replica.
package progress

import (
	"github.com/pkg/errors"

	"github.com/liftbridge-io/replog/epoch"
)

// DefaultMinTrimLength is the minimum number of entries retained by Trim
// when not otherwise configured (spec.md §3.3: "default ~1000 entries").
const DefaultMinTrimLength = 1000

// ErrEmptyVector is returned by operations that require at least one entry.
var ErrEmptyVector = errors.New("progress: vector has no entries")

// Entry is a single progress-vector entry: the epoch that took effect at LSN,
// who the primary was, and when.
type Entry struct {
	Epoch            epoch.Epoch
	LSN              int64
	PrimaryReplicaID int64
	Timestamp        int64
}

// Vector is an append-only, strictly epoch-ordered sequence of entries.
type Vector struct {
	entries []Entry
}

// New returns an empty progress vector.
func New() *Vector {
	return &Vector{}
}

// NewFromEntries builds a vector from entries already known to be in strict
// epoch order (e.g. recovered from a BeginCheckpoint snapshot). It does not
// re-validate ordering; use Append for that.
func NewFromEntries(entries []Entry) *Vector {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Vector{entries: cp}
}

// Len returns the number of entries currently retained.
func (v *Vector) Len() int {
	return len(v.entries)
}

// Entries returns a defensive copy of the retained entries, oldest first.
func (v *Vector) Entries() []Entry {
	cp := make([]Entry, len(v.entries))
	copy(cp, v.entries)
	return cp
}

// At returns the entry at index i.
func (v *Vector) At(i int) Entry {
	return v.entries[i]
}

// Last returns the most recently appended entry.
func (v *Vector) Last() (Entry, bool) {
	if len(v.entries) == 0 {
		return Entry{}, false
	}
	return v.entries[len(v.entries)-1], true
}

// Append adds e to the vector. e.Epoch must be strictly later than the
// current last entry's epoch; ErrOutOfOrder otherwise.
var ErrOutOfOrder = errors.New("progress: entry epoch is not strictly later than the vector's current tail")

func (v *Vector) Append(e Entry) error {
	if last, ok := v.Last(); ok && !last.Epoch.Less(e.Epoch) {
		return ErrOutOfOrder
	}
	v.entries = append(v.entries, e)
	return nil
}

// FindEpoch returns the epoch under which lsn was written: the latest entry
// with entry.LSN <= lsn. If ties exist (multiple UpdateEpoch records stamped
// at the same LSN, e.g. a physical-only record that repeats the previous
// LSN), the later entry wins — this is the observed behavior the reference
// suite records and spec.md §9 calls out as a confirmed, not guessed,
// tie-break rule. If lsn precedes every retained entry, epoch.Invalid is
// returned.
func (v *Vector) FindEpoch(lsn int64) epoch.Epoch {
	for i := len(v.entries) - 1; i >= 0; i-- {
		if v.entries[i].LSN <= lsn {
			return v.entries[i].Epoch
		}
	}
	return epoch.Invalid
}

// Trim drops entries strictly older than both headEpoch and
// lastBackedUpEpoch while retaining at least minLen entries (or all entries,
// if fewer than minLen exist). Per spec.md §3.3, trimming never changes
// FindEpoch's answer for any lsn at or above the retained head's LSN.
func (v *Vector) Trim(headEpoch, lastBackedUpEpoch epoch.Epoch, minLen int) {
	if minLen <= 0 {
		minLen = DefaultMinTrimLength
	}
	if len(v.entries) <= minLen {
		return
	}
	cutoff := headEpoch
	if lastBackedUpEpoch.Less(cutoff) {
		cutoff = lastBackedUpEpoch
	}
	// Find the earliest index we must keep: the latest entry whose epoch is
	// still <= cutoff (so FindEpoch(lsn) for lsn under that epoch keeps
	// working), then everything after it.
	keepFrom := 0
	for i := len(v.entries) - 1; i >= 0; i-- {
		if !cutoff.Less(v.entries[i].Epoch) {
			keepFrom = i
			break
		}
	}
	// Never trim below minLen entries.
	if len(v.entries)-keepFrom < minLen {
		keepFrom = len(v.entries) - minLen
		if keepFrom < 0 {
			keepFrom = 0
		}
	}
	if keepFrom == 0 {
		return
	}
	remaining := make([]Entry, len(v.entries)-keepFrom)
	copy(remaining, v.entries[keepFrom:])
	v.entries = remaining
}

// Clone returns an independent copy of v.
func (v *Vector) Clone() *Vector {
	return NewFromEntries(v.entries)
}
