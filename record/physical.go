package record

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liftbridge-io/replog/epoch"
)

// IndexingRecord establishes an index point enabling O(1) head-lookup from a
// byte position. current_epoch records the epoch in effect at this point in
// the log so a reader landing here can resolve FindEpoch without scanning
// back through UpdateEpoch records.
type IndexingRecord struct {
	PhysicalHeader
	CurrentEpoch epoch.Epoch
}

func (r *IndexingRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *IndexingRecord) body() []byte {
	b := protowire.AppendVarint(nil, zigzag(r.CurrentEpoch.DataLossVersion))
	b = protowire.AppendVarint(b, zigzag(r.CurrentEpoch.ConfigurationVersion))
	return b
}

// BeginCheckpointRecord opens the first of the three checkpoint phases. It
// references the earliest pending transaction at checkpoint start (by
// offset, NoOffset if none were pending), the progress vector as of
// checkpoint start (serialized), and the last Backup record (or the zero
// backup record if none has ever been taken).
type BeginCheckpointRecord struct {
	PhysicalHeader
	EarliestPendingTransactionOffset int64
	ProgressVectorSnapshot           []byte
	LastBackupRecordOffset           int64
}

func (r *BeginCheckpointRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *BeginCheckpointRecord) body() []byte {
	b := protowire.AppendVarint(nil, zigzag(r.EarliestPendingTransactionOffset))
	b = protowire.AppendVarint(b, zigzag(r.LastBackupRecordOffset))
	b = protowire.AppendBytes(b, r.ProgressVectorSnapshot)
	return b
}

// EndCheckpointRecord closes the second checkpoint phase, referencing the
// BeginCheckpoint record it pairs with.
type EndCheckpointRecord struct {
	PhysicalHeader
	BeginCheckpointOffset int64
}

func (r *EndCheckpointRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *EndCheckpointRecord) body() []byte {
	return protowire.AppendVarint(nil, zigzag(r.BeginCheckpointOffset))
}

// CompleteCheckpointRecord closes the third and final checkpoint phase,
// marking the [head, tail) byte range of log the checkpoint spans.
type CompleteCheckpointRecord struct {
	PhysicalHeader
	HeadPosition int64
	TailPosition int64
}

func (r *CompleteCheckpointRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *CompleteCheckpointRecord) body() []byte {
	b := protowire.AppendVarint(nil, zigzag(r.HeadPosition))
	b = protowire.AppendVarint(b, zigzag(r.TailPosition))
	return b
}

// TruncateHeadRecord durably marks log-head advancement. It references the
// new head Indexing record, which must itself already be flushed.
type TruncateHeadRecord struct {
	PhysicalHeader
	NewHeadIndexingOffset int64
}

func (r *TruncateHeadRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *TruncateHeadRecord) body() []byte {
	return protowire.AppendVarint(nil, zigzag(r.NewHeadIndexingOffset))
}

// TruncateTailRecord durably marks a log-tail rewind, used during
// false-progress resolution.
type TruncateTailRecord struct {
	PhysicalHeader
	NewTailPosition int64
}

func (r *TruncateTailRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *TruncateTailRecord) body() []byte {
	return protowire.AppendVarint(nil, zigzag(r.NewTailPosition))
}

// InformationRecord is a free-text event marker, e.g. "Recovered", "Closed".
type InformationRecord struct {
	PhysicalHeader
	Text string
}

func (r *InformationRecord) Header() *Header { return &r.PhysicalHeader.Header }
func (r *InformationRecord) body() []byte {
	return protowire.AppendString(nil, r.Text)
}
