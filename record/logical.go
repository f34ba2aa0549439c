package record

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liftbridge-io/replog/epoch"
)

// BeginTransactionRecord starts a transaction. IsSingleOperation marks that
// the transaction is atomic with exactly one operation (it will be followed
// directly by an EndTransaction with no intervening Operation records).
type BeginTransactionRecord struct {
	TransactionHeader
	Metadata, Undo, Redo OperationData
	IsSingleOperation    bool
}

func (r *BeginTransactionRecord) Header() *Header { return &r.TransactionHeader.Header }

func (r *BeginTransactionRecord) body() []byte {
	b := protowire.AppendVarint(nil, uint64(r.TransactionID))
	b = protowire.AppendVarint(b, zigzag(r.ParentTransactionRecord))
	b = append(b, boolByte(r.IsSingleOperation))
	b = append(b, r.Metadata.Serialize()...)
	b = append(b, r.Undo.Serialize()...)
	b = append(b, r.Redo.Serialize()...)
	return b
}

// OperationRecord is an additional operation within an already-open
// transaction.
type OperationRecord struct {
	TransactionHeader
	Metadata, Undo, Redo OperationData
}

func (r *OperationRecord) Header() *Header { return &r.TransactionHeader.Header }

func (r *OperationRecord) body() []byte {
	b := protowire.AppendVarint(nil, uint64(r.TransactionID))
	b = protowire.AppendVarint(b, zigzag(r.ParentTransactionRecord))
	b = append(b, r.Metadata.Serialize()...)
	b = append(b, r.Undo.Serialize()...)
	b = append(b, r.Redo.Serialize()...)
	return b
}

// EndTransactionRecord is a commit or abort marker.
type EndTransactionRecord struct {
	TransactionHeader
	IsCommitted bool
}

func (r *EndTransactionRecord) Header() *Header { return &r.TransactionHeader.Header }

func (r *EndTransactionRecord) body() []byte {
	b := protowire.AppendVarint(nil, uint64(r.TransactionID))
	b = protowire.AppendVarint(b, zigzag(r.ParentTransactionRecord))
	b = append(b, boolByte(r.IsCommitted))
	return b
}

// AtomicOperationRecord is a single-record self-contained transaction: it
// carries its own metadata/undo/redo triple with no begin/end framing.
type AtomicOperationRecord struct {
	Hdr                  Header
	Metadata, Undo, Redo OperationData
}

func (r *AtomicOperationRecord) Header() *Header { return &r.Hdr }
func (r *AtomicOperationRecord) body() []byte {
	b := r.Metadata.Serialize()
	b = append(b, r.Undo.Serialize()...)
	b = append(b, r.Redo.Serialize()...)
	return b
}

// AtomicRedoOperationRecord is an AtomicOperationRecord with no undo
// information: it cannot be rolled back, only replayed forward. This is what
// makes AtomicRedoOperationFalseProgressed an unsafe copy-mode outcome: a
// target that applied one cannot undo it during false-progress resolution.
type AtomicRedoOperationRecord struct {
	Hdr          Header
	Metadata, Redo OperationData
}

func (r *AtomicRedoOperationRecord) Header() *Header { return &r.Hdr }
func (r *AtomicRedoOperationRecord) body() []byte {
	b := r.Metadata.Serialize()
	b = append(b, r.Redo.Serialize()...)
	return b
}

// BarrierRecord is a stability marker partitioning the log into dispatch
// groups (see dispatcher package).
type BarrierRecord struct {
	Hdr                Header
	PreviousBarrierLSN int64
}

func (r *BarrierRecord) Header() *Header { return &r.Hdr }
func (r *BarrierRecord) body() []byte {
	return protowire.AppendVarint(nil, zigzag(r.PreviousBarrierLSN))
}

// UpdateEpochRecord records an epoch transition.
type UpdateEpochRecord struct {
	Hdr              Header
	Epoch            epoch.Epoch
	PrimaryReplicaID int64
}

func (r *UpdateEpochRecord) Header() *Header { return &r.Hdr }
func (r *UpdateEpochRecord) body() []byte {
	b := protowire.AppendVarint(nil, zigzag(r.Epoch.DataLossVersion))
	b = protowire.AppendVarint(b, zigzag(r.Epoch.ConfigurationVersion))
	b = protowire.AppendVarint(b, zigzag(r.PrimaryReplicaID))
	return b
}

// BackupRecord marks a point at which a backup was taken.
type BackupRecord struct {
	Hdr                   Header
	BackupID              string
	HighestBackedUpEpoch  epoch.Epoch
	HighestBackedUpLSN    int64
	Count                 int64
	SizeKB                int64
}

func (r *BackupRecord) Header() *Header { return &r.Hdr }
func (r *BackupRecord) body() []byte {
	b := protowire.AppendString(nil, r.BackupID)
	b = protowire.AppendVarint(b, zigzag(r.HighestBackedUpEpoch.DataLossVersion))
	b = protowire.AppendVarint(b, zigzag(r.HighestBackedUpEpoch.ConfigurationVersion))
	b = protowire.AppendVarint(b, zigzag(r.HighestBackedUpLSN))
	b = protowire.AppendVarint(b, zigzag(r.Count))
	b = protowire.AppendVarint(b, zigzag(r.SizeKB))
	return b
}

// ZeroBackupRecord returns the zero-value Backup record conceptually
// referenced by BeginCheckpointRecord.LastBackupRecordOffset when no backup
// has ever been taken. It is never itself appended to the log; callers must
// represent "no prior backup" with NoOffset, not with the offset of a real
// record, and must resolve NoOffset back to this value rather than to
// whatever record happens to sit at physical offset 0.
func ZeroBackupRecord() *BackupRecord {
	return &BackupRecord{
		Hdr:                  Header{Type: TypeBackup, PrevPhysicalRecord: NoOffset},
		HighestBackedUpEpoch: epoch.Zero,
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// zigzag maps a signed offset (which may be NoOffset == -1) onto an unsigned
// varint without the two's-complement blowup a naive cast would cause.
func zigzag(v int64) uint64 {
	return (uint64(v) << 1) ^ uint64(v>>63)
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
