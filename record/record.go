// Package record implements the tagged log record model: the logical and
// physical record variants, their header fields, and their on-disk/wire
// serialization.
package record

// Type tags the variant of a Record.
type Type uint8

const (
	// Logical variants, visible to state providers.
	TypeBeginTransaction Type = iota + 1
	TypeOperation
	TypeEndTransaction
	TypeAtomicOperation
	TypeAtomicRedoOperation
	TypeBarrier
	TypeUpdateEpoch
	TypeBackup

	// Physical variants, internal bookkeeping only.
	TypeIndexing
	TypeBeginCheckpoint
	TypeEndCheckpoint
	TypeCompleteCheckpoint
	TypeTruncateHead
	TypeTruncateTail
	TypeInformation
)

// IsLogical reports whether t is a logical (state-provider-visible) variant.
func (t Type) IsLogical() bool {
	return t >= TypeBeginTransaction && t <= TypeBackup
}

// IsPhysical reports whether t is a physical (bookkeeping-only) variant.
func (t Type) IsPhysical() bool {
	return t >= TypeIndexing && t <= TypeInformation
}

// NoOffset marks an unset weak back-reference (prev/linked/parent offset).
const NoOffset int64 = -1

// Header carries the fields common to every record, logical or physical.
type Header struct {
	Type Type
	// LSN is the logical sequence number: monotonic per replica, may repeat
	// across physical-only records.
	LSN int64
	// PSN is the physical sequence number, one per record and monotonic.
	// writer.InsertBufferedRecord assigns it when the record is buffered,
	// starting at 0, so 0 is a valid assigned PSN.
	PSN int64
	// RecordPosition is the byte offset the record was flushed at.
	RecordPosition int64
	// RecordLength is the payload length, framed by a length prefix and
	// suffix so the log is scannable in both directions.
	RecordLength int32
	// PrevPhysicalRecord is a weak back-reference, by byte offset, to the
	// physical record immediately preceding this one. NoOffset if none.
	PrevPhysicalRecord int64
}

// Record is implemented by every logical and physical record variant. It
// intentionally exposes only the header and the variant-specific body bytes:
// callers that need variant fields type-switch on the concrete type, the
// same way the reference implementation distinguishes its small closed set
// of record kinds without a virtual-function tree.
type Record interface {
	Header() *Header
	body() []byte
}

// PhysicalHeader extends Header with the secondary back-pointer chain used
// by recovery and truncation.
type PhysicalHeader struct {
	Header
	// LinkedPhysicalRecord is a weak back-reference, by byte offset, into
	// the secondary list of physical records (e.g. the chain of Indexing
	// records, or of checkpoint records). NoOffset if none.
	LinkedPhysicalRecord int64
}

// TransactionHeader extends Header with the parent-chain back-reference used
// by transactional (Begin/Operation/End) records.
type TransactionHeader struct {
	Header
	TransactionID int64
	// ParentTransactionRecord is a weak back-reference, by byte offset, to
	// the previous record in this transaction's parent chain. NoOffset for
	// the begin record.
	ParentTransactionRecord int64
}
