package record

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liftbridge-io/replog/epoch"
)

// ErrInvalidRecord is returned when decoded bytes fail structural validation:
// a bad tag, a mismatched length prefix/suffix pair, or a truncated buffer.
// Per spec.md §7 this is fatal during recovery — callers must not continue
// with a partially-valid log.
var ErrInvalidRecord = errors.New("record: invalid or corrupt record bytes")

// lengthFieldSize is the width, in bytes, of the fixed-size length prefix and
// suffix framing every record (spec.md §6.1, §6.2: "length(4) | payload |
// length(4)"). A fixed width, rather than a varint, is what makes backward
// scanning (DecodeBackward, prev_physical resolution) possible without an
// index: the reader always knows exactly where the trailing length field
// starts relative to the record's end.
const lengthFieldSize = 4

// Encode frames rec as length(4) | tag | lsn | psn | prev_physical |
// [linked_physical] | body | length(4), matching spec.md §6.1/§6.2. Variable
// length fields inside the body (offsets, epochs, strings) use protobuf wire
// varints/length-delimited encoding via protowire.
func Encode(rec Record) ([]byte, error) {
	hdr := rec.Header()
	inner := []byte{byte(hdr.Type)}
	inner = protowire.AppendVarint(inner, zigzag(hdr.LSN))
	inner = protowire.AppendVarint(inner, zigzag(hdr.PSN))
	inner = protowire.AppendVarint(inner, zigzag(hdr.PrevPhysicalRecord))
	if ph, ok := physicalOf(rec); ok {
		inner = protowire.AppendVarint(inner, zigzag(ph.LinkedPhysicalRecord))
	}
	inner = append(inner, rec.body()...)

	if uint64(len(inner)) > 0xFFFFFFFF {
		return nil, errors.New("record: payload too large to frame")
	}
	length := uint32(len(inner))
	out := make([]byte, lengthFieldSize, lengthFieldSize+len(inner)+lengthFieldSize)
	binary.BigEndian.PutUint32(out, length)
	out = append(out, inner...)
	suffix := make([]byte, lengthFieldSize)
	binary.BigEndian.PutUint32(suffix, length)
	out = append(out, suffix...)
	return out, nil
}

// physicalOf reports whether rec carries a PhysicalHeader and, if so, returns
// it so Encode/Decode can frame the extra linked_physical_record pointer.
func physicalOf(rec Record) (*PhysicalHeader, bool) {
	switch r := rec.(type) {
	case *IndexingRecord:
		return &r.PhysicalHeader, true
	case *BeginCheckpointRecord:
		return &r.PhysicalHeader, true
	case *EndCheckpointRecord:
		return &r.PhysicalHeader, true
	case *CompleteCheckpointRecord:
		return &r.PhysicalHeader, true
	case *TruncateHeadRecord:
		return &r.PhysicalHeader, true
	case *TruncateTailRecord:
		return &r.PhysicalHeader, true
	case *InformationRecord:
		return &r.PhysicalHeader, true
	default:
		return nil, false
	}
}

// Decode reads one framed record from the front of b, returning the record
// and the number of bytes consumed.
func Decode(b []byte) (Record, int, error) {
	if len(b) < lengthFieldSize {
		return nil, 0, ErrInvalidRecord
	}
	length := binary.BigEndian.Uint32(b)
	b = b[lengthFieldSize:]
	if uint64(len(b)) < uint64(length)+lengthFieldSize {
		return nil, 0, ErrInvalidRecord
	}
	inner := b[:length]
	suffix := binary.BigEndian.Uint32(b[length : length+lengthFieldSize])
	if suffix != length {
		return nil, 0, ErrInvalidRecord
	}

	rec, err := decodeInner(inner)
	if err != nil {
		return nil, 0, err
	}
	return rec, lengthFieldSize + int(length) + lengthFieldSize, nil
}

// DecodeBackward reads one framed record whose trailing length suffix ends
// at offset end within b, returning the record and its starting offset. This
// is how prev_physical back-references are resolved without a forward
// index: scanning tail-to-head only ever needs the fixed-width suffix.
func DecodeBackward(b []byte, end int) (Record, int, error) {
	if end < lengthFieldSize || end > len(b) {
		return nil, 0, ErrInvalidRecord
	}
	length := binary.BigEndian.Uint32(b[end-lengthFieldSize : end])
	start := end - lengthFieldSize - int(length) - lengthFieldSize
	if start < 0 {
		return nil, 0, ErrInvalidRecord
	}
	rec, consumed, err := Decode(b[start:end])
	if err != nil {
		return nil, 0, err
	}
	if start+consumed != end {
		return nil, 0, ErrInvalidRecord
	}
	return rec, start, nil
}

func decodeInner(inner []byte) (Record, error) {
	if len(inner) < 1 {
		return nil, ErrInvalidRecord
	}
	typ := Type(inner[0])
	inner = inner[1:]

	lsnz, n := protowire.ConsumeVarint(inner)
	if n < 0 {
		return nil, ErrInvalidRecord
	}
	inner = inner[n:]
	psnz, n := protowire.ConsumeVarint(inner)
	if n < 0 {
		return nil, ErrInvalidRecord
	}
	inner = inner[n:]
	prevz, n := protowire.ConsumeVarint(inner)
	if n < 0 {
		return nil, ErrInvalidRecord
	}
	inner = inner[n:]

	hdr := Header{
		Type:               typ,
		LSN:                unzigzag(lsnz),
		PSN:                unzigzag(psnz),
		PrevPhysicalRecord: unzigzag(prevz),
	}

	var linked int64 = NoOffset
	if typ.IsPhysical() {
		lz, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		linked = unzigzag(lz)
	}

	switch typ {
	case TypeBeginTransaction:
		txID, parent, rest, err := consumeTxPrefix(inner)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, ErrInvalidRecord
		}
		single := rest[0] != 0
		rest = rest[1:]
		md, undo, redo, _, err := consumeTriple(rest)
		if err != nil {
			return nil, err
		}
		return &BeginTransactionRecord{
			TransactionHeader: TransactionHeader{Header: hdr, TransactionID: txID, ParentTransactionRecord: parent},
			Metadata:          md, Undo: undo, Redo: redo,
			IsSingleOperation: single,
		}, nil
	case TypeOperation:
		txID, parent, rest, err := consumeTxPrefix(inner)
		if err != nil {
			return nil, err
		}
		md, undo, redo, _, err := consumeTriple(rest)
		if err != nil {
			return nil, err
		}
		return &OperationRecord{
			TransactionHeader: TransactionHeader{Header: hdr, TransactionID: txID, ParentTransactionRecord: parent},
			Metadata:          md, Undo: undo, Redo: redo,
		}, nil
	case TypeEndTransaction:
		txID, parent, rest, err := consumeTxPrefix(inner)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, ErrInvalidRecord
		}
		return &EndTransactionRecord{
			TransactionHeader: TransactionHeader{Header: hdr, TransactionID: txID, ParentTransactionRecord: parent},
			IsCommitted:       rest[0] != 0,
		}, nil
	case TypeAtomicOperation:
		md, undo, redo, _, err := consumeTriple(inner)
		if err != nil {
			return nil, err
		}
		return &AtomicOperationRecord{Hdr: hdr, Metadata: md, Undo: undo, Redo: redo}, nil
	case TypeAtomicRedoOperation:
		md, n1, err := DeserializeOperationData(inner)
		if err != nil {
			return nil, err
		}
		redo, _, err := DeserializeOperationData(inner[n1:])
		if err != nil {
			return nil, err
		}
		return &AtomicRedoOperationRecord{Hdr: hdr, Metadata: md, Redo: redo}, nil
	case TypeBarrier:
		v, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &BarrierRecord{Hdr: hdr, PreviousBarrierLSN: unzigzag(v)}, nil
	case TypeUpdateEpoch:
		dl, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		cv, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		pr, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &UpdateEpochRecord{
			Hdr:              hdr,
			Epoch:            epoch.Epoch{DataLossVersion: unzigzag(dl), ConfigurationVersion: unzigzag(cv)},
			PrimaryReplicaID: unzigzag(pr),
		}, nil
	case TypeBackup:
		id, n := protowire.ConsumeString(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		dl, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		cv, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		lsn, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		count, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		size, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &BackupRecord{
			Hdr:                  hdr,
			BackupID:             id,
			HighestBackedUpEpoch: epoch.Epoch{DataLossVersion: unzigzag(dl), ConfigurationVersion: unzigzag(cv)},
			HighestBackedUpLSN:   unzigzag(lsn),
			Count:                unzigzag(count),
			SizeKB:               unzigzag(size),
		}, nil
	case TypeIndexing:
		dl, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		cv, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &IndexingRecord{
			PhysicalHeader: PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			CurrentEpoch:   epoch.Epoch{DataLossVersion: unzigzag(dl), ConfigurationVersion: unzigzag(cv)},
		}, nil
	case TypeBeginCheckpoint:
		ep, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		lb, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		pv, n := protowire.ConsumeBytes(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &BeginCheckpointRecord{
			PhysicalHeader:                   PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			EarliestPendingTransactionOffset: unzigzag(ep),
			LastBackupRecordOffset:           unzigzag(lb),
			ProgressVectorSnapshot:           append([]byte(nil), pv...),
		}, nil
	case TypeEndCheckpoint:
		v, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &EndCheckpointRecord{
			PhysicalHeader:        PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			BeginCheckpointOffset: unzigzag(v),
		}, nil
	case TypeCompleteCheckpoint:
		head, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		inner = inner[n:]
		tail, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &CompleteCheckpointRecord{
			PhysicalHeader: PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			HeadPosition:   unzigzag(head),
			TailPosition:   unzigzag(tail),
		}, nil
	case TypeTruncateHead:
		v, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &TruncateHeadRecord{
			PhysicalHeader:        PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			NewHeadIndexingOffset: unzigzag(v),
		}, nil
	case TypeTruncateTail:
		v, n := protowire.ConsumeVarint(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &TruncateTailRecord{
			PhysicalHeader:  PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			NewTailPosition: unzigzag(v),
		}, nil
	case TypeInformation:
		text, n := protowire.ConsumeString(inner)
		if n < 0 {
			return nil, ErrInvalidRecord
		}
		return &InformationRecord{
			PhysicalHeader: PhysicalHeader{Header: hdr, LinkedPhysicalRecord: linked},
			Text:           text,
		}, nil
	default:
		return nil, ErrInvalidRecord
	}
}

func consumeTxPrefix(b []byte) (txID, parent int64, rest []byte, err error) {
	idz, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, nil, ErrInvalidRecord
	}
	b = b[n:]
	pz, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, nil, ErrInvalidRecord
	}
	b = b[n:]
	return int64(idz), unzigzag(pz), b, nil
}

func consumeTriple(b []byte) (md, undo, redo OperationData, consumed int, err error) {
	md, n1, e := DeserializeOperationData(b)
	if e != nil {
		return OperationData{}, OperationData{}, OperationData{}, 0, e
	}
	undo, n2, e := DeserializeOperationData(b[n1:])
	if e != nil {
		return OperationData{}, OperationData{}, OperationData{}, 0, e
	}
	redo, n3, e := DeserializeOperationData(b[n1+n2:])
	if e != nil {
		return OperationData{}, OperationData{}, OperationData{}, 0, e
	}
	return md, undo, redo, n1 + n2 + n3, nil
}
