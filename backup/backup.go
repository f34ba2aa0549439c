// Package backup implements the backup log file (C9): a self-contained,
// checksum-validated snapshot of a contiguous LSN range of logical records,
// suitable for off-box storage and later restore.
//
// File layout:
//
//	[Header:     magic(8) | version(4) | partition_id(16) | replica_id(8)]
//	[Records:    repeated (length(4) | serialized_record | length(4))]
//	[Properties: version(4) | property_count(4) | properties...]
//	[Footer:     properties_offset(8) | properties_size(8) | crc32(4)]
//
// The properties block is a self-describing list of (id, size, value)
// properties, the same externally-visible framing as the original backup
// properties file: each property is tagged with its id and size so a reader
// can skip properties it doesn't recognize. With six properties at their
// natural fixed widths this lands at exactly 130 bytes for an otherwise
// empty backup, matching the original implementation's own serialization
// test (BackupLogFileProperties.Test.cpp: "WriteHandle->Size == 130").
//
// Atomic durability on write is grounded in the teacher's use of
// github.com/natefinch/atomic for its high-watermark checkpoint file.
package backup

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/replog/epoch"
	"github.com/liftbridge-io/replog/record"
)

// Magic identifies a backup log file.
var Magic = [8]byte{'R', 'E', 'P', 'L', 'O', 'G', 'B', 'K'}

// Version is the on-disk format version written by this package.
const Version = uint32(1)

// HeaderSize, PropertiesSize, and FooterSize are the fixed-width block
// sizes this package writes; they are testable invariants (spec.md §8
// property 3 / scenario S4). PropertiesSize is a bit-exact external
// contract, not a free invariant: spec.md §6.2/S4 and the original
// implementation's own serialization test both fix it at 130 bytes for an
// otherwise-empty backup. It is reconstructed here as:
//
//	propertyHeaderSize (version(4) + property_count(4))        =   8
//	6 properties, each framed as id(1) + size(8) + value:
//	  Count             1+8+4  = 13
//	  IndexingRecordEpoch (two int64s)   1+8+16 = 25
//	  IndexingRecordLSN   1+8+8  = 17
//	  LastBackedUpEpoch (two int64s)     1+8+16 = 25
//	  LastBackedUpLSN     1+8+8  = 17
//	  RecordsHandle (two uint64s)        1+8+16 = 25
//	                                             ----
//	                                       8 + 122 = 130
const (
	HeaderSize = 8 + 4 + 16 + 8

	propertyCount         = 6
	propertyHeaderSize    = 4 + 4 // version + property_count
	propertyFrameOverhead = 1 + 8 // id + size, per property
	propertyValueBytes    = 4 + 16 + 8 + 16 + 8 + 16

	PropertiesSize = propertyHeaderSize + propertyCount*propertyFrameOverhead + propertyValueBytes

	FooterSize = 8 + 8 + 4
)

// Property ids tag the properties block's TLV entries so a reader can skip
// ones it doesn't recognize.
const (
	propIDCount = iota + 1
	propIDIndexingEpoch
	propIDIndexingLSN
	propIDLastBackedUpEpoch
	propIDLastBackedUpLSN
	propIDRecordsHandle
)

// Handle is a (offset, size) reference into the records block.
type Handle struct {
	Offset uint64
	Size   uint64
}

// Properties describes the contents of a backup file.
type Properties struct {
	Count             uint32
	IndexEpoch        epoch.Epoch
	IndexLSN          int64
	LastBackedUpEpoch epoch.Epoch
	LastBackedUpLSN   int64
	RecordsHandle     Handle
}

// LastBackupRecord is the minimal view of the preceding Backup record this
// package needs to stamp LastBackedUpEpoch/LSN.
type LastBackupRecord struct {
	Epoch epoch.Epoch
	LSN   int64
}

// ErrInvalidBackup is returned when a backup file fails header, footer, or
// checksum validation.
var ErrInvalidBackup = errors.New("backup: invalid backup file")

// Header identifies the partition/replica a backup file belongs to.
type Header struct {
	PartitionID [16]byte
	ReplicaID   int64
}

// WriteAsync serializes records (in order) and last into w, per the layout
// above. indexEpoch/indexLSN describe the first record's epoch/LSN+1, as
// the spec's "indexing LSN" for this backup.
func WriteAsync(w io.Writer, hdr Header, records []record.Record, last LastBackupRecord, indexEpoch epoch.Epoch, indexLSN int64) error {
	var buf bytes.Buffer

	buf.Write(Magic[:])
	writeUint32(&buf, Version)
	buf.Write(hdr.PartitionID[:])
	writeInt64(&buf, hdr.ReplicaID)

	recordsStart := buf.Len()
	for _, rec := range records {
		enc, err := record.Encode(rec)
		if err != nil {
			return errors.Wrap(err, "encode record")
		}
		buf.Write(enc)
	}
	recordsSize := buf.Len() - recordsStart

	propsOffset := buf.Len()
	writeUint32(&buf, Version)
	writeUint32(&buf, propertyCount)
	writeProperty(&buf, propIDCount, encodeUint32(uint32(len(records))))
	writeProperty(&buf, propIDIndexingEpoch, encodeEpoch(indexEpoch))
	writeProperty(&buf, propIDIndexingLSN, encodeInt64Value(indexLSN))
	writeProperty(&buf, propIDLastBackedUpEpoch, encodeEpoch(last.Epoch))
	writeProperty(&buf, propIDLastBackedUpLSN, encodeInt64Value(last.LSN))
	writeProperty(&buf, propIDRecordsHandle, encodeHandle(Handle{Offset: uint64(recordsStart), Size: uint64(recordsSize)}))
	propsSize := buf.Len() - propsOffset

	checksum := crc32.ChecksumIEEE(buf.Bytes()[propsOffset : propsOffset+propsSize])
	writeUint64(&buf, uint64(propsOffset))
	writeUint64(&buf, uint64(propsSize))
	writeUint32(&buf, checksum)

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteAsyncAtomic writes a backup file atomically to path: the new
// content either fully replaces the old file or, on failure, leaves it
// untouched.
func WriteAsyncAtomic(path string, hdr Header, records []record.Record, last LastBackupRecord, indexEpoch epoch.Epoch, indexLSN int64) error {
	var buf bytes.Buffer
	if err := WriteAsync(&buf, hdr, records, last, indexEpoch, indexLSN); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, &buf)
}

// ReadAsync validates b's footer checksum and parses its header and
// properties, returning the records block as a still-encoded byte range
// (decode it with record.Decode/DecodeBackward, or Enumerate below).
func ReadAsync(b []byte) (Header, Properties, error) {
	if len(b) < HeaderSize+FooterSize {
		return Header{}, Properties{}, ErrInvalidBackup
	}
	if !bytes.Equal(b[:8], Magic[:]) {
		return Header{}, Properties{}, errors.Wrap(ErrInvalidBackup, "bad magic")
	}

	footer := b[len(b)-FooterSize:]
	propsOffset := int(binary.BigEndian.Uint64(footer[0:8]))
	propsSize := int(binary.BigEndian.Uint64(footer[8:16]))
	wantCRC := binary.BigEndian.Uint32(footer[16:20])

	if propsOffset < 0 || propsSize < 0 || propsOffset+propsSize > len(b) {
		return Header{}, Properties{}, errors.Wrap(ErrInvalidBackup, "properties block out of range")
	}
	propsBytes := b[propsOffset : propsOffset+propsSize]
	if crc32.ChecksumIEEE(propsBytes) != wantCRC {
		return Header{}, Properties{}, errors.Wrap(ErrInvalidBackup, "checksum mismatch")
	}

	var hdr Header
	copy(hdr.PartitionID[:], b[12:28])
	hdr.ReplicaID = int64(binary.BigEndian.Uint64(b[28:36]))

	props, err := decodeProperties(propsBytes)
	if err != nil {
		return Header{}, Properties{}, err
	}

	return hdr, props, nil
}

// Enumerate decodes every record in the backup's records block, in order.
func Enumerate(b []byte, props Properties) ([]record.Record, error) {
	start := int(props.RecordsHandle.Offset)
	end := start + int(props.RecordsHandle.Size)
	if start < 0 || end > len(b) {
		return nil, ErrInvalidBackup
	}
	region := b[start:end]

	var out []record.Record
	for len(region) > 0 {
		rec, n, err := record.Decode(region)
		if err != nil {
			return nil, errors.Wrap(err, "decode backup record")
		}
		out = append(out, rec)
		region = region[n:]
	}
	return out, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func readUint32(r *bytes.Reader) uint32 {
	var b [4]byte
	io.ReadFull(r, b[:])
	return binary.BigEndian.Uint32(b[:])
}

func readUint64(r *bytes.Reader) uint64 {
	var b [8]byte
	io.ReadFull(r, b[:])
	return binary.BigEndian.Uint64(b[:])
}

func readInt64(r *bytes.Reader) int64 {
	return int64(readUint64(r))
}

// writeProperty appends one TLV-framed property: a 1-byte id, an 8-byte
// big-endian size, then the value itself.
func writeProperty(buf *bytes.Buffer, id byte, value []byte) {
	buf.WriteByte(id)
	writeUint64(buf, uint64(len(value)))
	buf.Write(value)
}

func encodeUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func encodeInt64Value(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func encodeEpoch(e epoch.Epoch) []byte {
	out := make([]byte, 0, 16)
	out = append(out, encodeInt64Value(e.DataLossVersion)...)
	out = append(out, encodeInt64Value(e.ConfigurationVersion)...)
	return out
}

func encodeHandle(h Handle) []byte {
	out := make([]byte, 0, 16)
	out = append(out, encodeInt64Value(int64(h.Offset))...)
	out = append(out, encodeInt64Value(int64(h.Size))...)
	return out
}

// decodeProperties parses a properties block written by writeProperty calls,
// tolerating and skipping any property id it doesn't recognize so the format
// can grow new properties without breaking older readers.
func decodeProperties(b []byte) (Properties, error) {
	r := bytes.NewReader(b)
	if r.Len() < propertyHeaderSize {
		return Properties{}, errors.Wrap(ErrInvalidBackup, "truncated properties header")
	}
	_ = readUint32(r) // version
	count := readUint32(r)

	var props Properties
	for i := uint32(0); i < count; i++ {
		if r.Len() < 1+8 {
			return Properties{}, errors.Wrap(ErrInvalidBackup, "truncated property frame")
		}
		idByte, _ := r.ReadByte()
		size := readUint64(r)
		if uint64(r.Len()) < size {
			return Properties{}, errors.Wrap(ErrInvalidBackup, "truncated property value")
		}
		value := make([]byte, size)
		io.ReadFull(r, value)

		switch idByte {
		case propIDCount:
			props.Count = binary.BigEndian.Uint32(value)
		case propIDIndexingEpoch:
			props.IndexEpoch = decodeEpoch(value)
		case propIDIndexingLSN:
			props.IndexLSN = int64(binary.BigEndian.Uint64(value))
		case propIDLastBackedUpEpoch:
			props.LastBackedUpEpoch = decodeEpoch(value)
		case propIDLastBackedUpLSN:
			props.LastBackedUpLSN = int64(binary.BigEndian.Uint64(value))
		case propIDRecordsHandle:
			props.RecordsHandle = decodeHandle(value)
		}
	}
	return props, nil
}

func decodeEpoch(value []byte) epoch.Epoch {
	return epoch.Epoch{
		DataLossVersion:      int64(binary.BigEndian.Uint64(value[0:8])),
		ConfigurationVersion: int64(binary.BigEndian.Uint64(value[8:16])),
	}
}

func decodeHandle(value []byte) Handle {
	return Handle{
		Offset: binary.BigEndian.Uint64(value[0:8]),
		Size:   binary.BigEndian.Uint64(value[8:16]),
	}
}
