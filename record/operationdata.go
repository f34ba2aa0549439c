package record

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncatedOperationData is returned when the decoder runs out of bytes
// mid-buffer.
var ErrTruncatedOperationData = errors.New("operation data: truncated buffer")

// OperationData is an ordered sequence of byte buffers. It is the
// serialization primitive carried by metadata/undo/redo on every
// transactional record. Zero-length buffers are legal and round-trip.
type OperationData struct {
	Buffers [][]byte
}

// NewOperationData builds an OperationData from the given buffers. The slice
// is retained, not copied.
func NewOperationData(buffers ...[]byte) OperationData {
	return OperationData{Buffers: buffers}
}

// IsEmpty reports whether the operation data carries no buffers at all. This
// is distinct from carrying one zero-length buffer.
func (d OperationData) IsEmpty() bool {
	return len(d.Buffers) == 0
}

// Serialize writes buffer_count followed by length + bytes for every buffer,
// including zero-length ones: a zero-length buffer simply contributes a
// length field of 0 and no payload bytes, which already round-trips without
// special-casing.
func (d OperationData) Serialize() []byte {
	buf := protowire.AppendVarint(nil, uint64(len(d.Buffers)))
	for _, b := range d.Buffers {
		buf = protowire.AppendVarint(buf, uint64(len(b)))
		buf = append(buf, b...)
	}
	return buf
}

// DeserializeOperationData restores an OperationData from bytes written by
// Serialize, returning the number of bytes consumed.
func DeserializeOperationData(b []byte) (OperationData, int, error) {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return OperationData{}, 0, ErrTruncatedOperationData
	}
	total := n
	b = b[n:]
	buffers := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		ln, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return OperationData{}, 0, ErrTruncatedOperationData
		}
		total += n
		b = b[n:]
		if uint64(len(b)) < ln {
			return OperationData{}, 0, ErrTruncatedOperationData
		}
		buf := make([]byte, ln)
		copy(buf, b[:ln])
		buffers = append(buffers, buf)
		b = b[ln:]
		total += int(ln)
	}
	return OperationData{Buffers: buffers}, total, nil
}

// Equal reports whether d and other carry identical buffers in the same
// order, including zero-length buffers at the same positions.
func (d OperationData) Equal(other OperationData) bool {
	if len(d.Buffers) != len(other.Buffers) {
		return false
	}
	for i := range d.Buffers {
		if len(d.Buffers[i]) != len(other.Buffers[i]) {
			return false
		}
		for j := range d.Buffers[i] {
			if d.Buffers[i][j] != other.Buffers[i][j] {
				return false
			}
		}
	}
	return true
}
