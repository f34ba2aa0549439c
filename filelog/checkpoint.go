package filelog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// fileName derives a segment's file name from its base offset, zero-padded
// for lexicographic-order-equals-numeric-order directory listings.
func fileName(base int64) string {
	return fmt.Sprintf("%020d.seg", base)
}

// marshalCheckpoint encodes head/tail as two fixed-width big-endian int64s.
func marshalCheckpoint(head, tail int64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, head)
	binary.Write(&buf, binary.BigEndian, tail)
	return buf.Bytes()
}

// unmarshalCheckpoint decodes what marshalCheckpoint produced.
func unmarshalCheckpoint(b []byte) (head, tail int64, err error) {
	r := bytes.NewReader(b)
	if err = binary.Read(r, binary.BigEndian, &head); err != nil {
		return 0, 0, err
	}
	if err = binary.Read(r, binary.BigEndian, &tail); err != nil {
		return 0, 0, err
	}
	return head, tail, nil
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
