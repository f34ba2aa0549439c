// Package copystream implements the two operation-stream adapters (C10)
// presented to the replication transport: a copy stream, which replays a
// follower up to the primary's state, and a replication stream, which
// forwards live writes. Both are lazy, finite, and not restartable.
package copystream

import (
	"context"

	"github.com/liftbridge-io/replog/epoch"
	"github.com/liftbridge-io/replog/progress"
	"github.com/liftbridge-io/replog/record"
)

// CopyStage identifies which phase of copy a CopyHeader announces.
type CopyStage uint8

const (
	StageMetadata CopyStage = iota
	StageState
	StageDone
)

// CopyHeader is the first frame a copy stream yields.
type CopyHeader struct {
	Version         uint32
	CopyStage       CopyStage
	PrimaryReplicaID int64
}

// CopyMetadata is the second frame a copy stream yields.
type CopyMetadata struct {
	StateMetadataVersion          uint32
	ProgressVector                *progress.Vector
	StartingEpoch                 epoch.Epoch
	StartingLSN                   int64
	CheckpointLSN                 int64
	UptoLSN                       int64
	HighestStateProviderCopiedLSN int64
}

// Chunk is one unit an operation stream yields: either an operation-data
// payload, or nil to signal the final, closing frame.
type Chunk struct {
	Record record.Record
}

// RecordSource supplies the next logical record an operation stream should
// yield, e.g. by reading forward through the log from a starting offset.
// It returns (nil, false, nil) once exhausted.
type RecordSource func(ctx context.Context) (record.Record, bool, error)

// CopyStream is a lazy, finite, not-restartable sequence of frames a
// follower consumes to catch up: a header, metadata, then a series of
// record chunks, then a closing nil chunk.
type CopyStream struct {
	header   CopyHeader
	metadata CopyMetadata
	source   RecordSource

	sentHeader, sentMetadata, closed bool
}

// NewCopyStream returns a CopyStream that will yield header, then metadata,
// then records drawn from source until it's exhausted.
func NewCopyStream(header CopyHeader, metadata CopyMetadata, source RecordSource) *CopyStream {
	return &CopyStream{header: header, metadata: metadata, source: source}
}

// Next yields the stream's next frame: the CopyHeader, then the
// CopyMetadata, then a sequence of *Chunk, then a final nil Chunk. Once
// Next has returned (nil, nil), it is not restartable — subsequent calls
// also return (nil, nil).
func (s *CopyStream) Next(ctx context.Context) (interface{}, error) {
	if s.closed {
		return nil, nil
	}
	if !s.sentHeader {
		s.sentHeader = true
		return s.header, nil
	}
	if !s.sentMetadata {
		s.sentMetadata = true
		return s.metadata, nil
	}
	rec, ok, err := s.source(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.closed = true
		return nil, nil
	}
	return &Chunk{Record: rec}, nil
}

// ReplicationStream is a lazy, finite, not-restartable sequence of
// operation-data generated by subsequent replicate_and_log calls.
type ReplicationStream struct {
	ch     <-chan record.Record
	closed bool
}

// NewReplicationStream returns a stream that yields records pushed onto ch
// until it is closed by the producer.
func NewReplicationStream(ch <-chan record.Record) *ReplicationStream {
	return &ReplicationStream{ch: ch}
}

// Next yields the next record, or a final nil Chunk once the producer
// closes the channel.
func (s *ReplicationStream) Next(ctx context.Context) (*Chunk, error) {
	if s.closed {
		return nil, nil
	}
	select {
	case rec, ok := <-s.ch:
		if !ok {
			s.closed = true
			return nil, nil
		}
		return &Chunk{Record: rec}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
