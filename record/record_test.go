package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/epoch"
)

func TestOperationDataRoundTrip(t *testing.T) {
	cases := []OperationData{
		NewOperationData(),
		NewOperationData([]byte{}),
		NewOperationData([]byte("hello"), []byte{}, []byte("world")),
		NewOperationData([]byte{}, []byte{}, []byte{}),
	}
	for _, od := range cases {
		buf := od.Serialize()
		got, n, err := DeserializeOperationData(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.True(t, od.Equal(got))
	}
}

func TestZeroBackupRecordHasNoPrevLinkAndZeroEpoch(t *testing.T) {
	z := ZeroBackupRecord()
	assert.Equal(t, TypeBackup, z.Header().Type)
	assert.Equal(t, NoOffset, z.Hdr.PrevPhysicalRecord)
	assert.Equal(t, epoch.Zero, z.HighestBackedUpEpoch)
	assert.Zero(t, z.HighestBackedUpLSN)
}

func TestRecordRoundTrip(t *testing.T) {
	cases := []Record{
		&BeginTransactionRecord{
			TransactionHeader: TransactionHeader{
				Header:                  Header{Type: TypeBeginTransaction, LSN: 10, PSN: 1, PrevPhysicalRecord: NoOffset},
				TransactionID:           42,
				ParentTransactionRecord: NoOffset,
			},
			Metadata:          NewOperationData([]byte("md")),
			Undo:              NewOperationData(),
			Redo:              NewOperationData([]byte("redo")),
			IsSingleOperation: false,
		},
		&OperationRecord{
			TransactionHeader: TransactionHeader{
				Header:                  Header{Type: TypeOperation, LSN: 11, PSN: 2, PrevPhysicalRecord: 0},
				TransactionID:           42,
				ParentTransactionRecord: 20,
			},
			Metadata: NewOperationData([]byte{}),
			Undo:     NewOperationData([]byte("u")),
			Redo:     NewOperationData([]byte("r")),
		},
		&EndTransactionRecord{
			TransactionHeader: TransactionHeader{
				Header:                  Header{Type: TypeEndTransaction, LSN: 12, PSN: 3},
				TransactionID:           42,
				ParentTransactionRecord: 40,
			},
			IsCommitted: true,
		},
		&BarrierRecord{
			Hdr:                Header{Type: TypeBarrier, LSN: 13, PSN: 4, PrevPhysicalRecord: NoOffset},
			PreviousBarrierLSN: 5,
		},
		&UpdateEpochRecord{
			Hdr:              Header{Type: TypeUpdateEpoch, LSN: 14, PSN: 5},
			Epoch:            epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 2},
			PrimaryReplicaID: 99,
		},
		&BackupRecord{
			Hdr:                  Header{Type: TypeBackup, LSN: 15, PSN: 6},
			BackupID:             "backup-1",
			HighestBackedUpEpoch: epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 2},
			HighestBackedUpLSN:   14,
			Count:                3,
			SizeKB:               512,
		},
		&IndexingRecord{
			PhysicalHeader: PhysicalHeader{Header: Header{Type: TypeIndexing, LSN: 14, PSN: 7}, LinkedPhysicalRecord: 100},
			CurrentEpoch:   epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 2},
		},
		&BeginCheckpointRecord{
			PhysicalHeader:                    PhysicalHeader{Header: Header{Type: TypeBeginCheckpoint, LSN: 14, PSN: 8}, LinkedPhysicalRecord: NoOffset},
			EarliestPendingTransactionOffset:  NoOffset,
			LastBackupRecordOffset:            50,
			ProgressVectorSnapshot:            []byte("pv-bytes"),
		},
		&TruncateHeadRecord{
			PhysicalHeader:        PhysicalHeader{Header: Header{Type: TypeTruncateHead, LSN: 14, PSN: 9}},
			NewHeadIndexingOffset: 200,
		},
		&InformationRecord{
			PhysicalHeader: PhysicalHeader{Header: Header{Type: TypeInformation, LSN: 14, PSN: 10}},
			Text:           "Recovered",
		},
	}

	for _, rec := range cases {
		buf, err := Encode(rec)
		require.NoError(t, err)

		got, n, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, rec.Header().Type, got.Header().Type)
		assert.Equal(t, rec.Header().LSN, got.Header().LSN)
		assert.Equal(t, rec.Header().PSN, got.Header().PSN)
	}
}

func TestDecodeBackward(t *testing.T) {
	var stream []byte
	offsets := make([]int, 0, 3)
	recs := []Record{
		&BarrierRecord{Hdr: Header{Type: TypeBarrier, LSN: 1, PSN: 1}},
		&BarrierRecord{Hdr: Header{Type: TypeBarrier, LSN: 2, PSN: 2}, PreviousBarrierLSN: 1},
		&BarrierRecord{Hdr: Header{Type: TypeBarrier, LSN: 3, PSN: 3}, PreviousBarrierLSN: 2},
	}
	for _, rec := range recs {
		offsets = append(offsets, len(stream))
		buf, err := Encode(rec)
		require.NoError(t, err)
		stream = append(stream, buf...)
	}

	// Scan backward from the end of the stream and recover every record.
	end := len(stream)
	for i := len(recs) - 1; i >= 0; i-- {
		got, start, err := DecodeBackward(stream, end)
		require.NoError(t, err)
		assert.Equal(t, offsets[i], start)
		assert.Equal(t, recs[i].Header().LSN, got.Header().LSN)
		end = start
	}
	assert.Equal(t, 0, end)
}

func TestDecodeInvalidRecord(t *testing.T) {
	_, _, err := Decode([]byte{0, 0})
	assert.Error(t, err)

	rec := &BarrierRecord{Hdr: Header{Type: TypeBarrier, LSN: 1}}
	buf, err := Encode(rec)
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF // corrupt the trailing length suffix
	_, _, err = Decode(buf)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
