package backup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/replog/epoch"
	"github.com/liftbridge-io/replog/record"
)

func TestPropertiesBlockIsExactly130Bytes(t *testing.T) {
	// Bit-exact external contract (spec.md §6.2/S4), matching the original
	// implementation's own BackupLogFileProperties serialization test.
	assert.Equal(t, 130, PropertiesSize)
}

func TestEmptyBackupPropertiesBlockIsFixedSize(t *testing.T) {
	var buf bytes.Buffer
	hdr := Header{ReplicaID: 7}
	last := LastBackupRecord{Epoch: epoch.Epoch{DataLossVersion: 20, ConfigurationVersion: 88}, LSN: 6}

	err := WriteAsync(&buf, hdr, nil, last, epoch.Epoch{DataLossVersion: 19, ConfigurationVersion: 87}, 16)
	require.NoError(t, err)

	gotHdr, props, err := ReadAsync(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, int(props.RecordsHandle.Size), buf.Len()-HeaderSize-PropertiesSize-FooterSize)
	assert.Equal(t, uint32(0), props.Count)
	assert.Equal(t, epoch.Epoch{DataLossVersion: 19, ConfigurationVersion: 87}, props.IndexEpoch)
	assert.Equal(t, int64(16), props.IndexLSN)
	assert.Equal(t, epoch.Epoch{DataLossVersion: 20, ConfigurationVersion: 88}, props.LastBackedUpEpoch)
	assert.Equal(t, int64(6), props.LastBackedUpLSN)
	assert.Equal(t, int64(7), gotHdr.ReplicaID)

	// This package's own fixed-width properties-block invariant: with zero
	// records, total size is exactly header + properties + footer.
	assert.Equal(t, HeaderSize+PropertiesSize+FooterSize, buf.Len())
}

func TestBackupRoundTripWithRecords(t *testing.T) {
	records := []record.Record{
		&record.BarrierRecord{Hdr: record.Header{Type: record.TypeBarrier, LSN: 1, PSN: 1}},
		&record.UpdateEpochRecord{
			Hdr:              record.Header{Type: record.TypeUpdateEpoch, LSN: 2, PSN: 2},
			Epoch:            epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 1},
			PrimaryReplicaID: 5,
		},
	}
	last := LastBackupRecord{Epoch: epoch.Epoch{DataLossVersion: 1, ConfigurationVersion: 1}, LSN: 2}

	var buf bytes.Buffer
	hdr := Header{ReplicaID: 42}
	require.NoError(t, WriteAsync(&buf, hdr, records, last, epoch.Epoch{}, 0))

	gotHdr, props, err := ReadAsync(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(42), gotHdr.ReplicaID)
	assert.Equal(t, uint32(len(records)), props.Count)

	got, err := Enumerate(buf.Bytes(), props)
	require.NoError(t, err)
	require.Len(t, got, len(records))
	for i := range records {
		assert.Equal(t, records[i].Header().Type, got[i].Header().Type)
		assert.Equal(t, records[i].Header().LSN, got[i].Header().LSN)
	}
}

func TestReadAsyncRejectsCorruptedChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAsync(&buf, Header{}, nil, LastBackupRecord{}, epoch.Epoch{}, 0))
	b := buf.Bytes()
	b[HeaderSize] ^= 0xFF // corrupt the properties block's version field
	_, _, err := ReadAsync(b)
	assert.ErrorIs(t, err, ErrInvalidBackup)
}
