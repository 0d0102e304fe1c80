package badger

import (
	"context"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerPersistence(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.IForwarderPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = bp.Close() })
		return bp
	})
}

func TestBadgerPersistence_NoncesSurviveRestart(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()
	from := testutil.RandomAddress()

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	require.NoError(t, bp.ConsumeNonce(ctx, from, 0))
	require.NoError(t, bp.ConsumeNonce(ctx, from, 1))
	record := testutil.CreateTestRelayRecord(from, 1, time.Unix(1700000000, 0).UTC())
	require.NoError(t, bp.SaveRelayRecord(record))
	require.NoError(t, bp.Close())

	reopened, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.GetNonce(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	// a replay of an executed nonce is still rejected after restart
	err = reopened.ConsumeNonce(ctx, from, 1)
	assert.ErrorIs(t, err, persistence.ErrNonceMismatch)

	loaded, err := reopened.LoadRelayRecord(record.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.ID, loaded.ID)
}

func TestBadgerPersistence_HealthCheck(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
	require.NoError(t, err)

	require.NoError(t, bp.HealthCheck())
	require.NoError(t, bp.Close())
	assert.ErrorIs(t, bp.HealthCheck(), persistence.ErrClosed)
}
