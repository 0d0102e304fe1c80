package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// PersistenceFactory opens a fresh, empty persistence layer for one subtest
type PersistenceFactory func(t *testing.T) persistence.IForwarderPersistence

// RandomAddress returns an address no other test uses, so shared backends need no cleanup
func RandomAddress() common.Address {
	id := uuid.New()
	return common.BytesToAddress(id[:])
}

// CreateTestRelayRecord builds a record for from with the given nonce
func CreateTestRelayRecord(from common.Address, nonce int64, createdAt time.Time) *types.RelayRecord {
	return &types.RelayRecord{
		ID: uuid.NewString(),
		Request: &types.ForwardRequest{
			From:  from,
			To:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
			Value: big.NewInt(0),
			Gas:   big.NewInt(1_000_000),
			Nonce: big.NewInt(nonce),
			Data:  []byte{0xcf, 0xae, 0x32, 0x17},
		},
		Signature: make([]byte, types.SignatureLength),
		Status:    types.RelayStatusSucceeded,
		GasUsed:   30_000,
		CreatedAt: createdAt,
	}
}

// RunPersistenceSuite exercises the behaviour every backend must share
func RunPersistenceSuite(t *testing.T, open PersistenceFactory) {
	ctx := context.Background()

	t.Run("unknown originator starts at zero", func(t *testing.T) {
		p := open(t)
		n, err := p.GetNonce(ctx, RandomAddress())
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
	})

	t.Run("consume advances by one", func(t *testing.T) {
		p := open(t)
		from := RandomAddress()
		for i := uint64(0); i < 5; i++ {
			require.NoError(t, p.ConsumeNonce(ctx, from, i))
			n, err := p.GetNonce(ctx, from)
			require.NoError(t, err)
			assert.Equal(t, i+1, n)
		}
	})

	t.Run("mismatch leaves ledger unchanged", func(t *testing.T) {
		p := open(t)
		from := RandomAddress()
		require.NoError(t, p.ConsumeNonce(ctx, from, 0))

		for _, stale := range []uint64{0, 2, 100} {
			err := p.ConsumeNonce(ctx, from, stale)
			require.Error(t, err)
			assert.ErrorIs(t, err, persistence.ErrNonceMismatch)
		}

		n, err := p.GetNonce(ctx, from)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("originators are independent", func(t *testing.T) {
		p := open(t)
		a, b := RandomAddress(), RandomAddress()
		require.NoError(t, p.ConsumeNonce(ctx, a, 0))
		require.NoError(t, p.ConsumeNonce(ctx, a, 1))

		nb, err := p.GetNonce(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), nb)
		require.NoError(t, p.ConsumeNonce(ctx, b, 0))
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		p := open(t)
		from := RandomAddress()

		const workers = 24
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- p.ConsumeNonce(ctx, from, 0)
			}()
		}
		wg.Wait()
		close(results)

		successes := 0
		for err := range results {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, persistence.ErrNonceMismatch)
		}
		assert.Equal(t, 1, successes)

		n, err := p.GetNonce(ctx, from)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("relay records round trip", func(t *testing.T) {
		p := open(t)
		from := RandomAddress()
		record := CreateTestRelayRecord(from, 0, time.Unix(1700000000, 0).UTC())
		record.ReturnData = []byte{1, 2, 3}

		require.NoError(t, p.SaveRelayRecord(record))

		loaded, err := p.LoadRelayRecord(record.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record.ID, loaded.ID)
		assert.Equal(t, record.Request.From, loaded.Request.From)
		assert.Equal(t, record.Status, loaded.Status)
		assert.Equal(t, []byte(record.ReturnData), []byte(loaded.ReturnData))

		missing, err := p.LoadRelayRecord("does-not-exist-" + uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, missing)

		require.Error(t, p.SaveRelayRecord(nil))
	})

	t.Run("relay records list filtered and sorted", func(t *testing.T) {
		p := open(t)
		a, b := RandomAddress(), RandomAddress()
		base := time.Unix(1700000000, 0).UTC()

		for i := 0; i < 3; i++ {
			// saved newest first to prove ordering is by creation time
			require.NoError(t, p.SaveRelayRecord(CreateTestRelayRecord(a, int64(2-i), base.Add(time.Duration(2-i)*time.Second))))
		}
		require.NoError(t, p.SaveRelayRecord(CreateTestRelayRecord(b, 0, base)))

		listed, err := p.ListRelayRecords(&a)
		require.NoError(t, err)
		require.Len(t, listed, 3)
		for i, r := range listed {
			assert.Equal(t, a, r.Request.From)
			assert.Equal(t, int64(i), r.Request.Nonce.Int64(), fmt.Sprintf("record %d out of order", i))
		}

		all, err := p.ListRelayRecords(nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 4)
	})

	t.Run("closed layer rejects operations", func(t *testing.T) {
		p := open(t)
		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())
		require.NoError(t, p.Close())

		_, err := p.GetNonce(ctx, RandomAddress())
		require.Error(t, err)
		require.Error(t, p.ConsumeNonce(ctx, RandomAddress(), 0))
		require.Error(t, p.HealthCheck())
	})
}
