package logHandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testLogs(n int) []*types.Log {
	logs := make([]*types.Log, n)
	for i := range logs {
		logs[i] = &types.Log{
			Address:     common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
			BlockNumber: uint64(i + 1),
			Index:       uint(i),
		}
	}
	return logs
}

func Test_LogHandler(t *testing.T) {
	t.Run("fans out to every subscriber", func(t *testing.T) {
		h := NewLogHandler(zaptest.NewLogger(t))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		subA := h.Subscribe()
		subB := h.Subscribe()
		assert.Equal(t, 2, h.SubscriberCount())

		var mu sync.Mutex
		received := map[string][]uint64{}
		var wg sync.WaitGroup
		for name, sub := range map[string]*Subscription{"a": subA, "b": subB} {
			wg.Add(1)
			go func(name string, sub *Subscription) {
				defer wg.Done()
				h.ListenToChannel(ctx, sub, func(l *types.Log) {
					mu.Lock()
					defer mu.Unlock()
					received[name] = append(received[name], l.BlockNumber)
				})
			}(name, sub)
		}

		h.HandleLogs(ctx, testLogs(5))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received["a"]) == 5 && len(received["b"]) == 5
		}, 2*time.Second, 10*time.Millisecond)

		// unsubscribing closes the channel and ends the listener
		subA.Unsubscribe()
		subB.Unsubscribe()
		wg.Wait()
		assert.Zero(t, h.SubscriberCount())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []uint64{1, 2, 3, 4, 5}, received["a"])
	})

	t.Run("full subscriber drops instead of blocking", func(t *testing.T) {
		h := NewLogHandler(zaptest.NewLogger(t))
		sub := h.Subscribe()

		done := make(chan struct{})
		go func() {
			h.HandleLogs(context.Background(), testLogs(subscriptionCapacity+10))
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("HandleLogs blocked on a full subscriber")
		}
		assert.Len(t, sub.LogChan, subscriptionCapacity)

		sub.Unsubscribe()
		sub.Unsubscribe()
	})
}
