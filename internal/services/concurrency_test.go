package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

func TestChannelSemaphore_BoundsPerChannel(t *testing.T) {
	sem := NewChannelSemaphore(&ChannelConcurrencyConfig{MaxConcurrentPerChannel: 2, QueueTimeout: time.Second})

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := sem.Acquire(context.Background(), models.ChannelShopify)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 0, sem.GetActiveCount(models.ChannelShopify))
}

func TestChannelSemaphore_ChannelsIndependent(t *testing.T) {
	sem := NewChannelSemaphore(&ChannelConcurrencyConfig{MaxConcurrentPerChannel: 1, QueueTimeout: 20 * time.Millisecond})

	release, err := sem.Acquire(context.Background(), models.ChannelShopify)
	require.NoError(t, err)

	other, err := sem.Acquire(context.Background(), models.ChannelAmazon)
	require.NoError(t, err)
	other()

	_, err = sem.Acquire(context.Background(), models.ChannelShopify)
	assert.Error(t, err)

	release()
	release() // double release is harmless

	again, err := sem.Acquire(context.Background(), models.ChannelShopify)
	require.NoError(t, err)
	again()

	stats := sem.GetStats()
	assert.Equal(t, 2, stats["totalChannels"])
}
