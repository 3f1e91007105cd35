package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// ChannelConcurrencyConfig defines concurrency limits for channel updates
type ChannelConcurrencyConfig struct {
	MaxConcurrentPerChannel int           // Max in-flight updates per channel
	QueueTimeout            time.Duration // Max time to wait for a slot
}

// DefaultConcurrencyConfig returns production-ready defaults
func DefaultConcurrencyConfig() *ChannelConcurrencyConfig {
	return &ChannelConcurrencyConfig{
		MaxConcurrentPerChannel: 4,
		QueueTimeout:            30 * time.Second,
	}
}

// ChannelSemaphore bounds in-flight updates per channel so each channel's
// rate limits are respected independently
type ChannelSemaphore struct {
	mu     sync.RWMutex
	sems   map[models.ChannelType]chan struct{}
	active map[models.ChannelType]int
	config *ChannelConcurrencyConfig
}

// NewChannelSemaphore creates a new channel semaphore manager
func NewChannelSemaphore(config *ChannelConcurrencyConfig) *ChannelSemaphore {
	if config == nil {
		config = DefaultConcurrencyConfig()
	}
	if config.MaxConcurrentPerChannel <= 0 {
		config.MaxConcurrentPerChannel = 1
	}
	return &ChannelSemaphore{
		sems:   make(map[models.ChannelType]chan struct{}),
		active: make(map[models.ChannelType]int),
		config: config,
	}
}

func (cs *ChannelSemaphore) getOrCreateSem(channel models.ChannelType) chan struct{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if sem, exists := cs.sems[channel]; exists {
		return sem
	}
	sem := make(chan struct{}, cs.config.MaxConcurrentPerChannel)
	cs.sems[channel] = sem
	return sem
}

// Acquire waits for a slot on channel.
// Returns a release function that must be called when done.
func (cs *ChannelSemaphore) Acquire(ctx context.Context, channel models.ChannelType) (func(), error) {
	queueCtx := ctx
	if cs.config.QueueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, cs.config.QueueTimeout)
		defer cancel()
	}

	sem := cs.getOrCreateSem(channel)
	select {
	case sem <- struct{}{}:
	case <-queueCtx.Done():
		return nil, fmt.Errorf("timeout waiting for channel concurrency slot: channel=%s", channel)
	}

	cs.mu.Lock()
	cs.active[channel]++
	cs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cs.mu.Lock()
			cs.active[channel]--
			cs.mu.Unlock()
			<-sem
		})
	}, nil
}

// GetActiveCount returns the number of in-flight updates for a channel
func (cs *ChannelSemaphore) GetActiveCount(channel models.ChannelType) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.active[channel]
}

// GetStats returns concurrency statistics
func (cs *ChannelSemaphore) GetStats() map[string]interface{} {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	active := make(map[string]int, len(cs.active))
	for k, v := range cs.active {
		active[string(k)] = v
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"maxConcurrentPerChannel": cs.config.MaxConcurrentPerChannel,
			"queueTimeout":            cs.config.QueueTimeout.String(),
		},
		"activeByChannel": active,
		"totalChannels":   len(cs.sems),
	}
}
