package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/metrics"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// UpdateItem is one product and the quantity it should show on channels
type UpdateItem struct {
	Product  models.Product
	Quantity int
}

// DispatchOptions controls a multi-channel dispatch
type DispatchOptions struct {
	DryRun     bool
	BatchIndex int
}

// Dispatcher applies resolved quantities to every enabled channel. Item
// failures are recorded as outcomes and never abort the batch.
type Dispatcher struct {
	clients   map[models.ChannelType]clients.ChannelClient
	semaphore *ChannelSemaphore
	verify    bool
	metrics   *metrics.Metrics
	logger    *logrus.Entry
}

// NewDispatcher creates a dispatcher over the given channel clients
func NewDispatcher(channelClients map[models.ChannelType]clients.ChannelClient, semaphore *ChannelSemaphore, verify bool, m *metrics.Metrics) *Dispatcher {
	if semaphore == nil {
		semaphore = NewChannelSemaphore(nil)
	}
	return &Dispatcher{
		clients:   channelClients,
		semaphore: semaphore,
		verify:    verify,
		metrics:   m,
		logger:    logrus.WithField("component", "dispatcher"),
	}
}

// Channels returns the enabled channels in dispatch order
func (d *Dispatcher) Channels() []models.ChannelType {
	var out []models.ChannelType
	for _, ch := range models.AllChannels {
		if _, ok := d.clients[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Client returns the client for a channel
func (d *Dispatcher) Client(channel models.ChannelType) (clients.ChannelClient, bool) {
	c, ok := d.clients[channel]
	return c, ok
}

// Apply updates every item on one channel and returns outcomes keyed by
// channel SKU. Items without a listing for the channel are ignored.
func (d *Dispatcher) Apply(ctx context.Context, channel models.ChannelType, items []UpdateItem) map[string]models.UpdateOutcome {
	outcomes := make(map[string]models.UpdateOutcome, len(items))
	client, ok := d.clients[channel]
	if !ok {
		unsupported := &clients.UnsupportedChannelError{ChannelType: string(channel)}
		for _, item := range items {
			outcomes[item.Product.ChannelSKU] = models.UpdateOutcome{
				NewQuantity: item.Quantity,
				Error:       unsupported.Error(),
				ErrorKind:   models.UpdateErrorValidation,
			}
		}
		return outcomes
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, item := range items {
		listing, ok := item.Product.Listing(channel)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(sku string, listing models.ChannelListing, qty int) {
			defer wg.Done()

			var outcome models.UpdateOutcome
			release, err := d.semaphore.Acquire(ctx, channel)
			if err != nil {
				outcome = models.UpdateOutcome{
					NewQuantity: qty,
					Error:       err.Error(),
					ErrorKind:   models.UpdateErrorTransient,
				}
			} else {
				outcome = d.applyOne(ctx, client, listing, qty)
				release()
			}

			mu.Lock()
			outcomes[sku] = outcome
			mu.Unlock()
		}(item.Product.ChannelSKU, listing, item.Quantity)
	}
	wg.Wait()

	return outcomes
}

func (d *Dispatcher) applyOne(ctx context.Context, client clients.ChannelClient, listing models.ChannelListing, qty int) models.UpdateOutcome {
	start := time.Now()
	outcome := models.UpdateOutcome{NewQuantity: qty}
	channel := client.GetType()

	defer func() {
		label := "success"
		if !outcome.Success {
			label = string(outcome.ErrorKind)
		}
		d.metrics.ChannelUpdate(string(channel), label, time.Since(start))
	}()

	if err := client.CheckIdentifiers(listing); err != nil {
		outcome.Error = err.Error()
		outcome.ErrorKind = models.UpdateErrorMissingIdentifier
		outcome.LatencyMs = time.Since(start).Milliseconds()
		return outcome
	}

	if d.verify {
		if prev, err := client.GetQuantity(ctx, listing); err == nil {
			outcome.PreviousQuantity = &prev
		} else {
			d.logger.WithFields(logrus.Fields{
				"channel": channel,
				"sku":     listing.SKU,
				"error":   err.Error(),
			}).Debug("Could not read previous quantity")
		}
	}

	if err := client.SetQuantity(ctx, listing, qty); err != nil {
		outcome.Error = err.Error()
		outcome.ErrorKind = clients.Classify(err)
		outcome.LatencyMs = time.Since(start).Milliseconds()
		d.logger.WithFields(logrus.Fields{
			"channel": channel,
			"sku":     listing.SKU,
			"kind":    outcome.ErrorKind,
		}).Warn("Channel update failed")
		return outcome
	}
	outcome.Success = true

	if d.verify {
		after, err := client.GetQuantity(ctx, listing)
		verified := err == nil && after == qty
		outcome.Verified = &verified
		if !verified {
			d.logger.WithFields(logrus.Fields{
				"channel":  channel,
				"sku":      listing.SKU,
				"expected": qty,
				"actual":   after,
			}).Warn("Channel quantity does not match after update")
		}
	}

	outcome.LatencyMs = time.Since(start).Milliseconds()
	return outcome
}

// ApplyAll dispatches items to every enabled channel in parallel. Results
// come back grouped by channel in dispatch order, items in input order.
func (d *Dispatcher) ApplyAll(ctx context.Context, items []UpdateItem, opts DispatchOptions) []models.SessionResult {
	channels := d.Channels()
	perChannel := make([]map[string]models.UpdateOutcome, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			if opts.DryRun {
				perChannel[i] = dryRunOutcomes(ch, items)
				return nil
			}
			perChannel[i] = d.Apply(gctx, ch, items)
			return nil
		})
	}
	_ = g.Wait()

	var results []models.SessionResult
	for i, ch := range channels {
		for _, item := range items {
			outcome, ok := perChannel[i][item.Product.ChannelSKU]
			if !ok {
				continue
			}
			results = append(results, models.SessionResult{
				Channel:       ch,
				ChannelSKU:    item.Product.ChannelSKU,
				BatchIndex:    opts.BatchIndex,
				UpdateOutcome: outcome,
			})
		}
	}
	return results
}

func dryRunOutcomes(channel models.ChannelType, items []UpdateItem) map[string]models.UpdateOutcome {
	out := make(map[string]models.UpdateOutcome, len(items))
	for _, item := range items {
		if _, ok := item.Product.Listing(channel); !ok {
			continue
		}
		out[item.Product.ChannelSKU] = models.UpdateOutcome{
			Success:     true,
			NewQuantity: item.Quantity,
			DryRun:      true,
		}
	}
	return out
}

// Summary aggregates a set of update outcomes
type Summary struct {
	Total            int     `json:"total"`
	Succeeded        int     `json:"succeeded"`
	Failed           int     `json:"failed"`
	Changed          int     `json:"changed"`
	Unchanged        int     `json:"unchanged"`
	SuccessRate      float64 `json:"success_rate"`
	TotalLatencyMs   int64   `json:"total_latency_ms"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// Summarize computes summary statistics. Changed and unchanged only count
// successful updates.
func Summarize(outcomes []models.UpdateOutcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Total++
		s.TotalLatencyMs += o.LatencyMs
		if !o.Success {
			s.Failed++
			continue
		}
		s.Succeeded++
		if o.Changed() {
			s.Changed++
		} else {
			s.Unchanged++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total) * 100
		s.AverageLatencyMs = float64(s.TotalLatencyMs) / float64(s.Total)
	}
	return s
}
