package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/services"
)

// SyncRunner is the part of the session manager the scheduler drives
type SyncRunner interface {
	Start(ctx context.Context, req services.StartRequest) (*services.SyncResult, error)
	RunBatches(ctx context.Context, id uuid.UUID, budget time.Duration) (*services.SyncResult, error)
}

// SyncJob starts a sync on a fixed interval and drives it to completion
type SyncJob struct {
	runner   SyncRunner
	logger   *logrus.Logger
	interval time.Duration
	budget   time.Duration
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSyncJob creates a scheduled sync job. Each tick runs batches for at
// most budget before yielding to the next tick.
func NewSyncJob(runner SyncRunner, logger *logrus.Logger, interval, budget time.Duration) *SyncJob {
	return &SyncJob{
		runner:   runner,
		logger:   logger,
		interval: interval,
		budget:   budget,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the job until Stop is called or ctx is cancelled
func (j *SyncJob) Start(ctx context.Context) {
	defer close(j.done)
	j.logger.WithField("interval", j.interval.String()).Info("Scheduled sync job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("Scheduled sync job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Scheduled sync job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop and waits for the current tick to finish.
// It must only be called after Start.
func (j *SyncJob) Stop() {
	close(j.stopCh)
	<-j.done
}

// RunOnce starts or resumes the active session and runs it within budget
func (j *SyncJob) RunOnce(ctx context.Context) {
	result, err := j.runner.Start(ctx, services.StartRequest{TriggeredBy: models.TriggerScheduled})
	switch {
	case errors.Is(err, services.ErrStartInProgress):
		j.logger.Debug("Another process is starting a sync, skipping tick")
		return
	case err != nil:
		j.logger.WithError(err).Error("Scheduled sync failed to start")
		return
	}

	if result.HasMore {
		id := result.Session.ID
		result, err = j.runner.RunBatches(ctx, id, j.budget)
		if errors.Is(err, services.ErrSessionBusy) {
			j.logger.WithField("session_id", id).Debug("Session leased elsewhere, skipping tick")
			return
		}
		if err != nil {
			j.logger.WithError(err).Error("Scheduled sync failed")
			return
		}
	}

	entry := j.logger.WithField("state", result.State)
	if result.Session != nil {
		entry = entry.WithField("session_id", result.Session.ID)
	}
	entry.Info("Scheduled sync tick finished")
}
