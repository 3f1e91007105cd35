package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/clients"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/events"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/metrics"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
)

var (
	// ErrSessionBusy is returned when another request holds the session lease
	ErrSessionBusy = errors.New("sync session is being processed by another request")
	// ErrConfiguration marks fatal mapping or settings problems; no retry helps
	ErrConfiguration = errors.New("sync configuration error")
	// ErrStartInProgress is returned when another process is starting a sync
	ErrStartInProgress = errors.New("another sync start is in progress")
)

// StartGuard narrows the concurrent start race across processes
type StartGuard interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// EventPublisher receives session state changes
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, subject string, event events.SessionEvent) error
}

// StartRequest contains the data for starting a sync
type StartRequest struct {
	DryRun      bool               `json:"dry_run"`
	TriggeredBy models.TriggerType `json:"triggered_by"`
}

// SyncService is the session manager. All progress lives in the session
// row; any process can continue any session.
type SyncService struct {
	syncRepo      *repository.SyncRepository
	inventoryRepo *repository.InventoryRepository
	mappings      *MappingService
	warehouse     clients.WarehouseClient
	dispatcher    *Dispatcher
	enricher      *Enricher
	config        *config.Config
	guard         StartGuard
	publisher     EventPublisher
	metrics       *metrics.Metrics
	driftConfig   *DriftConfig
	now           func() time.Time
	logger        *logrus.Entry
}

// NewSyncService creates a new sync service
func NewSyncService(
	syncRepo *repository.SyncRepository,
	inventoryRepo *repository.InventoryRepository,
	mappings *MappingService,
	warehouse clients.WarehouseClient,
	dispatcher *Dispatcher,
	cfg *config.Config,
) *SyncService {
	return &SyncService{
		syncRepo:      syncRepo,
		inventoryRepo: inventoryRepo,
		mappings:      mappings,
		warehouse:     warehouse,
		dispatcher:    dispatcher,
		enricher:      NewEnricher(mappings, dispatcher),
		config:        cfg,
		driftConfig:   DefaultDriftConfig(),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logrus.WithField("component", "sync"),
	}
}

// SetStartGuard sets the distributed start guard
func (s *SyncService) SetStartGuard(guard StartGuard) {
	s.guard = guard
}

// SetPublisher sets the event publisher
func (s *SyncService) SetPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// SetMetrics sets the metrics collectors
func (s *SyncService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock overrides the time source
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// Enricher exposes the enricher for on-demand runs
func (s *SyncService) Enricher() *Enricher {
	return s.enricher
}

// Start creates a new session, or returns the active one so the caller
// resumes it instead of racing it
func (s *SyncService) Start(ctx context.Context, req StartRequest) (*SyncResult, error) {
	if s.guard != nil {
		acquired, err := s.guard.Acquire(ctx)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("Start guard unavailable, relying on active session check")
		case !acquired:
			return nil, ErrStartInProgress
		default:
			defer func() {
				if err := s.guard.Release(context.Background()); err != nil {
					s.logger.WithError(err).Warn("Failed to release start guard")
				}
			}()
		}
	}

	stored, err := s.loadMapping(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.CollectStale(ctx, s.config.SyncStaleAfter); err != nil {
		return nil, err
	}

	active, err := s.syncRepo.GetActiveSession(ctx)
	if err == nil {
		s.logger.WithField("session_id", active.ID).Info("Resuming active sync session")
		return s.result(active), nil
	}
	if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	skus := CollectWarehouseSKUs(stored.Products)
	batches, err := PlanBatches(skus, s.config.SyncBatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = models.TriggerManual
	}

	now := s.now()
	session := &models.SyncSession{
		ID:           uuid.New(),
		Status:       models.SessionPending,
		TotalBatches: len(batches),
		Batches:      batches,
		Results:      models.SessionResults{},
		Fetched:      models.QuantityMap{},
		DryRun:       req.DryRun,
		TriggeredBy:  triggeredBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(batches) == 0 {
		session.Status = models.SessionCompleted
		session.CompletedAt = &now
	}

	if err := s.syncRepo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.SessionStarted(string(triggeredBy))
	s.logEvent(ctx, session.ID, models.LogLevelInfo, "Sync session created", models.JSONB{
		"totalBatches":   len(batches),
		"totalSkus":      len(skus),
		"mappingVersion": stored.Version,
		"productCount":   len(stored.Products),
		"dryRun":         req.DryRun,
	})
	s.publish(ctx, events.SubjectSessionStarted, session)
	if session.Status == models.SessionCompleted {
		s.finish(ctx, session)
	}

	return s.result(session), nil
}

// ExecuteBatch claims the session, processes its current batch and commits
// the progress. Terminal sessions are returned unchanged.
func (s *SyncService) ExecuteBatch(ctx context.Context, id uuid.UUID) (*SyncResult, error) {
	session, err := s.syncRepo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return s.result(session), nil
	}

	now := s.now()
	if session.LeaseHeld(now) {
		return nil, ErrSessionBusy
	}
	claimed, err := s.syncRepo.ClaimSession(ctx, session.ID, session.Version, now, s.config.SyncLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}
	if !claimed {
		return s.afterLostRace(ctx, id)
	}
	claimedVersion := session.Version + 1
	session.Version = claimedVersion
	session.Status = models.SessionInProgress

	stepStart := time.Now()
	snapshots, err := s.runBatch(ctx, session)
	if err != nil {
		if errors.Is(err, ErrConfiguration) || isFetchFailure(err) {
			s.metrics.BatchProcessed("failed", time.Since(stepStart))
			return s.failSession(ctx, session, claimedVersion, err)
		}
		s.releaseSession(ctx, session.ID, claimedVersion)
		return nil, err
	}

	if err := s.syncRepo.CommitSession(ctx, session, claimedVersion, s.now(), snapshots...); err != nil {
		return s.commitFailed(ctx, session.ID, err)
	}
	s.metrics.BatchProcessed("ok", time.Since(stepStart))

	batchIndex := session.CurrentBatchIndex - 1
	s.logEvent(ctx, session.ID, models.LogLevelInfo, "Batch processed", models.JSONB{
		"batchIndex":   batchIndex,
		"totalBatches": session.TotalBatches,
		"results":      len(session.Results),
		"failures":     session.FailureCount(),
	})
	s.publish(ctx, events.SubjectBatchCompleted, session)
	if session.Status.IsTerminal() {
		s.finish(ctx, session)
	}

	return s.result(session), nil
}

// fetchError marks failures of the warehouse step, which fail the session
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

func isFetchFailure(err error) bool {
	var fe *fetchError
	return errors.As(err, &fe)
}

// runBatch mutates the claimed session in memory and returns the snapshot
// rows to store with the commit. Channel item failures are recorded in the
// results; only configuration and fetch failures fail the session.
func (s *SyncService) runBatch(ctx context.Context, session *models.SyncSession) ([]models.WarehouseSnapshot, error) {
	if session.RemainingBatches() == 0 {
		session.Status = models.SessionCompleted
		return nil, nil
	}
	index := session.CurrentBatchIndex
	batch := session.CurrentBatch()

	stored, err := s.loadMapping(ctx)
	if err != nil {
		return nil, err
	}
	products := stored.Products

	if !session.Enriched {
		products = s.enrich(ctx, session, products)
		session.Enriched = true
	}

	levels, err := s.warehouse.FetchInventory(ctx, batch)
	if err != nil {
		return nil, &fetchError{err: fmt.Errorf("warehouse fetch failed for batch %d: %w", index, err)}
	}
	s.metrics.WarehouseFetched(len(batch), len(levels))

	snapshots := s.snapshotRows(session.ID, batch, levels)
	session.RecordFetched(reportedQuantities(batch, levels))

	ready, unplanned := ProductsCompletedAt(products, session.Batches, index, session.HandledSKUs())
	if len(unplanned) > 0 {
		skipped := lo.Map(unplanned, func(p models.Product, _ int) string { return p.ChannelSKU })
		session.Skipped = lo.Uniq(append(session.Skipped, skipped...))
	}

	resolved, err := ResolveQuantities(ready, session.Fetched, s.config.MissingSKUPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if len(resolved.Skipped) > 0 {
		session.Skipped = lo.Uniq(append(session.Skipped, resolved.Skipped...))
		s.logEvent(ctx, session.ID, models.LogLevelWarn, "Products skipped, warehouse did not report their SKUs", models.JSONB{
			"batchIndex":  index,
			"channelSkus": resolved.Skipped,
		})
	}

	items := make([]UpdateItem, 0, len(resolved.Quantities))
	for _, p := range ready {
		qty, ok := resolved.Quantities[p.ChannelSKU]
		if !ok {
			continue
		}
		items = append(items, UpdateItem{Product: p, Quantity: qty})
	}

	results := s.dispatcher.ApplyAll(ctx, items, DispatchOptions{DryRun: session.DryRun, BatchIndex: index})
	session.Results = append(session.Results, results...)
	session.ProcessedSKUs += len(batch)
	session.CurrentBatchIndex++
	if session.RemainingBatches() == 0 {
		session.Status = models.SessionCompleted
	}
	return snapshots, nil
}

func (s *SyncService) enrich(ctx context.Context, session *models.SyncSession, products []models.Product) []models.Product {
	if session.DryRun {
		return products
	}
	report, err := s.enricher.Enrich(ctx)
	if err != nil {
		s.logEvent(ctx, session.ID, models.LogLevelWarn, "Identifier enrichment failed", models.JSONB{
			"error": err.Error(),
		})
		return products
	}

	s.logEvent(ctx, session.ID, models.LogLevelInfo, "Identifier enrichment finished", models.JSONB{
		"checked":  report.Checked,
		"enriched": report.Enriched,
		"failed":   len(report.Failures),
		"saved":    report.Saved,
	})
	if !report.Saved {
		return products
	}
	stored, err := s.mappings.GetMapping(ctx)
	if err != nil {
		return products
	}
	return stored.Products
}

// snapshotRows records every SKU of the batch. SKUs the warehouse did not
// report are stored as missing.
func (s *SyncService) snapshotRows(sessionID uuid.UUID, batch []string, levels map[string]clients.WarehouseLevel) []models.WarehouseSnapshot {
	now := s.now()
	rows := make([]models.WarehouseSnapshot, 0, len(batch))
	for _, sku := range batch {
		sid := sessionID
		row := models.WarehouseSnapshot{
			WarehouseSKU: sku,
			SessionID:    &sid,
			UpdatedAt:    now,
		}
		if level, ok := levels[sku]; ok {
			row.Quantity = level.Quantity
			row.Bins = level.Bins
		} else {
			row.Missing = true
		}
		rows = append(rows, row)
	}
	return rows
}

func reportedQuantities(batch []string, levels map[string]clients.WarehouseLevel) map[string]int {
	out := make(map[string]int, len(batch))
	for _, sku := range batch {
		if level, ok := levels[sku]; ok {
			out[sku] = level.Quantity
		}
	}
	return out
}

func (s *SyncService) loadMapping(ctx context.Context) (*StoredMapping, error) {
	stored, err := s.mappings.GetMapping(ctx)
	if errors.Is(err, repository.ErrMappingNotFound) {
		return nil, fmt.Errorf("%w: no product mapping stored", ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return stored, nil
}

// failSession commits a terminal failure and reports it as a result
func (s *SyncService) failSession(ctx context.Context, session *models.SyncSession, claimedVersion int64, cause error) (*SyncResult, error) {
	session.Status = models.SessionFailed
	session.ErrorMessage = cause.Error()
	if err := s.syncRepo.CommitSession(ctx, session, claimedVersion, s.now()); err != nil {
		return s.commitFailed(ctx, session.ID, err)
	}

	s.logEvent(ctx, session.ID, models.LogLevelError, "Sync session failed", models.JSONB{
		"batchIndex": session.CurrentBatchIndex,
		"error":      cause.Error(),
	})
	s.finish(ctx, session)
	return s.result(session), nil
}

// commitFailed explains a rejected commit: the session was killed, or a
// caller took over after the lease expired
func (s *SyncService) commitFailed(ctx context.Context, id uuid.UUID, err error) (*SyncResult, error) {
	if !errors.Is(err, repository.ErrSessionConflict) {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	if _, getErr := s.syncRepo.GetSession(ctx, id); errors.Is(getErr, repository.ErrSessionNotFound) {
		s.logger.WithField("session_id", id).Warn("Session was killed while a batch was running, progress discarded")
		return nil, repository.ErrSessionNotFound
	}
	s.logger.WithField("session_id", id).Warn("Session lease was lost before commit, progress discarded")
	return nil, fmt.Errorf("%w: %v", ErrSessionBusy, err)
}

// releaseSession gives the lease back after an unexpected failure so the
// batch can be retried without waiting for the lease to expire
func (s *SyncService) releaseSession(ctx context.Context, id uuid.UUID, claimedVersion int64) {
	released, err := s.syncRepo.ReleaseSession(context.WithoutCancel(ctx), id, claimedVersion, s.now())
	if err != nil {
		s.logger.WithError(err).WithField("session_id", id).Warn("Failed to release session lease")
		return
	}
	if !released {
		s.logger.WithField("session_id", id).Debug("Session changed before its lease could be released")
	}
}

// afterLostRace reports why a claim matched nothing
func (s *SyncService) afterLostRace(ctx context.Context, id uuid.UUID) (*SyncResult, error) {
	current, err := s.syncRepo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return s.result(current), nil
	}
	return nil, ErrSessionBusy
}

func (s *SyncService) finish(ctx context.Context, session *models.SyncSession) {
	result := s.result(session)
	s.metrics.SessionFinished(string(result.State))

	subject := events.SubjectSessionCompleted
	if session.Status == models.SessionFailed {
		subject = events.SubjectSessionFailed
	}
	s.publish(ctx, subject, session)

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"state":      result.State,
		"succeeded":  result.Summary.Succeeded,
		"failed":     result.Summary.Failed,
	}).Info("Sync session finished")
}

// Continue advances the session by one batch. It is ExecuteBatch under the
// name the control surface uses.
func (s *SyncService) Continue(ctx context.Context, id uuid.UUID) (*SyncResult, error) {
	return s.ExecuteBatch(ctx, id)
}

// RunBatches executes batches until the session finishes or budget is
// spent. The batch running when the budget expires is completed.
func (s *SyncService) RunBatches(ctx context.Context, id uuid.UUID, budget time.Duration) (*SyncResult, error) {
	started := time.Now()
	for {
		result, err := s.ExecuteBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if !result.HasMore || time.Since(started) >= budget {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, nil
		}
	}
}

// GetStatus returns a read-only view of a session
func (s *SyncService) GetStatus(ctx context.Context, id uuid.UUID) (*SyncResult, error) {
	session, err := s.syncRepo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.result(session), nil
}

// GetActiveStatus returns the active session, or a "none" result
func (s *SyncService) GetActiveStatus(ctx context.Context) (*SyncResult, error) {
	session, err := s.syncRepo.GetActiveSession(ctx)
	if errors.Is(err, repository.ErrSessionNotFound) {
		s.metrics.SetActiveSessions(0)
		return NoActiveSession(), nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.SetActiveSessions(1)
	return s.result(session), nil
}

// Kill deletes a session. An in-flight batch on it will fail to commit.
func (s *SyncService) Kill(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.syncRepo.DeleteSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return repository.ErrSessionNotFound
	}

	s.logger.WithField("session_id", id).Info("Sync session killed")
	s.publishKilled(ctx, []uuid.UUID{id})
	return nil
}

// KillAll deletes every active session
func (s *SyncService) KillAll(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.syncRepo.DeleteActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete active sessions: %w", err)
	}
	if len(ids) > 0 {
		s.logger.WithField("count", len(ids)).Info("Active sync sessions killed")
		s.publishKilled(ctx, ids)
	}
	return ids, nil
}

// CollectStale deletes active sessions that have not advanced for olderThan
func (s *SyncService) CollectStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	ids, err := s.syncRepo.DeleteStaleSessions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to collect stale sessions: %w", err)
	}
	if len(ids) > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":      len(ids),
			"older_than": olderThan.String(),
		}).Warn("Stale sync sessions collected")
		s.publishKilled(ctx, ids)
	}
	return ids, nil
}

// ListSessions returns recent sessions without their batch plan or results
func (s *SyncService) ListSessions(ctx context.Context, opts repository.SessionListOptions) ([]models.SyncSession, int64, error) {
	return s.syncRepo.ListSessions(ctx, opts)
}

// GetSessionLogs returns the persisted log rows of a session
func (s *SyncService) GetSessionLogs(ctx context.Context, id uuid.UUID, opts repository.LogListOptions) ([]models.SyncLog, error) {
	return s.syncRepo.GetSessionLogs(ctx, id, opts)
}

// GetStats returns session counters
func (s *SyncService) GetStats(ctx context.Context) (*repository.SyncStats, error) {
	return s.syncRepo.GetSyncStats(ctx)
}

func (s *SyncService) result(session *models.SyncSession) *SyncResult {
	return BuildSyncResult(session, s.driftConfig)
}

func (s *SyncService) publish(ctx context.Context, subject string, session *models.SyncSession) {
	if s.publisher == nil {
		return
	}
	event := events.SessionEvent{
		SessionID:    session.ID,
		Status:       session.Status,
		BatchIndex:   session.CurrentBatchIndex,
		TotalBatches: session.TotalBatches,
		Failed:       session.FailureCount(),
		Succeeded:    len(session.Results) - session.FailureCount(),
		DryRun:       session.DryRun,
		Error:        session.ErrorMessage,
		Timestamp:    s.now(),
	}
	_ = s.publisher.PublishSessionEvent(ctx, subject, event)
}

func (s *SyncService) publishKilled(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		s.publish(ctx, events.SubjectSessionKilled, &models.SyncSession{ID: id})
	}
}

// logEvent creates a sync log entry
func (s *SyncService) logEvent(ctx context.Context, sessionID uuid.UUID, level models.LogLevel, message string, data models.JSONB) {
	entry := s.logger.WithField("session_id", sessionID)
	if len(data) > 0 {
		entry = entry.WithFields(logrus.Fields(data))
	}
	switch level {
	case models.LogLevelError:
		entry.Error(message)
	case models.LogLevelWarn:
		entry.Warn(message)
	case models.LogLevelDebug:
		entry.Debug(message)
	default:
		entry.Info(message)
	}

	log := &models.SyncLog{
		ID:        uuid.New(),
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: s.now(),
	}
	_ = s.syncRepo.CreateLog(ctx, log)
}
