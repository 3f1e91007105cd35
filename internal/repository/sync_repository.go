package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// SyncRepository handles database operations for sync sessions and their logs
type SyncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// CreateSession persists a new session
func (r *SyncRepository) CreateSession(ctx context.Context, session *models.SyncSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// GetSession retrieves a session by ID
func (r *SyncRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	var session models.SyncSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSession retrieves the most recent pending or in-progress session
func (r *SyncRepository) GetActiveSession(ctx context.Context) (*models.SyncSession, error) {
	var session models.SyncSession
	err := r.db.WithContext(ctx).
		Where("status IN ?", models.ActiveSessionStatuses).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ClaimSession takes the execution lease on an active session. It matches only
// when the caller saw the current version and no live lease exists, and bumps
// the version so any other holder of the old version loses. Returns false when
// nothing matched.
func (r *SyncRepository) ClaimSession(ctx context.Context, id uuid.UUID, version int64, now time.Time, ttl time.Duration) (bool, error) {
	leaseExpiresAt := now.Add(ttl)
	result := r.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("id = ? AND version = ? AND status IN ?", id, version, models.ActiveSessionStatuses).
		Where("(lease_expires_at IS NULL OR lease_expires_at <= ?)", now).
		Updates(map[string]interface{}{
			"status":           models.SessionInProgress,
			"version":          version + 1,
			"lease_expires_at": leaseExpiresAt,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CommitSession writes the outcome of one batch step. The write only lands if
// the row still carries claimedVersion and is not terminal, so a killed or
// superseded session is never resurrected. Snapshot rows are upserted in the same
// transaction and only when the session write lands.
func (r *SyncRepository) CommitSession(ctx context.Context, session *models.SyncSession, claimedVersion int64, now time.Time, snapshots ...models.WarehouseSnapshot) error {
	updates := map[string]interface{}{
		"status":              session.Status,
		"current_batch_index": session.CurrentBatchIndex,
		"processed_skus":      session.ProcessedSKUs,
		"results":             session.Results,
		"skipped":             session.Skipped,
		"fetched":             session.Fetched,
		"enriched":            session.Enriched,
		"error_message":       session.ErrorMessage,
		"version":             claimedVersion + 1,
		"lease_expires_at":    nil,
		"updated_at":          now,
	}
	if session.Status.IsTerminal() {
		updates["completed_at"] = now
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SyncSession{}).
			Where("id = ? AND version = ? AND status IN ?", session.ID, claimedVersion, models.ActiveSessionStatuses).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionConflict
		}
		return upsertSnapshots(tx, snapshots)
	})
	if err != nil {
		return err
	}

	session.Version = claimedVersion + 1
	session.LeaseExpiresAt = nil
	session.UpdatedAt = now
	if session.Status.IsTerminal() {
		completedAt := now
		session.CompletedAt = &completedAt
	}
	return nil
}

// ReleaseSession drops the lease taken at claimedVersion without recording
// progress, so the batch can be retried right away. Returns false when the
// session moved on or was deleted in the meantime.
func (r *SyncRepository) ReleaseSession(ctx context.Context, id uuid.UUID, claimedVersion int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("id = ? AND version = ? AND status IN ?", id, claimedVersion, models.ActiveSessionStatuses).
		Updates(map[string]interface{}{
			"version":          claimedVersion + 1,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteSession removes a session and its logs. Returns false if it did not exist.
func (r *SyncRepository) DeleteSession(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.SyncSession{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return tx.Where("session_id = ?", id).Delete(&models.SyncLog{}).Error
	})
	return deleted > 0, err
}

// DeleteActiveSessions removes every pending or in-progress session
func (r *SyncRepository) DeleteActiveSessions(ctx context.Context) ([]uuid.UUID, error) {
	return r.deleteWhere(ctx, r.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("status IN ?", models.ActiveSessionStatuses))
}

// DeleteStaleSessions removes active sessions that have not advanced since before cutoff
func (r *SyncRepository) DeleteStaleSessions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	return r.deleteWhere(ctx, r.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("status IN ? AND updated_at < ?", models.ActiveSessionStatuses, cutoff))
}

func (r *SyncRepository) deleteWhere(ctx context.Context, query *gorm.DB) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ?", ids).Delete(&models.SyncSession{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id IN ?", ids).Delete(&models.SyncLog{}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListSessions retrieves sessions with pagination and filtering. The batch
// plan and results are omitted to keep listings small.
func (r *SyncRepository) ListSessions(ctx context.Context, opts SessionListOptions) ([]models.SyncSession, int64, error) {
	var sessions []models.SyncSession
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncSession{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	err := query.Omit("batches", "results").
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// CreateLog creates a sync log entry
func (r *SyncRepository) CreateLog(ctx context.Context, log *models.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// GetSessionLogs retrieves logs for a sync session, newest first
func (r *SyncRepository) GetSessionLogs(ctx context.Context, sessionID uuid.UUID, opts LogListOptions) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	query := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID)

	if opts.Level != "" {
		query = query.Where("level = ?", opts.Level)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	err := query.Order("created_at DESC").Find(&logs).Error
	return logs, err
}

// GetSyncStats retrieves session counts by status and the last completion time
func (r *SyncRepository) GetSyncStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{}

	if err := r.db.WithContext(ctx).Model(&models.SyncSession{}).Count(&stats.TotalSessions).Error; err != nil {
		return nil, err
	}

	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.SyncSession{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch models.SessionStatus(sc.Status) {
		case models.SessionCompleted:
			stats.CompletedSessions = sc.Count
		case models.SessionFailed:
			stats.FailedSessions = sc.Count
		case models.SessionPending, models.SessionInProgress:
			stats.ActiveSessions += sc.Count
		}
	}

	var last models.SyncSession
	if err := r.db.WithContext(ctx).
		Omit("batches", "results").
		Where("status = ?", models.SessionCompleted).
		Order("completed_at DESC").
		First(&last).Error; err == nil && last.CompletedAt != nil {
		stats.LastSyncAt = last.CompletedAt
	}

	return stats, nil
}

// SessionListOptions contains options for listing sessions
type SessionListOptions struct {
	Status string
	Limit  int
	Offset int
}

// LogListOptions contains options for listing logs
type LogListOptions struct {
	Level  string
	Limit  int
	Offset int
}

// SyncStats contains session statistics
type SyncStats struct {
	TotalSessions     int64      `json:"total_sessions"`
	CompletedSessions int64      `json:"completed_sessions"`
	FailedSessions    int64      `json:"failed_sessions"`
	ActiveSessions    int64      `json:"active_sessions"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}
