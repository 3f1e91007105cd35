package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a sync session
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// ActiveSessionStatuses are the only statuses that accept mutation
var ActiveSessionStatuses = []SessionStatus{SessionPending, SessionInProgress}

// IsTerminal reports whether the status can no longer change
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// TriggerType represents what started the sync
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerAPI       TriggerType = "api"
)

// UpdateErrorKind classifies a failed channel update
type UpdateErrorKind string

const (
	UpdateErrorValidation        UpdateErrorKind = "validation"
	UpdateErrorRateLimited       UpdateErrorKind = "rate_limited"
	UpdateErrorNotFound          UpdateErrorKind = "not_found"
	UpdateErrorMissingIdentifier UpdateErrorKind = "missing_identifier"
	UpdateErrorTransient         UpdateErrorKind = "transient"
)

// UpdateOutcome is the result of applying one quantity to one channel SKU
type UpdateOutcome struct {
	Success          bool            `json:"success"`
	PreviousQuantity *int            `json:"previous_quantity,omitempty"`
	NewQuantity      int             `json:"new_quantity"`
	Error            string          `json:"error,omitempty"`
	ErrorKind        UpdateErrorKind `json:"error_kind,omitempty"`
	LatencyMs        int64           `json:"latency_ms"`
	Verified         *bool           `json:"verified,omitempty"`
	DryRun           bool            `json:"dry_run,omitempty"`
}

// Changed reports whether the update moved the channel quantity. Unknown
// previous quantities count as changed.
func (o UpdateOutcome) Changed() bool {
	if o.PreviousQuantity == nil {
		return true
	}
	return *o.PreviousQuantity != o.NewQuantity
}

// SessionResult is an UpdateOutcome keyed by channel and channel SKU
type SessionResult struct {
	Channel    ChannelType `json:"channel"`
	ChannelSKU string      `json:"channel_sku"`
	BatchIndex int         `json:"batch_index"`
	UpdateOutcome
}

// SessionResults is the JSON column holding accumulated outcomes
type SessionResults []SessionResult

func (r SessionResults) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]SessionResult{})
	}
	return json.Marshal([]SessionResult(r))
}

func (r *SessionResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	return scanJSON(value, r)
}

// BatchPlan is the JSON column holding the planned SKU batches
type BatchPlan [][]string

func (b BatchPlan) Value() (driver.Value, error) {
	if b == nil {
		return json.Marshal([][]string{})
	}
	return json.Marshal([][]string(b))
}

func (b *BatchPlan) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}
	return scanJSON(value, b)
}

// StringList is a JSON column holding a list of strings
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSON(value, l)
}

// QuantityMap is a JSON column holding warehouse quantities by SKU
type QuantityMap map[string]int

func (m QuantityMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]int{})
	}
	return json.Marshal(map[string]int(m))
}

func (m *QuantityMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, m)
}

// SyncSession is the persisted, resumable unit of work for one batched sync
type SyncSession struct {
	ID     uuid.UUID     `gorm:"type:uuid;primaryKey" json:"session_id"`
	Status SessionStatus `gorm:"type:varchar(20);not null;index:idx_sync_sessions_status" json:"status"`

	// Progress
	TotalBatches      int            `gorm:"not null;default:0" json:"total_batches"`
	CurrentBatchIndex int            `gorm:"not null;default:0" json:"current_batch_index"`
	ProcessedSKUs     int            `gorm:"column:processed_skus;not null;default:0" json:"processed_skus"`
	Batches           BatchPlan      `gorm:"type:jsonb" json:"batches,omitempty"`
	Results           SessionResults `gorm:"type:jsonb" json:"results"`
	Skipped           StringList     `gorm:"type:jsonb" json:"skipped,omitempty"`

	// Quantities this session fetched, written only by its own commits
	Fetched QuantityMap `gorm:"type:jsonb" json:"-"`

	// Cycle flags
	Enriched bool `gorm:"not null;default:false" json:"enriched"`
	DryRun   bool `gorm:"not null;default:false" json:"dry_run"`

	// Concurrency control: every write is conditional on Version
	Version        int64      `gorm:"not null;default:0" json:"version"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`
	TriggeredBy  TriggerType `gorm:"type:varchar(50)" json:"triggered_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index:idx_sync_sessions_updated" json:"last_updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for SyncSession
func (SyncSession) TableName() string {
	return "inventory_sync_sessions"
}

// IsActive reports whether the session still accepts batch execution
func (s *SyncSession) IsActive() bool {
	return s.Status == SessionPending || s.Status == SessionInProgress
}

// RemainingBatches returns how many batches are left to execute
func (s *SyncSession) RemainingBatches() int {
	if s.CurrentBatchIndex >= s.TotalBatches {
		return 0
	}
	return s.TotalBatches - s.CurrentBatchIndex
}

// CurrentBatch returns the SKUs of the next batch to execute
func (s *SyncSession) CurrentBatch() []string {
	if s.CurrentBatchIndex < 0 || s.CurrentBatchIndex >= len(s.Batches) {
		return nil
	}
	return s.Batches[s.CurrentBatchIndex]
}

// HandledSKUs returns the channel SKUs that already have an outcome in this
// session, either a dispatch result or a skip
func (s *SyncSession) HandledSKUs() map[string]bool {
	handled := make(map[string]bool, len(s.Results)+len(s.Skipped))
	for _, r := range s.Results {
		handled[r.ChannelSKU] = true
	}
	for _, sku := range s.Skipped {
		handled[sku] = true
	}
	return handled
}

// RecordFetched merges the warehouse quantities of one batch into the
// session. SKUs the warehouse did not report are left out.
func (s *SyncSession) RecordFetched(quantities map[string]int) {
	if s.Fetched == nil {
		s.Fetched = make(QuantityMap, len(quantities))
	}
	for sku, qty := range quantities {
		s.Fetched[sku] = qty
	}
}

// LeaseHeld reports whether another invocation currently owns the session
func (s *SyncSession) LeaseHeld(now time.Time) bool {
	return s.LeaseExpiresAt != nil && s.LeaseExpiresAt.After(now)
}

// FailureCount counts unsuccessful outcomes
func (s *SyncSession) FailureCount() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// LogLevel represents the severity level of a sync log
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog represents a log entry for a sync session
type SyncLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index:idx_sync_logs_session" json:"session_id"`

	Level   LogLevel `gorm:"type:varchar(20);not null;default:'info';index:idx_sync_logs_level" json:"level"`
	Message string   `gorm:"type:text;not null" json:"message"`
	Data    JSONB    `gorm:"type:jsonb" json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for SyncLog
func (SyncLog) TableName() string {
	return "inventory_sync_logs"
}
