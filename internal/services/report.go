package services

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// SyncState is the caller-facing state of a sync
type SyncState string

const (
	StateNone                  SyncState = "none"
	StateInProgress            SyncState = "in_progress"
	StateCompleted             SyncState = "completed"
	StateCompletedWithFailures SyncState = "completed_with_failures"
	StateFailed                SyncState = "failed"
)

// Progress describes how far a session is through its batch plan
type Progress struct {
	TotalBatches     int     `json:"total_batches"`
	CompletedBatches int     `json:"completed_batches"`
	RemainingBatches int     `json:"remaining_batches"`
	ProcessedSKUs    int     `json:"processed_skus"`
	Percent          float64 `json:"percent"`
}

// ChannelSummary is a Summary restricted to one channel
type ChannelSummary struct {
	Channel models.ChannelType `json:"channel"`
	Summary
}

// SyncResult is returned by every sync control operation
type SyncResult struct {
	State    SyncState              `json:"state"`
	Message  string                 `json:"message"`
	Session  *models.SyncSession    `json:"session,omitempty"`
	Progress *Progress              `json:"progress,omitempty"`
	Summary  *Summary               `json:"summary,omitempty"`
	Channels []ChannelSummary       `json:"channels,omitempty"`
	Failures []models.SessionResult `json:"failures,omitempty"`
	Drift    *DriftReport           `json:"drift,omitempty"`
	Skipped  []string               `json:"skipped,omitempty"`
	HasMore  bool                   `json:"has_more"`
}

// NoActiveSession is the result reported when nothing is running
func NoActiveSession() *SyncResult {
	return &SyncResult{State: StateNone, Message: "no active sync session"}
}

// BuildSyncResult aggregates a session into a caller-facing result
func BuildSyncResult(session *models.SyncSession, driftCfg *DriftConfig) *SyncResult {
	if session == nil {
		return NoActiveSession()
	}

	outcomes := lo.Map(session.Results, func(r models.SessionResult, _ int) models.UpdateOutcome {
		return r.UpdateOutcome
	})
	summary := Summarize(outcomes)

	result := &SyncResult{
		State:    stateOf(session),
		Session:  session,
		Progress: progressOf(session),
		Summary:  &summary,
		Channels: channelSummaries(session.Results),
		Failures: lo.Filter(session.Results, func(r models.SessionResult, _ int) bool {
			return !r.Success
		}),
		Drift:   DetectDrift(session.Results, driftCfg),
		Skipped: session.Skipped,
		HasMore: session.IsActive() && session.RemainingBatches() > 0,
	}
	result.Message = messageFor(result)
	return result
}

func stateOf(session *models.SyncSession) SyncState {
	switch session.Status {
	case models.SessionFailed:
		return StateFailed
	case models.SessionCompleted:
		if session.FailureCount() > 0 {
			return StateCompletedWithFailures
		}
		return StateCompleted
	default:
		return StateInProgress
	}
}

func progressOf(session *models.SyncSession) *Progress {
	p := &Progress{
		TotalBatches:     session.TotalBatches,
		CompletedBatches: session.CurrentBatchIndex,
		RemainingBatches: session.RemainingBatches(),
		ProcessedSKUs:    session.ProcessedSKUs,
	}
	if session.TotalBatches > 0 {
		p.Percent = float64(session.CurrentBatchIndex) / float64(session.TotalBatches) * 100
	} else if session.Status == models.SessionCompleted {
		p.Percent = 100
	}
	return p
}

func channelSummaries(results []models.SessionResult) []ChannelSummary {
	grouped := lo.GroupBy(results, func(r models.SessionResult) models.ChannelType {
		return r.Channel
	})

	var out []ChannelSummary
	for _, ch := range models.AllChannels {
		rows, ok := grouped[ch]
		if !ok {
			continue
		}
		outcomes := lo.Map(rows, func(r models.SessionResult, _ int) models.UpdateOutcome {
			return r.UpdateOutcome
		})
		out = append(out, ChannelSummary{Channel: ch, Summary: Summarize(outcomes)})
	}
	return out
}

func messageFor(r *SyncResult) string {
	switch r.State {
	case StateFailed:
		return fmt.Sprintf("sync failed: %s", r.Session.ErrorMessage)
	case StateCompleted:
		return fmt.Sprintf("sync completed: %d updates succeeded", r.Summary.Succeeded)
	case StateCompletedWithFailures:
		return fmt.Sprintf("sync completed with %d failures out of %d updates", r.Summary.Failed, r.Summary.Total)
	default:
		return fmt.Sprintf("sync in progress: batch %d of %d", r.Progress.CompletedBatches, r.Progress.TotalBatches)
	}
}
