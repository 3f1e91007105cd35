package services

import (
	"math"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// DriftConfig defines thresholds for reporting channel drift
type DriftConfig struct {
	AbsoluteThreshold   int     // Absolute difference threshold
	PercentageThreshold float64 // Percentage difference threshold
}

// DefaultDriftConfig returns production-ready defaults
func DefaultDriftConfig() *DriftConfig {
	return &DriftConfig{
		AbsoluteThreshold:   5,
		PercentageThreshold: 10.0, // 10%
	}
}

// DriftSeverity represents how far a channel had drifted from the warehouse
type DriftSeverity string

const (
	SeverityLow      DriftSeverity = "LOW"
	SeverityMedium   DriftSeverity = "MEDIUM"
	SeverityHigh     DriftSeverity = "HIGH"
	SeverityCritical DriftSeverity = "CRITICAL"
)

// Drift is a channel quantity that disagreed with the warehouse before the
// update corrected it
type Drift struct {
	Channel          models.ChannelType `json:"channel"`
	ChannelSKU       string             `json:"channel_sku"`
	TargetQuantity   int                `json:"target_quantity"`
	ChannelQuantity  int                `json:"channel_quantity"`
	Difference       int                `json:"difference"`
	PercentageDiff   float64            `json:"percentage_diff"`
	Severity         DriftSeverity      `json:"severity"`
	VerifiedAfterFix *bool              `json:"verified_after_fix,omitempty"`
}

// DriftReport groups detected drift by severity
type DriftReport struct {
	Items         []Drift `json:"items,omitempty"`
	CriticalCount int     `json:"critical_count"`
	HighCount     int     `json:"high_count"`
	MediumCount   int     `json:"medium_count"`
	LowCount      int     `json:"low_count"`
	Unverified    int     `json:"unverified"`
}

// DetectDrift inspects successful outcomes that recorded the previous
// channel quantity. Differences within both thresholds are ignored.
func DetectDrift(results []models.SessionResult, cfg *DriftConfig) *DriftReport {
	if cfg == nil {
		cfg = DefaultDriftConfig()
	}
	report := &DriftReport{}

	for _, r := range results {
		if !r.Success {
			continue
		}
		if r.Verified != nil && !*r.Verified {
			report.Unverified++
		}
		if r.PreviousQuantity == nil {
			continue
		}

		target := r.NewQuantity
		external := *r.PreviousQuantity
		diff := external - target

		absDiff := int(math.Abs(float64(diff)))
		var percentDiff float64
		if target > 0 {
			percentDiff = (float64(absDiff) / float64(target)) * 100
		} else if external > 0 {
			percentDiff = 100.0 // Target is 0, channel is not
		}

		if absDiff <= cfg.AbsoluteThreshold && percentDiff <= cfg.PercentageThreshold {
			continue
		}

		severity := calculateSeverity(absDiff, percentDiff)
		switch severity {
		case SeverityCritical:
			report.CriticalCount++
		case SeverityHigh:
			report.HighCount++
		case SeverityMedium:
			report.MediumCount++
		default:
			report.LowCount++
		}

		report.Items = append(report.Items, Drift{
			Channel:          r.Channel,
			ChannelSKU:       r.ChannelSKU,
			TargetQuantity:   target,
			ChannelQuantity:  external,
			Difference:       diff,
			PercentageDiff:   percentDiff,
			Severity:         severity,
			VerifiedAfterFix: r.Verified,
		})
	}
	return report
}

// calculateSeverity determines drift severity
func calculateSeverity(absDiff int, percentDiff float64) DriftSeverity {
	// Critical: Large absolute difference or complete mismatch
	if absDiff > 100 || percentDiff > 50 {
		return SeverityCritical
	}

	// High: Significant difference
	if absDiff > 50 || percentDiff > 25 {
		return SeverityHigh
	}

	// Medium: Moderate difference
	if absDiff > 20 || percentDiff > 15 {
		return SeverityMedium
	}

	return SeverityLow
}
