package domain

import (
	"errors"
)

// Core Enums and Types

// AlertStatus represents the lifecycle state of an alert event.
type AlertStatus string

const (
	StatusPending  AlertStatus = "pending"
	StatusSent     AlertStatus = "sent"
	StatusFailed   AlertStatus = "failed"
	StatusResolved AlertStatus = "resolved"
)

// ThresholdType represents the comparator used by an alert rule.
type ThresholdType string

const (
	ThresholdGTE ThresholdType = "gte"
	ThresholdLTE ThresholdType = "lte"
	ThresholdGT  ThresholdType = "gt"
	ThresholdLT  ThresholdType = "lt"
	ThresholdEQ  ThresholdType = "eq"
)

// ChannelType represents a notification delivery mechanism.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
)

// Verdict represents human feedback on a resolved alert event.
type Verdict string

const (
	VerdictNoise         Verdict = "noise"
	VerdictReal          Verdict = "real"
	VerdictNeedsFollowup Verdict = "needs_followup"
)

// SeverityCategory buckets a drift magnitude for reporting.
type SeverityCategory string

const (
	SeverityCritical SeverityCategory = "critical"
	SeverityHigh     SeverityCategory = "high"
	SeverityMedium   SeverityCategory = "medium"
	SeverityLow      SeverityCategory = "low"
)

// Drift types produced by the built-in products.
const (
	DriftTypeDenialRate   = "denial_rate"
	DriftTypePaymentDelay = "avg_decision_time"
)

// ReportRunStatus represents the state of a computation run.
type ReportRunStatus string

const (
	RunPending ReportRunStatus = "pending"
	RunSuccess ReportRunStatus = "success"
	RunFailed  ReportRunStatus = "failed"
)

// Validation errors shared across the storage and service layers.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnknownMetric  = errors.New("unknown rule metric")
	ErrNoRecipients   = errors.New("no recipients configured")
	ErrTenantRequired = errors.New("customer id is required")
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s AlertStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusResolved:
		return true
	default:
		return false
	}
}

// IsValid reports whether the threshold type is a known comparator.
func (t ThresholdType) IsValid() bool {
	switch t {
	case ThresholdGTE, ThresholdLTE, ThresholdGT, ThresholdLT, ThresholdEQ:
		return true
	default:
		return false
	}
}

// IsValid reports whether the channel type is supported.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelWebhook:
		return true
	default:
		return false
	}
}

// IsValid reports whether the verdict is a known judgment value.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictNoise, VerdictReal, VerdictNeedsFollowup:
		return true
	default:
		return false
	}
}

// Rank orders severity categories so callers can compare them
// (low < medium < high < critical).
func (s SeverityCategory) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// String returns the string representation of the status.
func (s AlertStatus) String() string {
	return string(s)
}

// String returns the string representation of the severity category.
func (s SeverityCategory) String() string {
	return string(s)
}
