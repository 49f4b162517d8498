package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DriftTx is the transactional write surface available inside one engine
// run. Aggregates, signals, and the run's audit event are written through
// the same transaction so a partial failure leaves no rows behind.
type DriftTx interface {
	CreateAggregates(ctx context.Context, aggregates []*ClaimAggregate) (int, error)
	CreateSignals(ctx context.Context, signals []*DriftSignal) (int, error)
	CreateAuditEvent(ctx context.Context, event *AuditEvent) error
}

// DriftStore persists drift signals and claim aggregates.
type DriftStore interface {
	// InTx runs fn inside one storage transaction. If fn returns an error
	// the transaction rolls back and the error is returned unchanged.
	InTx(ctx context.Context, fn func(tx DriftTx) error) error
	GetSignal(ctx context.Context, customerID, signalID uuid.UUID) (*DriftSignal, error)
	ListSignals(ctx context.Context, customerID, reportRunID uuid.UUID) ([]*DriftSignal, error)
}

// RuleStore reads customer alert rule configuration.
type RuleStore interface {
	ListEnabledRules(ctx context.Context, customerID uuid.UUID) ([]*AlertRule, error)
	GetRule(ctx context.Context, customerID, ruleID uuid.UUID) (*AlertRule, error)
}

// AlertEventStore persists alert events and their status transitions.
type AlertEventStore interface {
	// CreateAlertEvent inserts the event unless one already exists for the
	// same (drift_event, alert_rule) pair; the existing event is returned
	// in that case. Implementations rely on a unique index, not
	// check-then-insert.
	CreateAlertEvent(ctx context.Context, event *AlertEvent) (*AlertEvent, bool, error)
	GetAlertEvent(ctx context.Context, customerID, eventID uuid.UUID) (*AlertEvent, error)
	ListAlertEvents(ctx context.Context, customerID uuid.UUID, status AlertStatus, limit, offset int) ([]*AlertEvent, error)
	ListPendingEvents(ctx context.Context) ([]*AlertEvent, error)
	// MarkSent transitions pending->sent atomically. It reports false when
	// the event was not in pending status (someone else got there first).
	MarkSent(ctx context.Context, customerID, eventID uuid.UUID, sentAt time.Time, errorMessage string) (bool, error)
	// MarkFailed transitions pending->failed atomically.
	MarkFailed(ctx context.Context, customerID, eventID uuid.UUID, errorMessage string) (bool, error)
	// ResetToPending transitions failed->pending, the manual operator
	// action that re-queues a failed alert after the root cause is fixed.
	ResetToPending(ctx context.Context, customerID, eventID uuid.UUID) (bool, error)
	// LatestSent returns the most recent notification_sent_at among sent
	// events matching the suppression key at or after since, or nil when
	// there is none. Callers derive the remaining cooldown from it.
	LatestSent(ctx context.Context, customerID uuid.UUID, key SuppressionEvidence, since time.Time) (*time.Time, error)
	// CountNoiseJudgments counts noise verdicts attached to the most
	// recent resolved events sharing the suppression key, scanning at most
	// scanLimit events.
	CountNoiseJudgments(ctx context.Context, customerID uuid.UUID, key SuppressionEvidence, scanLimit int) (int, error)
}

// ChannelStore reads customer notification channel configuration.
type ChannelStore interface {
	ListEnabledChannels(ctx context.Context, customerID uuid.UUID) ([]*NotificationChannel, error)
	GetChannels(ctx context.Context, customerID uuid.UUID, channelIDs []uuid.UUID) ([]*NotificationChannel, error)
}

// JudgmentStore persists operator feedback on resolved alerts.
type JudgmentStore interface {
	CreateJudgment(ctx context.Context, judgment *OperatorJudgment) error
	ListJudgments(ctx context.Context, customerID, alertEventID uuid.UUID) ([]*OperatorJudgment, error)
}

// ReportRunStore tracks computation run bookkeeping.
type ReportRunStore interface {
	CreateRun(ctx context.Context, run *ReportRun) error
	FinishRun(ctx context.Context, customerID, runID uuid.UUID, status ReportRunStatus, errMsg string) error
}

// AuditStore is the durable write surface for audit events.
type AuditStore interface {
	CreateAuditEvent(ctx context.Context, event *AuditEvent) error
}

// AuditPublisher records pipeline actions fire-and-forget: failures are
// logged, never propagated to the caller.
type AuditPublisher interface {
	Publish(ctx context.Context, customerID uuid.UUID, action, entityType, entityID string, metadata map[string]interface{})
}

// ClaimStore is the read-only query surface over ingested claim records.
// Ingestion and PHI scrubbing live outside this module.
type ClaimStore interface {
	// DailyAggregates returns per-day claim aggregates for the customer
	// over [start, end), grouped by (payer, cpt_group, day).
	DailyAggregates(ctx context.Context, customerID uuid.UUID, start, end time.Time) ([]*ClaimAggregate, error)
}

// ArtifactProvider generates or locates report PDF artifacts. Generation
// may take seconds; callers must degrade gracefully on failure.
type ArtifactProvider interface {
	ReportPDF(ctx context.Context, customerID, reportRunID uuid.UUID) (string, error)
}
