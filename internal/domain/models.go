package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TimeWindow is a date range used for baseline vs current comparison.
// Start and End are date-resolution timestamps (midnight UTC). The baseline
// window's End equals the current window's Start; aggregate queries treat
// ranges as [Start, End) so the shared boundary day is counted once.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the window length in whole days.
func (w TimeWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// IsZeroLength reports whether the window collapsed to nothing, which can
// happen when an absolute start date is very recent. Callers must treat
// baseline statistics from such a window as meaningless.
func (w TimeWindow) IsZeroLength() bool {
	return !w.End.After(w.Start)
}

// Customer is the tenant root. Every other entity is exclusively scoped to
// one customer and must never be visible across tenants.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportRun tracks one scheduled computation run for a customer.
type ReportRun struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Status     ReportRunStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ClaimAggregate is one day of claim activity for a (payer, cpt_group)
// pair. Aggregates are recomputed per run inside the run's transaction.
type ClaimAggregate struct {
	ID              uuid.UUID `json:"id"`
	CustomerID      uuid.UUID `json:"customer_id"`
	ReportRunID     uuid.UUID `json:"report_run_id"`
	Payer           string    `json:"payer"`
	CPTGroup        string    `json:"cpt_group"`
	Day             time.Time `json:"day"`
	ClaimCount      int       `json:"claim_count"`
	DeniedCount     int       `json:"denied_count"`
	AvgDecisionDays float64   `json:"avg_decision_days"`
	AllowedAmount   float64   `json:"allowed_amount"`
}

// DriftSignal is one detected anomaly. Identity is the tuple
// (customer, report_run, payer, cpt_group, drift_type); a run never creates
// two signals with the same identity. Signals are immutable after creation
// and are only superseded by a later run's signals.
type DriftSignal struct {
	ID                      uuid.UUID  `json:"id"`
	CustomerID              uuid.UUID  `json:"customer_id"`
	ReportRunID             uuid.UUID  `json:"report_run_id"`
	Payer                   string     `json:"payer"`
	CPTGroup                string     `json:"cpt_group"`
	DriftType               string     `json:"drift_type"`
	BaselineValue           float64    `json:"baseline_value"`
	CurrentValue            float64    `json:"current_value"`
	DeltaValue              float64    `json:"delta_value"`
	Severity                float64    `json:"severity"`
	Confidence              float64    `json:"confidence"`
	StatisticalSignificance *float64   `json:"statistical_significance,omitempty"`
	BaselineWindow          TimeWindow `json:"baseline_window"`
	CurrentWindow           TimeWindow `json:"current_window"`
	SampleSize              int        `json:"sample_size"`
	CreatedAt               time.Time  `json:"created_at"`
}

// Validate checks the invariants that must hold for every signal.
func (s *DriftSignal) Validate() error {
	if s.CustomerID == uuid.Nil {
		return ErrTenantRequired
	}
	if s.Payer == "" || s.DriftType == "" {
		return ErrInvalidInput
	}
	if math.Abs(s.DeltaValue-(s.CurrentValue-s.BaselineValue)) > 1e-9 {
		return ErrInvalidInput
	}
	if s.Severity < 0 || s.Severity > 1 || s.Confidence < 0 || s.Confidence > 1 {
		return ErrInvalidInput
	}
	return nil
}

// AlertRule is customer-scoped alert configuration. Rules are read-only to
// the alert engine; admins manage them elsewhere.
type AlertRule struct {
	ID                uuid.UUID     `json:"id"`
	CustomerID        uuid.UUID     `json:"customer_id"`
	Name              string        `json:"name"`
	Enabled           bool          `json:"enabled"`
	Metric            string        `json:"metric"`
	ThresholdType     ThresholdType `json:"threshold_type"`
	ThresholdValue    float64       `json:"threshold_value"`
	RoutingChannelIDs []uuid.UUID   `json:"routing_channel_ids,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// AlertPayload is the denormalized snapshot stored on each alert event.
// It is the only signal data the notification path reads, and the
// (ProductName, SignalType, EntityLabel) triple is the suppression key.
type AlertPayload struct {
	ProductName   string   `json:"product_name"`
	SignalType    string   `json:"signal_type"`
	EntityLabel   string   `json:"entity_label"`
	Payer         string   `json:"payer"`
	CPTGroup      string   `json:"cpt_group,omitempty"`
	DriftType     string   `json:"drift_type"`
	BaselineValue float64  `json:"baseline_value"`
	CurrentValue  float64  `json:"current_value"`
	DeltaValue    float64  `json:"delta_value"`
	Severity      *float64 `json:"severity,omitempty"`
	RuleName      string   `json:"rule_name"`
	RuleThreshold float64  `json:"rule_threshold"`
}

// AlertEvent is one notification obligation. At most one event exists per
// (drift_event, alert_rule) pair; the storage layer enforces this with a
// unique index so concurrent evaluation cannot create duplicates.
type AlertEvent struct {
	ID                 uuid.UUID    `json:"id"`
	CustomerID         uuid.UUID    `json:"customer_id"`
	AlertRuleID        uuid.UUID    `json:"alert_rule_id"`
	DriftEventID       *uuid.UUID   `json:"drift_event_id,omitempty"`
	ReportRunID        *uuid.UUID   `json:"report_run_id,omitempty"`
	TriggeredAt        time.Time    `json:"triggered_at"`
	Status             AlertStatus  `json:"status"`
	Payload            AlertPayload `json:"payload"`
	NotificationSentAt *time.Time   `json:"notification_sent_at,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
}

// ChannelConfig holds channel-specific delivery settings.
type ChannelConfig struct {
	Recipients []string `json:"recipients,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// NotificationChannel is a customer-scoped delivery target.
type NotificationChannel struct {
	ID          uuid.UUID     `json:"id"`
	CustomerID  uuid.UUID     `json:"customer_id"`
	Name        string        `json:"name"`
	ChannelType ChannelType   `json:"channel_type"`
	Config      ChannelConfig `json:"config"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"created_at"`
}

// OperatorJudgment is human feedback on a resolved alert event, consumed
// by the suppression engine's noise-pattern check.
type OperatorJudgment struct {
	ID           uuid.UUID `json:"id"`
	CustomerID   uuid.UUID `json:"customer_id"`
	AlertEventID uuid.UUID `json:"alert_event_id"`
	Verdict      Verdict   `json:"verdict"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEvent is a durable record of a pipeline action.
type AuditEvent struct {
	ID         uuid.UUID              `json:"id"`
	CustomerID uuid.UUID              `json:"customer_id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Audit actions emitted by the pipeline.
const (
	AuditAlertEventCreated = "alert_event_created"
	AuditAlertEventSent    = "alert_event_sent"
	AuditAlertEventFailed  = "alert_event_failed"
)

// SuppressionEvidence is the semantic identity of an alert used by the
// suppression engine. A nil/empty evidence is never suppressed.
type SuppressionEvidence struct {
	ProductName string   `json:"product_name"`
	SignalType  string   `json:"signal_type"`
	EntityLabel string   `json:"entity_label"`
	Severity    *float64 `json:"severity,omitempty"`
}

// IsEmpty reports whether the evidence carries no usable suppression key.
func (e *SuppressionEvidence) IsEmpty() bool {
	return e == nil || (e.ProductName == "" && e.SignalType == "" && e.EntityLabel == "")
}

// SuppressionContext explains why an alert would be suppressed.
type SuppressionContext struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ComputationResult is the structured result of one engine run.
type ComputationResult struct {
	SignalsCreated    int                    `json:"signals_created"`
	AggregatesCreated int                    `json:"aggregates_created"`
	BaselineWindow    TimeWindow             `json:"baseline_window"`
	CurrentWindow     TimeWindow             `json:"current_window"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// ProcessResult summarizes one batch of pending alert processing.
type ProcessResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
