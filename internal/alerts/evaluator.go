// Package alerts turns drift signals into routed, suppressed, audited
// notifications.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Product names attached to alert payloads per drift type.
const (
	ProductDriftWatch = "DriftWatch"
	ProductDelayGuard = "DelayGuard"
)

// Evaluator matches drift signals against customer alert rules and
// idempotently creates alert events.
type Evaluator struct {
	rules  domain.RuleStore
	events domain.AlertEventStore
	audit  domain.AuditPublisher
	cache  *lru.Cache
	ttl    time.Duration
	log    *logrus.Logger
	now    func() time.Time
}

type cachedRules struct {
	rules   []*domain.AlertRule
	expires time.Time
}

// NewEvaluator creates an alert rule evaluator. Rule lookups are cached per
// customer with a short TTL; rule edits take effect within one TTL.
func NewEvaluator(rules domain.RuleStore, events domain.AlertEventStore, audit domain.AuditPublisher, config domain.AlertingConfig, logger *logrus.Logger) (*Evaluator, error) {
	size := config.RuleCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating rule cache: %w", err)
	}

	return &Evaluator{
		rules:  rules,
		events: events,
		audit:  audit,
		cache:  cache,
		ttl:    config.RuleCacheTTL,
		log:    logger,
		now:    time.Now,
	}, nil
}

// Evaluate runs the signal against every enabled rule for its customer.
// Matching rules yield alert events; an event that already exists for the
// (signal, rule) pair is returned unchanged. The result preserves rule
// iteration order, so repeated calls yield the same events.
func (e *Evaluator) Evaluate(ctx context.Context, signal *domain.DriftSignal) ([]*domain.AlertEvent, error) {
	if signal.CustomerID == uuid.Nil {
		return nil, domain.ErrTenantRequired
	}

	rules, err := e.enabledRules(ctx, signal.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("loading alert rules: %w", err)
	}

	var events []*domain.AlertEvent
	for _, rule := range rules {
		value, err := metricValue(signal, rule.Metric)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"customer_id": signal.CustomerID,
				"rule_id":     rule.ID,
				"metric":      rule.Metric,
			}).Warn("Skipping rule with unknown metric")
			continue
		}

		if !compare(rule.ThresholdType, value, rule.ThresholdValue) {
			continue
		}

		event, created, err := e.events.CreateAlertEvent(ctx, e.buildEvent(signal, rule))
		if err != nil {
			return nil, fmt.Errorf("creating alert event for rule %s: %w", rule.Name, err)
		}
		events = append(events, event)

		if created {
			e.audit.Publish(ctx, signal.CustomerID, domain.AuditAlertEventCreated,
				"alert_event", event.ID.String(), map[string]interface{}{
					"rule_name":      rule.Name,
					"drift_event_id": signal.ID.String(),
					"metric":         rule.Metric,
					"value":          value,
				})
			e.log.WithFields(logrus.Fields{
				"customer_id":    signal.CustomerID,
				"alert_event_id": event.ID,
				"rule_name":      rule.Name,
			}).Info("Alert event created")
		}
	}

	return events, nil
}

func (e *Evaluator) enabledRules(ctx context.Context, customerID uuid.UUID) ([]*domain.AlertRule, error) {
	if cached, ok := e.cache.Get(customerID); ok {
		entry := cached.(cachedRules)
		if e.now().Before(entry.expires) {
			return entry.rules, nil
		}
		e.cache.Remove(customerID)
	}

	rules, err := e.rules.ListEnabledRules(ctx, customerID)
	if err != nil {
		return nil, err
	}

	e.cache.Add(customerID, cachedRules{rules: rules, expires: e.now().Add(e.ttl)})
	return rules, nil
}

func (e *Evaluator) buildEvent(signal *domain.DriftSignal, rule *domain.AlertRule) *domain.AlertEvent {
	severity := signal.Severity
	reportRunID := signal.ReportRunID
	driftEventID := signal.ID

	return &domain.AlertEvent{
		ID:           uuid.New(),
		CustomerID:   signal.CustomerID,
		AlertRuleID:  rule.ID,
		DriftEventID: &driftEventID,
		ReportRunID:  &reportRunID,
		TriggeredAt:  e.now().UTC(),
		Status:       domain.StatusPending,
		Payload: domain.AlertPayload{
			ProductName:   productName(signal.DriftType),
			SignalType:    signal.DriftType,
			EntityLabel:   entityLabel(signal),
			Payer:         signal.Payer,
			CPTGroup:      signal.CPTGroup,
			DriftType:     signal.DriftType,
			BaselineValue: signal.BaselineValue,
			CurrentValue:  signal.CurrentValue,
			DeltaValue:    signal.DeltaValue,
			Severity:      &severity,
			RuleName:      rule.Name,
			RuleThreshold: rule.ThresholdValue,
		},
	}
}

// metricValue resolves the rule's metric name against the signal.
func metricValue(signal *domain.DriftSignal, metric string) (float64, error) {
	switch metric {
	case "severity":
		return signal.Severity, nil
	case "confidence":
		return signal.Confidence, nil
	case "delta_value":
		return signal.DeltaValue, nil
	case "current_value":
		return signal.CurrentValue, nil
	case "baseline_value":
		return signal.BaselineValue, nil
	default:
		return 0, fmt.Errorf("metric %q: %w", metric, domain.ErrUnknownMetric)
	}
}

func compare(op domain.ThresholdType, value, threshold float64) bool {
	switch op {
	case domain.ThresholdGTE:
		return value >= threshold
	case domain.ThresholdLTE:
		return value <= threshold
	case domain.ThresholdGT:
		return value > threshold
	case domain.ThresholdLT:
		return value < threshold
	case domain.ThresholdEQ:
		return value == threshold
	default:
		return false
	}
}

func productName(driftType string) string {
	if driftType == domain.DriftTypePaymentDelay {
		return ProductDelayGuard
	}
	return ProductDriftWatch
}

func entityLabel(signal *domain.DriftSignal) string {
	if signal.CPTGroup == "" {
		return signal.Payer
	}
	return signal.Payer + " / " + signal.CPTGroup
}
