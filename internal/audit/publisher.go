// Package audit records pipeline actions as durable audit events.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Publisher writes audit events fire-and-forget: a failed audit write is
// logged and dropped, never propagated, so auditing can't break the
// pipeline it observes.
type Publisher struct {
	store domain.AuditStore
	log   *logrus.Logger
}

// NewPublisher creates a new audit publisher.
func NewPublisher(store domain.AuditStore, logger *logrus.Logger) *Publisher {
	return &Publisher{store: store, log: logger}
}

// Publish records one audit event.
func (p *Publisher) Publish(ctx context.Context, customerID uuid.UUID, action, entityType, entityID string, metadata map[string]interface{}) {
	event := &domain.AuditEvent{
		ID:         uuid.New(),
		CustomerID: customerID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	}

	if err := p.store.CreateAuditEvent(ctx, event); err != nil {
		p.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"action":      action,
			"entity_id":   entityID,
			"error":       err,
		}).Warn("Failed to write audit event")
	}
}
