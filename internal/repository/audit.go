package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// AuditRepository persists audit events in Postgres.
type AuditRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool, logger *logrus.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: logger,
	}
}

// CreateAuditEvent inserts a new audit event
func (r *AuditRepository) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, customer_id, action, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.CustomerID,
		event.Action,
		event.EntityType,
		event.EntityID,
		event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("creating audit event: %w", err)
	}
	return nil
}
