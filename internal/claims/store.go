// Package claims provides read-only access to the ingested claims
// warehouse. Ingestion, scrubbing, and retention are owned by the intake
// pipeline; this module only aggregates.
package claims

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Store queries daily claim aggregates from the claims warehouse.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewStore opens a connection to the claims warehouse.
func NewStore(dsn string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening claims database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging claims database: %w", err)
	}

	return &Store{db: db, log: logger}, nil
}

// NewStoreWithDB wraps an existing connection, used by tests.
func NewStoreWithDB(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, log: logger}
}

// DailyAggregates returns per-day claim aggregates for the customer over
// [start, end), grouped by (payer, cpt_group, day). Rows with no decided
// claims report an average decision time of zero.
func (s *Store) DailyAggregates(ctx context.Context, customerID uuid.UUID, start, end time.Time) ([]*domain.ClaimAggregate, error) {
	query := `
		SELECT payer, cpt_group, service_date::date AS day,
			   COUNT(*) AS claim_count,
			   COUNT(*) FILTER (WHERE status = 'denied') AS denied_count,
			   COALESCE(AVG(EXTRACT(EPOCH FROM decided_at - submitted_at) / 86400)
					FILTER (WHERE decided_at IS NOT NULL), 0) AS avg_decision_days,
			   COALESCE(SUM(allowed_amount), 0) AS allowed_amount
		FROM claims
		WHERE customer_id = $1
		  AND service_date >= $2
		  AND service_date < $3
		GROUP BY payer, cpt_group, service_date::date
		ORDER BY payer, cpt_group, day`

	rows, err := s.db.QueryContext(ctx, query, customerID, start, end)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"error":       err,
		}).Error("Failed to query claim aggregates")
		return nil, fmt.Errorf("querying claim aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []*domain.ClaimAggregate
	for rows.Next() {
		agg := &domain.ClaimAggregate{CustomerID: customerID}
		err := rows.Scan(
			&agg.Payer,
			&agg.CPTGroup,
			&agg.Day,
			&agg.ClaimCount,
			&agg.DeniedCount,
			&agg.AvgDecisionDays,
			&agg.AllowedAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning claim aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claim aggregates: %w", err)
	}

	return aggregates, nil
}

// Close closes the warehouse connection.
func (s *Store) Close() error {
	return s.db.Close()
}
