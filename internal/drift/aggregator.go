package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payrixa/driftwatch/internal/domain"
)

// ClaimAggregator pulls per-day aggregates from the claims warehouse and
// stamps them with the run identity. Both products share the same
// aggregates; only detection differs.
type ClaimAggregator struct {
	claims domain.ClaimStore
}

// NewClaimAggregator creates an aggregator over the claims warehouse.
func NewClaimAggregator(claims domain.ClaimStore) *ClaimAggregator {
	return &ClaimAggregator{claims: claims}
}

// ComputeAggregates queries daily aggregates over [start, end).
func (a *ClaimAggregator) ComputeAggregates(ctx context.Context, customerID, reportRunID uuid.UUID, start, end time.Time) ([]*domain.ClaimAggregate, error) {
	aggregates, err := a.claims.DailyAggregates(ctx, customerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying daily aggregates: %w", err)
	}

	for _, agg := range aggregates {
		agg.ID = uuid.New()
		agg.CustomerID = customerID
		agg.ReportRunID = reportRunID
	}
	return aggregates, nil
}
