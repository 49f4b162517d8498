package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// ChannelRepository reads notification channel configuration from Postgres.
type ChannelRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(db *pgxpool.Pool, logger *logrus.Logger) *ChannelRepository {
	return &ChannelRepository{
		db:  db,
		log: logger,
	}
}

// ListEnabledChannels retrieves all enabled channels for a customer
func (r *ChannelRepository) ListEnabledChannels(ctx context.Context, customerID uuid.UUID) ([]*domain.NotificationChannel, error) {
	query := `
		SELECT id, customer_id, name, channel_type, config, enabled, created_at
		FROM notification_channels
		WHERE customer_id = $1 AND enabled
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing notification channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// GetChannels retrieves specific channels by ID within the customer scope.
// Disabled channels and IDs belonging to other customers are silently
// omitted from the result.
func (r *ChannelRepository) GetChannels(ctx context.Context, customerID uuid.UUID, channelIDs []uuid.UUID) ([]*domain.NotificationChannel, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, customer_id, name, channel_type, config, enabled, created_at
		FROM notification_channels
		WHERE customer_id = $1 AND enabled AND id = ANY($2)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, customerID, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("getting notification channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

func collectChannels(rows pgx.Rows) ([]*domain.NotificationChannel, error) {
	var channels []*domain.NotificationChannel
	for rows.Next() {
		var ch domain.NotificationChannel
		err := rows.Scan(
			&ch.ID,
			&ch.CustomerID,
			&ch.Name,
			&ch.ChannelType,
			&ch.Config,
			&ch.Enabled,
			&ch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning notification channel: %w", err)
		}
		channels = append(channels, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification channels: %w", err)
	}
	return channels, nil
}
