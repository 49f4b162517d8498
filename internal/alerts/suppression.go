package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Suppression context types surfaced by GetSuppressionContext.
const (
	SuppressionCooldown = "cooldown"
	SuppressionNoise    = "noise"
)

// cooldownCache is the fast path over the store's cooldown query. A miss or
// error falls through to the store; the cache is never authoritative on the
// negative side.
type cooldownCache interface {
	IsSuppressed(ctx context.Context, key string) (bool, error)
	MarkSuppressed(ctx context.Context, key string, ttl time.Duration) error
}

type redisCooldownCache struct {
	client *redis.Client
}

func (c *redisCooldownCache) IsSuppressed(ctx context.Context, key string) (bool, error) {
	hit, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return hit == "1", nil
}

func (c *redisCooldownCache) MarkSuppressed(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// SuppressionEngine decides whether a new alert should be held back given
// recent delivery history and human noise judgments for the same semantic
// key. Either trigger alone is sufficient.
type SuppressionEngine struct {
	events domain.AlertEventStore
	cache  cooldownCache
	config domain.AlertingConfig
	log    *logrus.Logger
	now    func() time.Time
}

// NewSuppressionEngine creates a suppression engine. cache may be nil; the
// Redis fast path only avoids repeated cooldown queries and is never
// authoritative on the negative side.
func NewSuppressionEngine(events domain.AlertEventStore, cache *redis.Client, config domain.AlertingConfig, logger *logrus.Logger) *SuppressionEngine {
	engine := &SuppressionEngine{
		events: events,
		config: config,
		log:    logger,
		now:    time.Now,
	}
	if cache != nil {
		engine.cache = &redisCooldownCache{client: cache}
	}
	return engine
}

// IsSuppressed reports whether an alert carrying this evidence should be
// suppressed. Empty evidence is never suppressed.
func (s *SuppressionEngine) IsSuppressed(ctx context.Context, customerID uuid.UUID, evidence *domain.SuppressionEvidence) (bool, error) {
	if evidence.IsEmpty() {
		return false, nil
	}

	cacheKey := s.cacheKey(customerID, evidence)
	if s.cache != nil {
		if hit, err := s.cache.IsSuppressed(ctx, cacheKey); err == nil && hit {
			return true, nil
		} else if err != nil {
			s.log.WithError(err).Warn("Suppression cache read failed; falling through to store")
		}
	}

	since := s.now().Add(-s.config.SuppressionCooldown)
	sentAt, err := s.events.LatestSent(ctx, customerID, *evidence, since)
	if err != nil {
		return false, fmt.Errorf("checking cooldown suppression: %w", err)
	}
	if sentAt != nil {
		s.cacheSuppressed(ctx, cacheKey, *sentAt)
		return true, nil
	}

	noiseCount, err := s.events.CountNoiseJudgments(ctx, customerID, *evidence, s.config.NoiseScanLimit)
	if err != nil {
		return false, fmt.Errorf("checking noise suppression: %w", err)
	}
	if noiseCount >= s.config.NoiseVerdictMinimum {
		return true, nil
	}

	return false, nil
}

// GetSuppressionContext explains why this evidence would be suppressed,
// returning nil when it would not be.
func (s *SuppressionEngine) GetSuppressionContext(ctx context.Context, customerID uuid.UUID, evidence *domain.SuppressionEvidence) (*domain.SuppressionContext, error) {
	if evidence.IsEmpty() {
		return nil, nil
	}

	since := s.now().Add(-s.config.SuppressionCooldown)
	sentAt, err := s.events.LatestSent(ctx, customerID, *evidence, since)
	if err != nil {
		return nil, fmt.Errorf("checking cooldown suppression: %w", err)
	}
	if sentAt != nil {
		return &domain.SuppressionContext{Type: SuppressionCooldown, Count: 1}, nil
	}

	noiseCount, err := s.events.CountNoiseJudgments(ctx, customerID, *evidence, s.config.NoiseScanLimit)
	if err != nil {
		return nil, fmt.Errorf("checking noise suppression: %w", err)
	}
	if noiseCount >= s.config.NoiseVerdictMinimum {
		return &domain.SuppressionContext{Type: SuppressionNoise, Count: noiseCount}, nil
	}

	return nil, nil
}

// cacheSuppressed records the positive with a TTL capped at the remaining
// cooldown, so the cache entry expires exactly when the suppression does.
func (s *SuppressionEngine) cacheSuppressed(ctx context.Context, key string, sentAt time.Time) {
	if s.cache == nil {
		return
	}
	remaining := sentAt.Add(s.config.SuppressionCooldown).Sub(s.now())
	if remaining <= 0 {
		return
	}
	if err := s.cache.MarkSuppressed(ctx, key, remaining); err != nil {
		s.log.WithError(err).Warn("Suppression cache write failed")
	}
}

func (s *SuppressionEngine) cacheKey(customerID uuid.UUID, evidence *domain.SuppressionEvidence) string {
	return fmt.Sprintf("driftwatch:suppress:%s:%s:%s:%s",
		customerID, evidence.ProductName, evidence.SignalType, evidence.EntityLabel)
}
