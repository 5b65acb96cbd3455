package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// defaultChallengeTTL bounds abandoned payment attempts. It is deliberately
// longer than any OTP window so an expired challenge can still be restarted
// from the same session.
const defaultChallengeTTL = 30 * time.Minute

// ErrChallengeNotFound is returned for unknown or expired challenge ids.
var ErrChallengeNotFound = errors.New("payment: challenge session not found")

// Store keeps challenge sessions in Redis for the lifetime of one payment
// attempt. Values are JSON; every save refreshes the TTL.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewStore creates a challenge store with the given TTL (0 means default).
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("payment: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &Store{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("patientflow.internal.payment.store"),
	}
}

// SaveChallenge persists a challenge session and refreshes its TTL.
func (s *Store) SaveChallenge(ctx context.Context, c *ChallengeSession) error {
	ctx, span := s.tracer.Start(ctx, "payment.save_challenge")
	defer span.End()

	data, err := json.Marshal(c)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("payment: marshal challenge: %w", err)
	}
	if err := s.redis.Set(ctx, challengeKey(c.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("payment: persist challenge: %w", err)
	}
	return nil
}

// LoadChallenge fetches a challenge session by id.
func (s *Store) LoadChallenge(ctx context.Context, id string) (*ChallengeSession, error) {
	ctx, span := s.tracer.Start(ctx, "payment.load_challenge")
	defer span.End()

	data, err := s.redis.Get(ctx, challengeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("payment: load challenge: %w", err)
	}
	var c ChallengeSession
	if err := json.Unmarshal(data, &c); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payment: decode challenge: %w", err)
	}
	return &c, nil
}

// DeleteChallenge discards a challenge session.
func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, challengeKey(id)).Err(); err != nil {
		return fmt.Errorf("payment: delete challenge: %w", err)
	}
	return nil
}

func challengeKey(id string) string {
	return fmt.Sprintf("payment_challenge:%s", id)
}
