package schedule

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

// defaultSessionTTL bounds abandoned sessions; an expired key is an
// abandoned attempt and needs no server-side compensation.
const defaultSessionTTL = 30 * time.Minute

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("schedule: session not found")

// Store keeps wizard and reschedule sessions in Redis for the lifetime of
// one attempt. Values are JSON; every save refreshes the TTL.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewStore creates a session store with the given TTL (0 means default).
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("schedule: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Store{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("patientflow.internal.schedule.store"),
	}
}

// SaveSession persists a wizard session and refreshes its TTL.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "schedule.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: persist session: %w", err)
	}
	return nil
}

// LoadSession fetches a wizard session by id.
func (s *Store) LoadSession(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("schedule: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("schedule: decode session: %w", err)
	}
	return &sess, nil
}

// DeleteSession discards a wizard session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("schedule: delete session: %w", err)
	}
	return nil
}

// SaveReschedule persists a reschedule session and refreshes its TTL.
func (s *Store) SaveReschedule(ctx context.Context, rs *RescheduleSession) error {
	ctx, span := s.tracer.Start(ctx, "schedule.save_reschedule")
	defer span.End()

	data, err := json.Marshal(rs)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: marshal reschedule session: %w", err)
	}
	if err := s.redis.Set(ctx, rescheduleKey(rs.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: persist reschedule session: %w", err)
	}
	return nil
}

// LoadReschedule fetches a reschedule session by id.
func (s *Store) LoadReschedule(ctx context.Context, id string) (*RescheduleSession, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.load_reschedule")
	defer span.End()

	data, err := s.redis.Get(ctx, rescheduleKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("schedule: load reschedule session: %w", err)
	}
	var rs RescheduleSession
	if err := json.Unmarshal(data, &rs); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("schedule: decode reschedule session: %w", err)
	}
	return &rs, nil
}

// DeleteReschedule discards a reschedule session.
func (s *Store) DeleteReschedule(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, rescheduleKey(id)).Err(); err != nil {
		return fmt.Errorf("schedule: delete reschedule session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("booking_session:%s", id)
}

func rescheduleKey(id string) string {
	return fmt.Sprintf("reschedule_session:%s", id)
}
