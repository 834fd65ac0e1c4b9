package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/paygate/core/logger"
)

const (
	sessionKeyPrefix     = "session:"
	reservationKeyPrefix = "reservation:"

	redisConnectTimeout = 10 * time.Second
	redisScanBatch      = 100
)

var (
	// ErrRedisURL is returned when the Redis connection string cannot be parsed.
	ErrRedisURL = errors.New("session: invalid redis url")
	// ErrRedisNotReady is returned when Redis does not answer PING.
	ErrRedisNotReady = errors.New("session: redis not ready")
)

// ConnectRedis parses a redis:// URL and verifies the server answers PING.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrRedisURL, err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}

	logger.Info(ctx, "store", "redis.connect",
		slog.String("status", "ok"),
		slog.String("host", opts.Addr),
	)
	return client, nil
}

type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore keeps sessions and reservations as JSON values under prefix.
// Keys never expire; the expiry scheduler owns the subscription period.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *redisStore) sessionKey(userID string) string {
	return r.prefix + sessionKeyPrefix + userID
}

func (r *redisStore) reservationKey(txID string) string {
	return r.prefix + reservationKeyPrefix + txID
}

func (r *redisStore) GetSession(ctx context.Context, userID string) (Session, error) {
	var s Session
	if err := r.getJSON(ctx, r.sessionKey(userID), &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *redisStore) PutSession(ctx context.Context, s Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now().UTC()
	}
	return r.setJSON(ctx, r.sessionKey(s.UserID), s)
}

func (r *redisStore) DeleteSession(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("session: redis delete session: %w", err)
	}
	return nil
}

// ListSessions walks the session keys with SCAN and filters them by status.
func (r *redisStore) ListSessions(ctx context.Context, status Status) ([]Session, error) {
	var out []Session
	iter := r.client.Scan(ctx, 0, r.prefix+sessionKeyPrefix+"*", redisScanBatch).Iterator()
	keys := make([]string, 0, redisScanBatch)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		vals, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("session: redis mget sessions: %w", err)
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			var s Session
			if err := json.Unmarshal([]byte(raw), &s); err != nil {
				return fmt.Errorf("session: decode %s: %w", keys[i], err)
			}
			if s.Status == status {
				out = append(out, s)
			}
		}
		keys = keys[:0]
		return nil
	}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == redisScanBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session: redis scan sessions: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *redisStore) GetReservation(ctx context.Context, txID string) (Reservation, error) {
	var res Reservation
	if err := r.getJSON(ctx, r.reservationKey(txID), &res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (r *redisStore) PutReservation(ctx context.Context, res Reservation) error {
	if err := validateReservation(res); err != nil {
		return err
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now().UTC()
	}
	return r.setJSON(ctx, r.reservationKey(res.TransactionID), res)
}

func (r *redisStore) DeleteReservation(ctx context.Context, txID string) error {
	if err := r.client.Del(ctx, r.reservationKey(txID)).Err(); err != nil {
		return fmt.Errorf("session: redis delete reservation: %w", err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

func (r *redisStore) getJSON(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session: redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("session: decode %s: %w", key, err)
	}
	return nil
}

func (r *redisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", key, err)
	}
	return nil
}
