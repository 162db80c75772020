package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver dispatch states. A missing key reads as StateFree; every written
// state carries a TTL so a crashed coordinator can never strand a driver.
const (
	StateFree   = "free"
	StateLocked = "locked"
	StateBusy   = "busy"
)

func stateKey(driverID string) string { return "driver:" + driverID + ":state" }

// Store holds per-driver dispatch state in Redis with time-based expiry.
type Store struct {
	client redis.Cmdable
}

func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// State returns the driver's current dispatch state, defaulting to free
// when no record exists.
func (s *Store) State(ctx context.Context, driverID string) (string, error) {
	v, err := s.client.Get(ctx, stateKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return StateFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("get driver state: %w", err)
	}
	return v, nil
}

// TryLock reserves the driver for one matching attempt. The reservation is a
// single SET NX EX so two coordinators racing for the same driver cannot both
// win; it expires after ttl if never released.
func (s *Store) TryLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, stateKey(driverID), StateLocked, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock driver: %w", err)
	}
	return ok, nil
}

// Unlock returns the driver to free immediately. Unlocking an already-free
// driver is a no-op.
func (s *Store) Unlock(ctx context.Context, driverID string) error {
	if err := s.client.Del(ctx, stateKey(driverID)).Err(); err != nil {
		return fmt.Errorf("unlock driver: %w", err)
	}
	return nil
}

// Settle marks the driver busy for the duration of a trip. The longer TTL is
// still a backstop, not bookkeeping: trip completion flows clear it out of
// band.
func (s *Store) Settle(ctx context.Context, driverID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, stateKey(driverID), StateBusy, ttl).Err(); err != nil {
		return fmt.Errorf("settle driver: %w", err)
	}
	return nil
}
