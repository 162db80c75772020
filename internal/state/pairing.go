package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusAccepted = "accepted"

func pairingKey(customerID, driverID string) string {
	return "pairing:" + customerID + "+" + driverID
}

// PairingStore correlates one driver's acceptance with the coordinator task
// waiting on it. Entries are short-lived hand-off signals, never durable
// records.
type PairingStore struct {
	client redis.Cmdable
}

func NewPairingStore(client redis.Cmdable) *PairingStore {
	return &PairingStore{client: client}
}

// Accept records the driver's acceptance for the given pairing.
func (p *PairingStore) Accept(ctx context.Context, customerID, driverID string, ttl time.Duration) error {
	if err := p.client.Set(ctx, pairingKey(customerID, driverID), statusAccepted, ttl).Err(); err != nil {
		return fmt.Errorf("set pairing status: %w", err)
	}
	return nil
}

// Accepted reports whether the driver has accepted the pairing.
func (p *PairingStore) Accepted(ctx context.Context, customerID, driverID string) (bool, error) {
	v, err := p.client.Get(ctx, pairingKey(customerID, driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pairing status: %w", err)
	}
	return v == statusAccepted, nil
}

// AwaitAccept polls the pairing until it reads accepted, the window elapses,
// or ctx is cancelled. An early acceptance ends the wait immediately instead
// of sleeping out the full window. Read errors are tolerated between polls so
// a transient Redis blip cannot fail a match that would otherwise succeed.
func (p *PairingStore) AwaitAccept(ctx context.Context, customerID, driverID string, window, pollEvery time.Duration) (bool, error) {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := p.Accepted(ctx, customerID, driverID)
		if err != nil {
			lastErr = err
		} else if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, lastErr
		case <-ticker.C:
		}
	}
}
