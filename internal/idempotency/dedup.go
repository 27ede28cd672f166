// Package idempotency maps caller-supplied idempotency keys to previously
// computed results, enforcing at-most-one execution per key within a bounded
// window.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "idem:"
	reservedMarker = "__reserved__"
)

// ErrEmptyKey is returned when a reservation is attempted without a key.
var ErrEmptyKey = errors.New("idempotency key is required")

// Status describes the state of an idempotency key.
type Status int

const (
	// StatusFresh means the key was unseen and is now reserved; the caller
	// must execute the operation and Commit or Release.
	StatusFresh Status = iota + 1
	// StatusInProgress means another request holds the reservation and has
	// not finished yet.
	StatusInProgress
	// StatusDone means the operation already completed; Result carries the
	// stored outcome verbatim.
	StatusDone
)

// Outcome is the result of a reservation attempt.
type Outcome struct {
	Status Status
	Result []byte
}

// Deduplicator reserves idempotency keys in Redis. A reservation is one
// atomic SETNX, so two concurrent requests with the same key cannot both
// execute: exactly one observes StatusFresh.
//
// Records expire after the configured window. A replay arriving after expiry
// executes as a brand new operation; that bounded window is an accepted
// trade-off, not an oversight.
type Deduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Deduplicator with the given result retention window.
func New(client *redis.Client, ttl time.Duration) *Deduplicator {
	return &Deduplicator{client: client, ttl: ttl}
}

// Reserve atomically claims key. StatusFresh grants execution to the caller;
// StatusInProgress and StatusDone report the state left by an earlier request.
func (d *Deduplicator) Reserve(ctx context.Context, key string) (Outcome, error) {
	if key == "" {
		return Outcome{}, ErrEmptyKey
	}

	for attempt := 0; attempt < 2; attempt++ {
		set, err := d.client.SetNX(ctx, keyPrefix+key, reservedMarker, d.ttl).Result()
		if err != nil {
			return Outcome{}, fmt.Errorf("idempotency reserve: %w", err)
		}
		if set {
			return Outcome{Status: StatusFresh}, nil
		}

		value, err := d.client.Get(ctx, keyPrefix+key).Result()
		if err == redis.Nil {
			// Reservation expired between SETNX and GET; try claiming again.
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if value == reservedMarker {
			return Outcome{Status: StatusInProgress}, nil
		}
		return Outcome{Status: StatusDone, Result: []byte(value)}, nil
	}

	return Outcome{Status: StatusInProgress}, nil
}

// Commit resolves a reservation to done, storing result for the remainder of
// the window.
func (d *Deduplicator) Commit(ctx context.Context, key string, result []byte) error {
	if err := d.client.Set(ctx, keyPrefix+key, result, d.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency commit: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed execution so a client retry can
// run the operation again.
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
