// Package locking provides short-TTL named locks on the shared KV store.
// Locks guard bucket collection cycles and timestamp uniqueness; a crashed
// holder's lock becomes available again when the TTL lapses.
package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/kv"
)

// Lock is a held named lock. Release is safe to call once; an expired lock
// that another holder reacquired is never released from here.
type Lock struct {
	store kv.Store
	key   string
	token string
}

func (l *Lock) Release(ctx context.Context) error {
	_, err := l.store.DelIfEqual(ctx, l.key, l.token)
	return err
}

type Service struct {
	store kv.Store
}

func NewService(store kv.Store) *Service {
	return &Service{store: store}
}

// TryAcquire attempts the lock exactly once.
func (s *Service) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	key := lockKey(name)
	token := uuid.NewString()

	ok, err := s.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("locking: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{store: s.store, key: key, token: token}, true, nil
}

// Acquire retries with a small fixed backoff until the lock is held or the
// retry budget is exhausted, which surfaces a transient error.
func (s *Service) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	op := func() (*Lock, error) {
		lock, ok, err := s.TryAcquire(ctx, name, ttl)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !ok {
			return nil, fmt.Errorf("locking: %s is held", name)
		}
		return lock, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	lock, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		return nil, errs.Transient(fmt.Sprintf("locking: could not acquire %s", name), err)
	}
	return lock, nil
}

// AcquireSequence claims a unique slot in a monotonically increasing
// timestamp sequence under the given prefix. On contention the candidate is
// incremented by one millisecond and retried, bounded to keep a hot thread
// from spinning forever.
func (s *Service) AcquireSequence(ctx context.Context, prefix string, start int64, ttl time.Duration) (int64, *Lock, error) {
	const maxIncrements = 100

	candidate := start
	for range maxIncrements {
		lock, ok, err := s.TryAcquire(ctx, fmt.Sprintf("%s:%d", prefix, candidate), ttl)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return candidate, lock, nil
		}
		candidate++
	}
	return 0, nil, errs.Transient(fmt.Sprintf("locking: sequence %s exhausted after %d slots", prefix, maxIncrements), nil)
}

func lockKey(name string) string {
	return "oa:lock:" + name
}
