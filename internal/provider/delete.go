package provider

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// DefaultDeleteConcurrency caps concurrent key deletions.
const DefaultDeleteConcurrency = 10

// DeleteFunc removes one backend key.
type DeleteFunc func(ctx context.Context, key string) error

// DeleteKeys removes every key with at most concurrency deletions in flight.
// A key that is already gone counts as deleted. Failures are combined and the
// remaining keys are still attempted.
func DeleteKeys(ctx context.Context, keys []string, concurrency int, del DeleteFunc) error {
	if len(keys) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = DefaultDeleteConcurrency
	}

	var (
		mu   sync.Mutex
		errs error
	)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(concurrency)
	for _, key := range keys {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := del(ctx, key)
			if err == nil || errors.IsCode(err, errors.ErrCodeNotFound) {
				return nil
			}
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
