package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payledger/internal/metrics"
	"payledger/internal/repository"
)

const DefaultMaxAttempts = 3

// RetryCoordinator wraps executor calls with the conflict policy:
//
//   - ErrOptimisticLock: re-run the whole operation, including its
//     idempotency pre-check and account loads, up to maxAttempts in total;
//     then ErrConcurrencyConflict.
//   - ErrDuplicateIdempotencyKey: another request with the same key won the
//     insert. Look the key up once more; a visible row is returned as a
//     replay, otherwise ErrConcurrentDuplicate.
//   - anything else: returned as is, never retried.
type RetryCoordinator struct {
	maxAttempts int
	metrics     *metrics.Recorder
	log         *slog.Logger
}

func NewRetryCoordinator(maxAttempts int, rec *metrics.Recorder, log *slog.Logger) *RetryCoordinator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetryCoordinator{
		maxAttempts: maxAttempts,
		metrics:     rec,
		log:         log.With("component", "retry_coordinator"),
	}
}

type replayable interface {
	replayed() bool
}

// Execute runs apply under the coordinator's policy. lookup reports false
// when the key is not visible.
func Execute[T replayable](ctx context.Context, rc *RetryCoordinator, op string,
	lookup func(context.Context) (T, bool, error),
	apply func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := execute(ctx, rc, op, lookup, apply)

	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailure
	case result.replayed():
		outcome = metrics.OutcomeReplay
	}
	rc.metrics.ObserveTransaction(op, outcome, time.Since(start))
	return result, err
}

func execute[T replayable](ctx context.Context, rc *RetryCoordinator, op string,
	lookup func(context.Context) (T, bool, error),
	apply func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := apply(ctx)
		switch {
		case err == nil:
			return result, nil

		case errors.Is(err, repository.ErrOptimisticLock):
			if attempt >= rc.maxAttempts {
				rc.log.Warn("optimistic lock conflict, attempts exhausted", "operation", op, "attempts", attempt)
				return zero, ErrConcurrencyConflict
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			rc.metrics.IncRetry(op)
			rc.log.Info("optimistic lock conflict, retrying", "operation", op, "attempt", attempt)

		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			found, ok, lookupErr := lookup(ctx)
			if lookupErr != nil {
				return zero, lookupErr
			}
			if ok {
				rc.log.Info("duplicate key race resolved as replay", "operation", op)
				return found, nil
			}
			rc.log.Warn("duplicate key race, winner not visible", "operation", op)
			return zero, ErrConcurrentDuplicate

		default:
			return zero, err
		}
	}
}
