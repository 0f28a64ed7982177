package job

import (
	"context"
	"log/slog"
)

// JobLock is the cross-instance lock a job must hold before doing work.
// *lock.DistributedLock satisfies it.
type JobLock interface {
	TryLock(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// leadership tracks whether this instance currently owns a JobLock.
// A nil lock means the job always runs.
type leadership struct {
	lock JobLock
	held bool
	log  *slog.Logger
}

// acquire is called once per tick. It refreshes a held lock or tries to
// take a free one, and reports whether the tick may proceed.
func (l *leadership) acquire(ctx context.Context) bool {
	if l.lock == nil {
		return true
	}
	var (
		ok  bool
		err error
	)
	if l.held {
		ok, err = l.lock.Refresh(ctx)
	} else {
		ok, err = l.lock.TryLock(ctx)
	}
	if err != nil {
		l.log.Warn("job lock check failed", "error", err)
		ok = false
	}
	if ok != l.held {
		l.log.Info("job leadership changed", "leader", ok)
	}
	l.held = ok
	return ok
}

func (l *leadership) release(ctx context.Context) {
	if l.lock == nil || !l.held {
		return
	}
	if err := l.lock.Unlock(ctx); err != nil {
		l.log.Warn("job lock release failed", "error", err)
	}
	l.held = false
}
