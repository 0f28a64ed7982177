package job

import (
	"context"
	"log/slog"
	"time"

	"payledger/internal/config"
	"payledger/internal/repository"

	"gorm.io/gorm"
)

// OutboxRedriveJob periodically puts FAILED outbox rows back to PENDING
// once they have rested for business.redrive_after_minutes. Each row can be
// redriven at most business.max_redrive_count times; after that it stays
// FAILED for manual inspection.
type OutboxRedriveJob struct {
	outboxRepo *repository.OutboxRepository
	restPeriod time.Duration
	maxRedrive int
	leader     leadership
	log        *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

func NewOutboxRedriveJob(db *gorm.DB, cfg *config.BusinessConfig, jobLock JobLock, log *slog.Logger) *OutboxRedriveJob {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "outbox_redrive")
	return &OutboxRedriveJob{
		outboxRepo: repository.NewOutboxRepository(db),
		restPeriod: time.Duration(cfg.RedriveAfterMinutes) * time.Minute,
		maxRedrive: cfg.MaxRedriveCount,
		leader:     leadership{lock: jobLock, log: log},
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   time.Minute,
		batchSize:  100,
		now:        time.Now,
	}
}

func (j *OutboxRedriveJob) Start(ctx context.Context) {
	j.log.Info("outbox redrive job started", "rest_period", j.restPeriod, "max_redrive", j.maxRedrive)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	defer j.leader.release(context.Background())

	for {
		select {
		case <-ctx.Done():
			j.log.Info("outbox redrive job exiting", "reason", ctx.Err())
			return
		case <-j.stopCh:
			j.log.Info("outbox redrive job stopped")
			return
		case <-ticker.C:
			if j.leader.acquire(ctx) {
				j.redriveFailed(ctx)
			}
		}
	}
}

func (j *OutboxRedriveJob) Stop() {
	close(j.stopCh)
}

func (j *OutboxRedriveJob) redriveFailed(ctx context.Context) int {
	before := j.now().Add(-j.restPeriod)
	messages, err := j.outboxRepo.GetFailedMessages(ctx, before, j.maxRedrive, j.batchSize)
	if err != nil {
		j.log.Error("load failed outbox messages failed", "error", err)
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	redriven := 0
	for _, msg := range messages {
		ok, err := j.outboxRepo.Redrive(ctx, msg.ID)
		if err != nil {
			j.log.Error("redrive outbox message failed", "id", msg.ID, "error", err)
			continue
		}
		if ok {
			redriven++
		}
	}
	j.log.Info("outbox messages redriven", "found", len(messages), "redriven", redriven)
	return redriven
}
