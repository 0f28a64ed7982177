package job

import (
	"context"
	"log/slog"
	"time"

	"payledger/internal/config"
	"payledger/internal/model"
	"payledger/internal/repository"

	"gorm.io/gorm"
)

// MessageSender delivers one message to the broker. *mq.Producer satisfies it.
type MessageSender interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender relays PENDING outbox rows to Kafka. A row that keeps failing
// is marked FAILED after business.max_retry_count attempts and left for
// OutboxRedriveJob.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	sender     MessageSender
	maxRetry   int
	leader     leadership
	log        *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

// NewOutboxSender builds the relay. jobLock may be nil when only one
// instance runs.
func NewOutboxSender(db *gorm.DB, sender MessageSender, cfg *config.BusinessConfig, jobLock JobLock, log *slog.Logger) *OutboxSender {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "outbox_sender")
	interval := time.Duration(cfg.OutboxIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		sender:     sender,
		maxRetry:   cfg.MaxRetryCount,
		leader:     leadership{lock: jobLock, log: log},
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.leader.release(context.Background())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender exiting", "reason", ctx.Err())
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			if s.leader.acquire(ctx) {
				s.processPendingMessages(ctx)
			}
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending outbox messages failed", "error", err)
		return
	}
	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.sender.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
			s.log.Error("mark outbox message sent failed", "id", msg.ID, "error", err)
			return
		}
		s.log.Debug("outbox message sent", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		return
	}

	s.log.Warn("outbox message send failed", "id", msg.ID, "retry_count", msg.RetryCount, "error", err)

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("mark outbox message failed", "id", msg.ID, "error", err)
			return
		}
		s.log.Warn("outbox message exceeded retries", "id", msg.ID, "max_retry", s.maxRetry)
		return
	}
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("increment outbox retry count failed", "id", msg.ID, "error", err)
	}
}
