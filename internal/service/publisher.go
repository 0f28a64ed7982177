package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"payledger/internal/model"
	"payledger/internal/repository"

	"github.com/shopspring/decimal"
)

// BalanceCache is the advisory read-through cache of account balances.
// Implementations swallow their own failures.
type BalanceCache interface {
	Get(ctx context.Context, accountID int64) (decimal.Decimal, bool)
	Put(ctx context.Context, accountID int64, balance decimal.Decimal)
	Evict(ctx context.Context, accountID int64)
}

// EventPublisher hands transaction events to downstream consumers.
// Callers log a returned error and carry on; publishing never fails a
// ledger operation.
type EventPublisher interface {
	Publish(ctx context.Context, events []model.TransactionEvent) error
}

// OutboxPublisher stores events in the outbox table after the ledger
// transaction committed; job.OutboxSender relays them to Kafka.
type OutboxPublisher struct {
	outbox *repository.OutboxRepository
	topic  string
}

func NewOutboxPublisher(outbox *repository.OutboxRepository, topic string) *OutboxPublisher {
	return &OutboxPublisher{outbox: outbox, topic: topic}
}

func (p *OutboxPublisher) Publish(ctx context.Context, events []model.TransactionEvent) error {
	msgs := make([]*model.OutboxMessage, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.TransactionID, err)
		}
		msgs = append(msgs, &model.OutboxMessage{
			MessageKey: strconv.FormatInt(ev.AccountID, 10),
			Topic:      p.topic,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		})
	}
	if err := p.outbox.Create(ctx, nil, msgs...); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// NopCache is used when no cache is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func (NopCache) Put(context.Context, int64, decimal.Decimal) {}

func (NopCache) Evict(context.Context, int64) {}
