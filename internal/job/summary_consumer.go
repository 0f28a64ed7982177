package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"payledger/internal/model"

	"github.com/IBM/sarama"
)

// EventApplier folds one transaction event into derived state.
// *service.SummaryService satisfies it.
type EventApplier interface {
	Apply(ctx context.Context, ev *model.TransactionEvent) error
}

// SummaryConsumer reads transaction events from Kafka and maintains the
// daily account summaries. It implements sarama.ConsumerGroupHandler.
//
// Offsets are marked only after an event is applied. If applying fails the
// claim ends and the session restarts from the last marked offset; the
// applier is idempotent on transaction id, so redelivery is harmless.
// Payloads that cannot be decoded are logged and skipped.
type SummaryConsumer struct {
	group   sarama.ConsumerGroup
	topic   string
	applier EventApplier
	log     *slog.Logger
	backoff time.Duration
}

func NewSummaryConsumer(group sarama.ConsumerGroup, topic string, applier EventApplier, log *slog.Logger) *SummaryConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &SummaryConsumer{
		group:   group,
		topic:   topic,
		applier: applier,
		log:     log.With("component", "summary_consumer"),
		backoff: time.Second,
	}
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *SummaryConsumer) Start(ctx context.Context) {
	c.log.Info("summary consumer started", "topic", c.topic)
	for {
		err := c.group.Consume(ctx, []string{c.topic}, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			c.log.Info("summary consumer group closed")
			return
		}
		if ctx.Err() != nil {
			c.log.Info("summary consumer exiting", "reason", ctx.Err())
			return
		}
		if err != nil {
			c.log.Warn("summary consumer session ended", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *SummaryConsumer) Stop() error {
	return c.group.Close()
}

func (c *SummaryConsumer) Setup(s sarama.ConsumerGroupSession) error {
	c.log.Info("summary consumer session setup", "member_id", s.MemberID(), "generation", s.GenerationID())
	return nil
}

func (c *SummaryConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *SummaryConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

func (c *SummaryConsumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev model.TransactionEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("undecodable transaction event skipped",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}
	if err := c.applier.Apply(ctx, &ev); err != nil {
		c.log.Error("apply transaction event failed",
			"transaction_id", ev.TransactionID, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return err
	}
	return nil
}
