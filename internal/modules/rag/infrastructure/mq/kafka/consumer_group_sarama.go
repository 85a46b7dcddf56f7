package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/infrastructure/mq"
	"VnStockRAG/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
}

type saramaConsumer struct {
	group  sarama.ConsumerGroup
	topics []string
}

func NewSaramaConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)
	// Indexing is idempotent (upserts), so starting from the newest offset
	// after a long outage only skips batches the operator chose to abandon.
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{group: group, topics: cfg.Topics}, nil
}

// Run blocks until ctx is cancelled, rejoining the group after rebalances.
func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &groupHandler{inner: handler}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			return err
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct {
	inner mq.Handler
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		msg := mq.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			if msg.Headers == nil {
				msg.Headers = make(map[string]string, len(m.Headers))
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}

		if err := h.inner.Handle(sess.Context(), msg); err != nil {
			// Leave unmarked so the batch is redelivered.
			zlog.Error("ingest message handling failed",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			continue
		}
		sess.MarkMessage(m, "")
	}
	return nil
}
