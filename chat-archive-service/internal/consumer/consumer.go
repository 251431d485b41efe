package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/club-chat/chat-archive-service/internal/config"
	"github.com/weiawesome/club-chat/chat-archive-service/internal/domain"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

// ErrSkipped marks events the archive does not store.
var ErrSkipped = errors.New("event skipped")

// Store is the archive table.
type Store interface {
	SaveInserted(ctx context.Context, msg *domain.ArchivedMessage) error
	MarkRead(ctx context.Context, msg *domain.ArchivedMessage) error
}

// Consumer reads message events from Kafka and archives them.
type Consumer struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
	store    Store
}

func NewConsumer(cfg config.KafkaConfig, store Store) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                cfg.GroupID,
		"auto.offset.reset":       cfg.AutoOffsetReset,
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
		"max.poll.interval.ms":    cfg.MaxPollIntervalMs,
		"session.timeout.ms":      cfg.SessionTimeoutMs,
		"heartbeat.interval.ms":   cfg.HeartbeatIntervalMs,
		"fetch.min.bytes":         cfg.FetchMinBytes,
		"fetch.wait.max.ms":       cfg.FetchMaxWaitMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		topic:    cfg.Topic,
		groupID:  cfg.GroupID,
		store:    store,
	}, nil
}

// Run polls until ctx is done or Kafka reports a fatal error.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	l := log.L()
	l.Info().Str("topic", c.topic).Str("group_id", c.groupID).Msg("archive consumer started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("archive consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			err := c.handleMessage(ctx, e.Value)
			switch {
			case err == nil:
			case errors.Is(err, ErrSkipped):
				l.Debug().Err(err).Str("key", string(e.Key)).Msg("archive skipped event")
			default:
				l.Error().Err(err).
					Int32("partition", e.TopicPartition.Partition).
					Str("offset", e.TopicPartition.Offset.String()).
					Str("key", string(e.Key)).
					Msg("failed to archive event")
			}
		case kafka.Error:
			l.Warn().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		default:
			// rebalance notifications, offset commits
		}
	}
}

// handleMessage archives one event value.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	msg, eventType, err := Decode(value)
	if err != nil {
		return err
	}

	switch eventType {
	case pubsub.EventMessageInserted:
		if err := c.store.SaveInserted(ctx, msg); err != nil {
			return err
		}
	case pubsub.EventMessageUpdated:
		if err := c.store.MarkRead(ctx, msg); err != nil {
			return err
		}
	}

	l := log.L()
	l.Debug().
		Str("event_type", eventType).
		Str(log.FieldConversationID, msg.ConversationID).
		Str(log.FieldMessageID, msg.ID).
		Msg("archived message event")
	return nil
}

// Decode parses a bus event into the message row it carries.
func Decode(value []byte) (*domain.ArchivedMessage, string, error) {
	var event pubsub.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal event: %w", err)
	}

	switch event.Type {
	case pubsub.EventMessageInserted, pubsub.EventMessageUpdated:
	default:
		return nil, event.Type, fmt.Errorf("%w: type %q", ErrSkipped, event.Type)
	}

	var msg domain.ArchivedMessage
	if err := event.UnmarshalPayload(&msg); err != nil {
		return nil, event.Type, fmt.Errorf("failed to unmarshal message payload: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = event.ConversationID
	}
	if err := msg.Validate(); err != nil {
		return nil, event.Type, err
	}
	return &msg, event.Type, nil
}

func (c *Consumer) Close() error {
	l := log.L()
	l.Info().Msg("closing archive consumer")
	return c.consumer.Close()
}
