package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/weiawesome/club-chat/pkg/log"
)

// channelToKey converts a conversation channel to the Kafka message key.
// Every conversation channel shares one topic; ordering per conversation comes
// from keying by conversation id.
//
//	"chat:conversation:C1:messages" → key: "C1"
func channelToKey(channel string) (string, error) {
	return ConversationIDFromChannel(channel)
}

// kafkaRoute is one subscriber of the shared consumer. An empty key receives
// every conversation.
type kafkaRoute struct {
	key string
	ch  chan *Event
}

// KafkaPubSub implements PubSub on a single topic. Each instance runs one
// consumer under its own group and fans records out to its subscribers by key,
// so every instance sees every conversation.
type KafkaPubSub struct {
	producer     *kafka.Producer
	config       KafkaConfig
	topic        string
	groupID      string
	deliveryDone chan struct{}

	mu           sync.Mutex
	routes       map[string]*kafkaRoute // channel or pattern → route
	consumer     *kafka.Consumer
	stopConsumer context.CancelFunc
	consumerDone chan struct{}
	closed       bool
}

// NewKafkaPubSub creates the producer and makes sure the topic exists. The
// consumer starts with the first subscription.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	group := cfg.GroupID
	if group == "" {
		group = "chat-service"
	}

	k := &KafkaPubSub{
		producer:     p,
		config:       cfg,
		topic:        topic,
		groupID:      fmt.Sprintf("%s-%s", group, uuid.NewString()),
		deliveryDone: make(chan struct{}),
		routes:       make(map[string]*kafkaRoute),
	}

	go k.deliveryReports()

	if err := k.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return k, nil
}

func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             k.topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPubSub) deliveryReports() {
	defer close(k.deliveryDone)

	for e := range k.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok || m.TopicPartition.Error == nil {
			continue
		}
		l := log.L()
		l.Error().Err(m.TopicPartition.Error).Str(log.FieldConversationID, string(m.Key)).Msg("kafka delivery failed")
	}
}

// Publish produces the event keyed by the channel's conversation id.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	key, err := channelToKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe receives the events of one conversation.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	key, err := channelToKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}
	return k.addRoute(ctx, channel, key)
}

// SubscribePattern receives every conversation's events. Only the
// conversation pattern exists on this transport.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	if pattern != PatternConversationMessages {
		return nil, fmt.Errorf("unsupported pattern: %s", pattern)
	}
	return k.addRoute(ctx, pattern, "")
}

func (k *KafkaPubSub) addRoute(ctx context.Context, subKey, filterKey string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, fmt.Errorf("kafka pubsub is closed")
	}
	if k.consumer == nil {
		if err := k.startConsumerLocked(); err != nil {
			return nil, err
		}
	}

	if old, ok := k.routes[subKey]; ok {
		close(old.ch)
	}
	route := &kafkaRoute{key: filterKey, ch: make(chan *Event, 100)}
	k.routes[subKey] = route

	go func() {
		<-ctx.Done()
		k.removeRoute(subKey, route)
	}()

	return route.ch, nil
}

func (k *KafkaPubSub) removeRoute(subKey string, route *kafkaRoute) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if cur, ok := k.routes[subKey]; ok && (route == nil || cur == route) {
		close(cur.ch)
		delete(k.routes, subKey)
	}
}

func (k *KafkaPubSub) startConsumerLocked() error {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                k.groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(k.topic, nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", k.topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.consumer = c
	k.stopConsumer = cancel
	k.consumerDone = make(chan struct{})

	go k.consume(ctx, c, k.consumerDone)
	return nil
}

func (k *KafkaPubSub) consume(ctx context.Context, c *kafka.Consumer, done chan struct{}) {
	defer close(done)
	l := log.L()

	for ctx.Err() == nil {
		switch e := c.Poll(500).(type) {
		case *kafka.Message:
			k.route(e)
		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				k.resetConsumer(c)
				return
			}
		}
	}
}

// route hands a record to every matching subscriber, dropping it for
// subscribers that are not keeping up.
func (k *KafkaPubSub) route(m *kafka.Message) {
	var event Event
	if err := json.Unmarshal(m.Value, &event); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldConversationID, string(m.Key)).Msg("dropping malformed kafka record")
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for subKey, r := range k.routes {
		if r.key != "" && r.key != string(m.Key) {
			continue
		}
		select {
		case r.ch <- &event:
		default:
			l := log.L()
			l.Warn().Str("subscription", subKey).Str(log.FieldConversationID, event.ConversationID).Msg("kafka pubsub consumer is full, dropping event")
		}
	}
}

// resetConsumer drops a consumer that failed fatally. Subscribers see their
// channels close and resubscribe, which starts a fresh consumer.
func (k *KafkaPubSub) resetConsumer(c *kafka.Consumer) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consumer != c {
		return
	}
	for subKey, r := range k.routes {
		close(r.ch)
		delete(k.routes, subKey)
	}
	k.consumer = nil
	k.stopConsumer = nil
	go c.Close()
}

// Unsubscribe closes the subscription for a channel or pattern.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.removeRoute(channel, nil)
	return nil
}

// Close stops the consumer, closes every subscription and flushes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	c, stop, done := k.consumer, k.stopConsumer, k.consumerDone
	k.consumer = nil
	k.mu.Unlock()

	if c != nil {
		stop()
		<-done
		c.Close()
	}

	k.mu.Lock()
	for subKey, r := range k.routes {
		close(r.ch)
		delete(k.routes, subKey)
	}
	k.mu.Unlock()

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.deliveryDone
	return nil
}
