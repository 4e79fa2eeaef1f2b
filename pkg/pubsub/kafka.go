package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// channelToKey maps a room channel onto the Kafka message key. All rooms share
// one topic; keying by room keeps a room's events ordered within a partition.
//
//	"relay:room:general" → key: "general"
func channelToKey(prefix, channel string) (string, error) {
	roomID, ok := RoomFromChannel(prefix, channel)
	if !ok || roomID == "" {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return roomID, nil
}

// producerConfig builds the librdkafka settings for the relay producer.
func producerConfig(cfg KafkaConfig) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	}
}

// KafkaPublisher implements Publisher using Apache Kafka.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	prefix   string
	config   KafkaConfig
	doneCh   chan struct{}
}

// NewKafkaPublisher creates a Kafka producer writing every room to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, channelPrefix string) (*KafkaPublisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	p, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		topic:    cfg.Topic,
		prefix:   channelPrefix,
		config:   cfg,
		doneCh:   make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	if err := kp.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kp, nil
}

// ensureTopic creates the relay topic if it doesn't exist.
func (k *KafkaPublisher) ensureTopic() error {
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
		return fmt.Errorf("failed to create topic: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Error)
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (k *KafkaPublisher) deliveryReportHandler() {
	defer close(k.doneCh)
	l := log.L()
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Warn().
					Err(ev.TopicPartition.Error).
					Str(log.FieldRoom, string(ev.Key)).
					Msg("kafka delivery failed")
			}
		case kafka.Error:
			l.Error().Err(ev).Bool("fatal", ev.IsFatal()).Msg("kafka producer error")
		}
	}
}

// Publish produces an event keyed by the channel's room id.
func (k *KafkaPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	key, err := channelToKey(k.prefix, channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaPublisher) Close() error {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		l := log.L()
		l.Warn().Int("remaining", remaining).Msg("kafka flush timed out")
	}
	k.producer.Close()
	<-k.doneCh
	return nil
}
