package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes audit events to one topic per category, keyed by
// session ID so a session's trail stays ordered within a partition.
type KafkaSink struct {
	client      *kgo.Client
	topicPrefix string
}

// NewKafkaSink connects to the brokers and ensures the category topics exist.
// Topic names are <prefix>.<category>.
func NewKafkaSink(brokers []string, topicPrefix string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopics(ctx, client, topicPrefix); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaSink{client: client, topicPrefix: topicPrefix}, nil
}

func ensureTopics(ctx context.Context, client *kgo.Client, prefix string) error {
	adm := kadm.NewClient(client)
	for _, category := range []Category{CategoryCompliance, CategorySecurity, CategoryOperations} {
		topic := topicFor(prefix, category)
		resp, err := adm.CreateTopic(ctx, 3, 1, nil, topic)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, resp.Err)
		}
	}
	return nil
}

// Publish sends the event to its category topic. Produces synchronously; the
// publisher's async worker keeps this off the request path.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: topicFor(s.topicPrefix, event.Category),
		Key:   []byte(event.SessionID.String()),
		Value: value,
	}
	return s.client.ProduceSync(ctx, record).FirstErr()
}

// Close flushes buffered records and releases the client.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.client.Flush(ctx)
	s.client.Close()
}

func topicFor(prefix string, category Category) string {
	if category == "" {
		category = CategoryOperations
	}
	return fmt.Sprintf("%s.%s", prefix, category)
}
