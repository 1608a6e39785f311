package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue is a Queue backed by a Kafka topic, for multi-instance worker
// deployments. Adapted from the teacher's command-consumer loop: a reader
// goroutine fetches messages and publishes them to an internal delivery
// channel; deliveries are committed only once the worker acks them, and
// exhausted retries publish to a dead-letter topic instead of blocking the
// partition forever.
type KafkaQueue struct {
	reader *kafka.Reader
	writer *kafka.Writer
	topic  string
	log    QueueLogger

	deliveries chan Delivery
}

// QueueLogger is the minimal structured logger KafkaQueue reports failures to.
type QueueLogger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// KafkaQueueOption configures a KafkaQueue during construction.
type KafkaQueueOption func(*KafkaQueue)

// WithQueueLogger sets a custom logger.
func WithQueueLogger(l QueueLogger) KafkaQueueOption {
	return func(q *KafkaQueue) { q.log = l }
}

// NewKafkaQueue starts consuming topic as groupID from brokers. Call Run to
// begin the fetch loop; Deliveries() yields jobs as they arrive.
func NewKafkaQueue(brokers []string, groupID, topic string, opts ...KafkaQueueOption) *KafkaQueue {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	q := &KafkaQueue{
		reader:     reader,
		writer:     writer,
		topic:      topic,
		log:        noopLogger{},
		deliveries: make(chan Delivery, 64),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue publishes job as a new Kafka message. Per §5's back-pressure rule,
// the caller (the API tier) is expected to retry with backoff on error.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{Topic: q.topic, Key: []byte(job.ID), Value: payload})
}

func (q *KafkaQueue) Deliveries() <-chan Delivery { return q.deliveries }

func (q *KafkaQueue) Close() error {
	close(q.deliveries)
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Run fetches messages until ctx is canceled, decoding each into a Job and
// publishing a Delivery whose Ack commits the offset and whose Nack
// publishes to the topic's dead-letter queue before committing (so a
// poison message doesn't block the partition forever).
func (q *KafkaQueue) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Error("kafka_queue_fetch_failed", map[string]any{"err": err.Error()})
			select {
			case <-time.After(500 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			q.log.Error("kafka_queue_decode_failed", map[string]any{"err": err.Error()})
			q.publishDLQ(ctx, msg, err)
			if err := q.reader.CommitMessages(ctx, msg); err != nil {
				q.log.Error("kafka_queue_commit_failed", map[string]any{"err": err.Error()})
			}
			continue
		}

		done := make(chan struct{})
		q.deliveries <- Delivery{
			Job: job,
			Ack: func() {
				if err := q.reader.CommitMessages(ctx, msg); err != nil {
					q.log.Error("kafka_queue_commit_failed", map[string]any{"err": err.Error()})
				}
				close(done)
			},
			Nack: func() {
				q.publishDLQ(ctx, msg, fmt.Errorf("job %s failed after retries", job.ID))
				if err := q.reader.CommitMessages(ctx, msg); err != nil {
					q.log.Error("kafka_queue_commit_failed", map[string]any{"err": err.Error()})
				}
				close(done)
			},
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *KafkaQueue) publishDLQ(ctx context.Context, msg kafka.Message, cause error) {
	dlqTopic := q.topic + ".dlq"
	payload, _ := json.Marshal(map[string]string{"key": string(msg.Key), "error": cause.Error()})
	if err := q.writer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: msg.Key, Value: payload}); err != nil {
		q.log.Error("kafka_queue_dlq_publish_failed", map[string]any{"err": err.Error()})
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}
