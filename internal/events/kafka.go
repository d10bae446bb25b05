package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by client id so one client's
// events stay on one partition.
type KafkaSink struct {
	w       messageWriter
	onError func(error)
}

type KafkaOption func(*KafkaSink)

// WithOnError is called when an event cannot be encoded or handed to the writer.
func WithOnError(fn func(error)) KafkaOption {
	return func(k *KafkaSink) { k.onError = fn }
}

func NewKafkaSink(w messageWriter, opts ...KafkaOption) *KafkaSink {
	k := &KafkaSink{w: w}
	for _, o := range opts {
		o(k)
	}
	return k
}

// NewKafkaWriter returns an async writer for topic. Delivery failures are
// reported through onError from the writer's completion callback.
func NewKafkaWriter(brokers []string, topic string, logger log.Logger, onError func(error)) *kafka.Writer {
	if logger == nil {
		logger = log.Nop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Error(context.Background(), err, "kafka event delivery failed",
				"topic", topic,
				"messages", len(msgs),
			)
			if onError != nil {
				onError(err)
			}
		},
	}
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (k *KafkaSink) Emit(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		k.fail(xerrors.Wrapf(err, "encode event %s", e.Name))
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.ClientID),
		Value: b,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name)},
		},
	}
	// the request may finish before the batch is flushed
	if err := k.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		k.fail(xerrors.Wrapf(err, "publish event %s", e.Name))
	}
}

func (k *KafkaSink) fail(err error) {
	if k.onError != nil {
		k.onError(err)
	}
}

// Close flushes pending messages.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
