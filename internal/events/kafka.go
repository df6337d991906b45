// Package events publishes job lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/mohans/yebragi/asyncx"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaSink implements asyncx.EventSink. Messages are keyed by job id so
// every transition of one job lands on the same partition.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		Async:        false,
	}
	return NewKafkaSinkWithWriter(w)
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 3 * time.Second}
}

func (s *KafkaSink) Publish(ctx context.Context, ev asyncx.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	// A slow broker must not hold up job processing.
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(ev.JobID),
		Value: b,
		Time:  ev.At,
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
