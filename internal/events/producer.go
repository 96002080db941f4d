// Package events publishes broadcast message records to Kafka for the
// notification and persistence services downstream. Fire and forget from the
// dispatcher's point of view.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

// Producer is the seam the dispatcher talks to. A nil Producer disables
// event mirroring.
type Producer interface {
	PublishMessageSent(ctx context.Context, msg protocol.Message) error
	Close() error
}

type KafkaProducer struct {
	writer *kafkago.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaProducer{writer: w}
}

func (p *KafkaProducer) PublishMessageSent(ctx context.Context, msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(msg.RoomID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
