package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"CampusConnect/server/internal/models"
)

// Publisher hands persisted messages to the platform's notification
// pipeline. Delivery is best effort; the conversation core never blocks a
// user-visible operation on it.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
	Close() error
}

type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireNone,
		Async:        true,
	}
	return &KafkaPublisher{w: w}
}

var _ Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) PublishMessage(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.ConversationID, 10)),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) PublishMessage(context.Context, *models.Message) error { return nil }
func (NopPublisher) Close() error                                         { return nil }
