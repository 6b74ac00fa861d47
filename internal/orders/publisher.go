package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// TopicProducer is satisfied by *kafkax.Producer.
type TopicProducer interface {
	Topic() string
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// KafkaPublisher routes envelopes to one producer per topic.
type KafkaPublisher struct {
	producers map[string]TopicProducer
}

func NewKafkaPublisher(producers ...TopicProducer) *KafkaPublisher {
	m := make(map[string]TopicProducer, len(producers))
	for _, p := range producers {
		m[p.Topic()] = p
	}
	return &KafkaPublisher{producers: m}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, key []byte, env Envelope) error {
	p, ok := k.producers[topic]
	if !ok {
		return fmt.Errorf("publish: no producer for topic %q", topic)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("publish: encode envelope: %w", err)
	}
	return p.Publish(ctx, key, b,
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
