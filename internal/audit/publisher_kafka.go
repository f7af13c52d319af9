package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher ships ops events to a Kafka topic. Produce is async and
// failures are logged, not returned: the indexing pipeline never blocks on
// the ops trail.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	log    *logrus.Logger
}

func NewKafkaPublisher(brokers, topic string, log *logrus.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{client: client, topic: topic, log: log}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Warn("marshal ops event")
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Subject),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.log.WithError(err).WithField("action", event.Action).Warn("publish ops event")
		}
	})
}

// Close flushes outstanding records and releases the client.
func (p *KafkaPublisher) Close() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(flushCtx)
	p.client.Close()
}
