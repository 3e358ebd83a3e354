package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Message is the internal broker message shape used by services.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Record is the producer payload shape for batched writes.
type Record struct {
	Key   []byte
	Value []byte
	Time  time.Time
}

// Producer abstracts Kafka production for a single topic.
type Producer interface {
	Produce(ctx context.Context, key []byte, value []byte) error
	ProduceBatch(ctx context.Context, records []Record) error
	ProduceJSON(ctx context.Context, key []byte, v any) error
	Close()
}

// Consumer abstracts Kafka consumption.
type Consumer interface {
	Poll(ctx context.Context) (*Message, error)
	Commit(msg *Message) error
	Close()
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewProducer(cfg KafkaConfig, topic string) (*KafkaProducer, error) {
	if topic == "" {
		return nil, errors.New("producer topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: writerAcks(cfg.ProducerAcks),
		BatchTimeout: time.Duration(maxInt(cfg.LingerMS, 0)) * time.Millisecond,
		BatchBytes:   int64(maxInt(cfg.BatchBytes, 1)),
	}
	return &KafkaProducer{w: w}, nil
}

func (k *KafkaProducer) Produce(ctx context.Context, key []byte, value []byte) error {
	return k.ProduceBatch(ctx, []Record{{Key: key, Value: value, Time: time.Now().UTC()}})
}

func (k *KafkaProducer) ProduceBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		msgTime := rec.Time
		if msgTime.IsZero() {
			msgTime = now
		}
		msgs = append(msgs, kafka.Message{
			Key:   rec.Key,
			Value: rec.Value,
			Time:  msgTime,
		})
	}
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *KafkaProducer) ProduceJSON(ctx context.Context, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return k.Produce(ctx, key, b)
}

func (k *KafkaProducer) Close() { _ = k.w.Close() }

// KafkaConsumer implements Consumer using segmentio/kafka-go.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	if topic == "" {
		return nil, errors.New("consumer topic required")
	}
	return &KafkaConsumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.BrokerList(),
		GroupID:        cfg.GroupID,
		Topic:          topic,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})}, nil
}

func (k *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	msg, err := k.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
	}, nil
}

func (k *KafkaConsumer) Commit(msg *Message) error {
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return k.r.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (k *KafkaConsumer) Close() { _ = k.r.Close() }

// CommitSingle commits the message just processed.
func CommitSingle(c Consumer, msg *Message) error {
	return c.Commit(msg)
}

func writerAcks(raw string) kafka.RequiredAcks {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "-1":
		return kafka.RequireAll
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
