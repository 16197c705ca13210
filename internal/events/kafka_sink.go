package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Encoding selects the format of Kafka message values.
type Encoding string

const (
	// EncodingJSON writes domain.Event as JSON.
	EncodingJSON Encoding = "json"
	// EncodingProtobuf writes a google.protobuf.Struct with the same field
	// names. Amounts and ids are decimal strings so no precision is lost.
	EncodingProtobuf Encoding = "protobuf"
)

// Valid reports whether enc is a known encoding.
func (enc Encoding) Valid() bool {
	return enc == EncodingJSON || enc == EncodingProtobuf
}

// KafkaSink writes events to a Kafka topic keyed by market id, so each
// market's events land on one partition in order.
type KafkaSink struct {
	writer   *kafka.Writer
	encoding Encoding
	timeout  time.Duration
	logger   *slog.Logger
}

// NewKafkaWriter builds the writer used by KafkaSink.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaSink creates a KafkaSink over w. An empty encoding means JSON.
func NewKafkaSink(w *kafka.Writer, enc Encoding, timeout time.Duration, logger *slog.Logger) *KafkaSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if enc == "" {
		enc = EncodingJSON
	}
	return &KafkaSink{
		writer:   w,
		encoding: enc,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "event_kafka_sink")),
	}
}

// Publish implements domain.EventSink.
func (s *KafkaSink) Publish(ctx context.Context, e domain.Event) {
	msg, err := Message(e, s.encoding)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to write event to kafka",
			slog.Uint64("market_id", uint64(e.MarketID)),
			slog.Uint64("seq", e.Seq),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Message encodes e as a Kafka message. The content-type header tells
// consumers which encoding was used.
func Message(e domain.Event, enc Encoding) (kafka.Message, error) {
	var (
		value       []byte
		contentType string
		err         error
	)
	switch enc {
	case EncodingJSON, "":
		value, err = json.Marshal(e)
		contentType = "application/json"
	case EncodingProtobuf:
		value, err = marshalProto(e)
		contentType = "application/x-protobuf; messageType=google.protobuf.Struct"
	default:
		return kafka.Message{}, fmt.Errorf("events: unknown encoding %q", enc)
	}
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: marshal %s: %w", e.Kind, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(e.MarketID), 10)),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "seq", Value: []byte(strconv.FormatUint(e.Seq, 10))},
			{Key: "content-type", Value: []byte(contentType)},
		},
	}, nil
}

func marshalProto(e domain.Event) ([]byte, error) {
	fields := map[string]any{
		"id":        e.ID.String(),
		"market_id": strconv.FormatUint(uint64(e.MarketID), 10),
		"seq":       strconv.FormatUint(e.Seq, 10),
		"kind":      string(e.Kind),
		"at":        e.At.UTC().Format(time.RFC3339Nano),
		"account":   e.Account.Hex(),
	}
	if e.Question != "" {
		fields["question"] = e.Question
	}
	if !e.Deadline.IsZero() {
		fields["deadline"] = e.Deadline.UTC().Format(time.RFC3339)
	}
	if e.Side != "" {
		fields["side"] = string(e.Side)
	}
	if e.Kind == domain.EventStaked || e.Kind == domain.EventWithdrawn {
		fields["amount"] = strconv.FormatUint(uint64(e.Amount), 10)
	}
	if e.Kind == domain.EventStaked {
		fields["yes_total"] = strconv.FormatUint(uint64(e.YesTotal), 10)
		fields["no_total"] = strconv.FormatUint(uint64(e.NoTotal), 10)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

// EnsureTopic creates topic through the cluster controller if it does not
// exist yet.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("events: ensure topic: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("events: dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("events: get controller: %w", err)
	}
	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("events: dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("events: create topic %s: %w", topic, err)
	}
	return nil
}
