package mq

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/signlearn/apiserver/config"
)

const headerMessageID = "message-id"

// KafkaClient uses one topic per channel. A single writer serves every
// topic; each subscription gets its own consumer-group reader.
type KafkaClient struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
}

// NewKafkaClient constructs a Kafka client from config.
func NewKafkaClient(cfg config.KafkaConfig) (*KafkaClient, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "signlearn-notify"
	}

	return &KafkaClient{
		brokers: cfg.Brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes one message to the channel's topic.
func (k *KafkaClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("kafka channel is required")
	}

	messageID := uuid.NewString()
	headers := make([]kafka.Header, 0, len(attrs)+1)
	headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(messageID)})
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   channel,
		Key:     []byte(attrs["key"]),
		Value:   data,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// Subscribe reads the channel's topic in the configured consumer group
// until ctx is done. Offsets are committed only after handler succeeds;
// a failing message is retried after a short pause.
func (k *KafkaClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("kafka channel is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    channel,
		GroupID:  k.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		message := Message{Data: m.Value, Attributes: map[string]string{}}
		for _, h := range m.Headers {
			if h.Key == headerMessageID {
				message.ID = string(h.Value)
				continue
			}
			message.Attributes[h.Key] = string(h.Value)
		}

		for {
			if err := handler(ctx, message); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			return err
		}
	}
}

// Close flushes and closes the writer.
func (k *KafkaClient) Close() error {
	return k.writer.Close()
}
