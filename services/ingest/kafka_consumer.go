package ingest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/groundwire/orchestrator/infrastructure/logging"
)

// kafkaMessage is the wire shape of one ingest event on the Kafka topic:
// a tenant-scoped batch of documents, the same shape POST /ingest accepts.
type kafkaMessage struct {
	TenantID  string     `json:"tenant_id"`
	Documents []Document `json:"documents"`
}

// KafkaConsumer drives the Orchestrator from the primary ingestion path;
// the HTTP /ingest endpoint is kept only for manual and backfill use.
// Each message is a tenant's document batch; offsets commit only after
// Run returns, so a crash mid-batch replays it rather than losing it. A run
// that returns an error is logged and its offset is committed all the same.
type KafkaConsumer struct {
	reader *kafka.Reader
	run    *Orchestrator
	logger *logging.Logger
}

// NewKafkaConsumer builds a consumer-group reader over brokers (a
// comma-separated list) bound to topic/groupID.
func NewKafkaConsumer(brokers, topic, groupID string, run *Orchestrator, logger *logging.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &KafkaConsumer{reader: reader, run: run, logger: logger}
}

// Run consumes until ctx is canceled. Decode failures and ingestion errors
// are logged and the message is skipped (committed) rather than retried
// forever, since a malformed batch will never decode successfully.
func (c *KafkaConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error(ctx, "kafka: fetch failed", err, nil)
			continue
		}

		var payload kafkaMessage
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			c.logger.Error(ctx, "kafka: malformed ingest message, skipping", err, nil)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if _, err := c.run.Run(ctx, payload.TenantID, payload.Documents); err != nil {
			c.logger.Error(ctx, "kafka: ingest run failed", err, map[string]interface{}{"tenant_id": payload.TenantID})
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error(ctx, "kafka: commit failed", err, nil)
		}
	}
}

// Close releases the underlying consumer-group connection.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
