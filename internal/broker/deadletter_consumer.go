package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/pkg/logging"
	"pulse/pkg/metrics"
	"pulse/pkg/models"
	"pulse/pkg/retry"
)

// DeadLetterHandlerFunc archives one dead letter. Errors are retried with
// backoff; the message is committed either way because the archive is an
// inspection sink, not a delivery guarantee.
type DeadLetterHandlerFunc func(ctx context.Context, dl models.DeadLetter) error

// DeadLetterConsumer drains the DLQ topic. Unlike the event consumer it never
// re-dead-letters: an undecodable or unarchivable entry is logged and skipped.
type DeadLetterConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewDeadLetterConsumer(cfg config.KafkaConfig, log logger.Logger) *DeadLetterConsumer {
	return &DeadLetterConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "dlq-archiver",
	}
}

func (c *DeadLetterConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *DeadLetterConsumer) Consume(ctx context.Context, topic string, handler DeadLetterHandlerFunc) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming dead letters",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming dead letters",
						"topic", topic,
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching dead letter",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.KafkaMessagesReadTotal.WithLabelValues(c.serviceName, topic).Inc()

			var dl models.DeadLetter
			if err := json.Unmarshal(m.Value, &dl); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Undecodable dead letter, skipping",
					"error", err,
					"topic", topic,
				)
				c.commit(consumeCtx, m, topic)
				continue
			}

			archiveErr := retry.Retry(consumeCtx, retry.DefaultPolicy(), func() error {
				return handler(consumeCtx, dl)
			})
			if archiveErr != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to archive dead letter, skipping",
					"error", archiveErr,
					"event_id", dl.Message.ID,
				)
			}

			c.commit(consumeCtx, m, topic)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *DeadLetterConsumer) commit(ctx context.Context, m kafka.Message, topic string) {
	if err := c.reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit dead letter",
			"error", err,
			"topic", topic,
		)
	}
}

func (c *DeadLetterConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
