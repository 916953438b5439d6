package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/errors"
	"pulse/pkg/logging"
	"pulse/pkg/metrics"
	"pulse/pkg/models"
	"pulse/pkg/retry"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: "producer"}
}

// Publish writes all messages in a single WriteMessages call. The write is
// synchronous and atomic from the caller's perspective: either every message
// is accepted by the broker or the whole batch fails, which is what lets the
// gateway keep batch admission all-or-nothing.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msgs ...models.QueueMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}
		kafkaMsgs = append(kafkaMsgs, kafka.Message{
			Topic: topic,
			Key:   []byte(msg.ID),
			Value: body,
			Time:  time.Now(),
		})
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		return errors.ErrServiceUnavailable.WithCause(err).
			WithDetail("message", fmt.Sprintf("failed to write %d messages to topic %s", len(msgs), topic))
	}

	metrics.KafkaMessagesWrittenTotal.WithLabelValues(p.serviceName, topic).Add(float64(len(msgs)))
	return nil
}

func (p *KafkaProducer) PublishDeadLetter(ctx context.Context, topic string, dl models.DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(dl.Message.ID),
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write dead letter to %s: %w", topic, err)
	}

	metrics.KafkaMessagesWrittenTotal.WithLabelValues(p.serviceName, topic).Inc()
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// offsetCommitter is the slice of *kafka.Reader the disposition loop needs.
type offsetCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	committer   offsetCommitter
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume drains the topic until ctx is cancelled. Each fetched message is
// resolved to exactly one of: commit (ack), bounded in-process redelivery
// with backoff then dead-letter (retry), or immediate dead-letter
// (terminate). Offsets are committed only after the disposition is final, so
// a crash mid-processing redelivers the message to another group member —
// delivery is at-least-once and handlers must be idempotent.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	groupID := c.cfg.GroupID
	if groupID == "" {
		groupID = constants.DefaultGroupID
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.committer = c.reader

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.KafkaMessagesReadTotal.WithLabelValues(c.serviceName, topic).Inc()

			var msg models.QueueMessage
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				// Undecodable payloads can never succeed; dead-letter the raw
				// bytes so they stay inspectable instead of silently dropped.
				c.logger.ErrorwCtx(consumeCtx, "Failed to unmarshal message, dead-lettering raw payload",
					"error", err,
					"topic", topic,
				)
				c.deadLetter(consumeCtx, models.DeadLetter{
					RawPayload:  m.Value,
					Reason:      fmt.Sprintf("undecodable payload: %v", err),
					SourceTopic: topic,
					FailedAt:    time.Now(),
				}, "undecodable_payload")
				c.commit(consumeCtx, m, topic)
				continue
			}

			// Disposition resolution happens on the parent ctx so an in-flight
			// message finishes its ack/retry/terminate decision during shutdown.
			msgCtx := logging.WithMessageID(consumeCtx, msg.ID)
			c.resolve(msgCtx, m, msg, handler, topic)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) resolve(ctx context.Context, raw kafka.Message, msg models.QueueMessage, handler HandlerFunc, topic string) {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultPolicy().MaxAttempts
	}
	policy := retry.Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: c.cfg.Retry.InitialInterval,
		MaxInterval:     c.cfg.Retry.MaxInterval,
		Multiplier:      c.cfg.Retry.Multiplier,
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = retry.DefaultPolicy().InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = retry.DefaultPolicy().MaxInterval
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = retry.DefaultPolicy().Multiplier
	}

	var lastErr error
	for {
		msg.Delivery.Attempt++
		msg.Delivery.MaxAttempts = policy.MaxAttempts

		disposition, err := c.handleSafely(ctx, msg, handler)
		lastErr = err

		switch disposition {
		case Ack:
			c.commit(ctx, raw, topic)
			return

		case Terminate:
			c.logger.ErrorwCtx(ctx, "Message terminated",
				"error", err,
				"topic", topic,
				"attempt", msg.Delivery.Attempt,
			)
			c.deadLetterMessage(ctx, msg, err, topic, "terminated")
			c.commit(ctx, raw, topic)
			return

		case Retry:
			if err != nil {
				msg.Delivery.LastError = err.Error()
			}
			if msg.Delivery.Attempt >= policy.MaxAttempts {
				c.logger.ErrorwCtx(ctx, "Delivery attempts exhausted, dead-lettering",
					"error", lastErr,
					"topic", topic,
					"attempts", msg.Delivery.Attempt,
				)
				c.deadLetterMessage(ctx, msg, lastErr, topic, "max_attempts_exceeded")
				c.commit(ctx, raw, topic)
				return
			}

			delay := retry.CalculateBackoffDuration(msg.Delivery.Attempt, policy.InitialInterval, policy.Multiplier, policy.MaxInterval)
			metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
			c.logger.WarnwCtx(ctx, "Retrying message",
				"attempt", msg.Delivery.Attempt,
				"max_attempts", policy.MaxAttempts,
				"next_delay", delay,
				"error", err,
				"topic", topic,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Shutdown mid-backoff: leave the offset uncommitted so the
				// message is redelivered after rebalance.
				return
			}
		}
	}
}

func (c *KafkaConsumer) handleSafely(ctx context.Context, msg models.QueueMessage, handler HandlerFunc) (d Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			d = Retry
			c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
			)
		}
	}()
	return handler(ctx, msg)
}

func (c *KafkaConsumer) deadLetterMessage(ctx context.Context, msg models.QueueMessage, cause error, sourceTopic, reason string) {
	reasonText := reason
	if cause != nil {
		reasonText = fmt.Sprintf("%s: %v", reason, cause)
	}
	c.deadLetter(ctx, models.DeadLetter{
		Message:     msg,
		Reason:      reasonText,
		SourceTopic: sourceTopic,
		FailedAt:    time.Now(),
	}, reason)
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, dl models.DeadLetter, reason string) {
	if c.dlqProducer == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(ctx, "No DLQ configured, dropping terminated message",
			"source_topic", dl.SourceTopic,
		)
		return
	}

	if err := c.dlqProducer.PublishDeadLetter(ctx, c.cfg.DLQTopic, dl); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to publish to DLQ",
			"error", err,
			"dlq_topic", c.cfg.DLQTopic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, dl.SourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", dl.SourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", dl.Reason,
	)
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message, topic string) {
	if err := c.committer.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil {
			if err == nil {
				err = closeErr
			}
		}
	}
	c.wg.Wait()
	return err
}
