package broker

import (
	"context"

	"pulse/pkg/models"
)

// Disposition is the explicit three-way outcome of handling a queue message.
// Retry/backoff is control flow here, not an exception path: the consumer
// turns dispositions into commit, bounded redelivery, or dead-lettering.
type Disposition int

const (
	// Ack removes the message from the queue permanently.
	Ack Disposition = iota
	// Retry returns the message for another attempt after a backoff delay.
	// A message exceeding the configured attempt budget is terminated.
	Retry
	// Terminate removes the message and routes it to the dead-letter topic.
	Terminate
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

type Producer interface {
	Publish(ctx context.Context, topic string, msgs ...models.QueueMessage) error
	PublishDeadLetter(ctx context.Context, topic string, dl models.DeadLetter) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc resolves a delivered message to a disposition. The error is for
// logging and dead-letter annotation only; it never propagates to a caller.
type HandlerFunc func(ctx context.Context, msg models.QueueMessage) (Disposition, error)
