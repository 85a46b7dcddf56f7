package mq

import "context"

// Message is one broker record. The ingest flow keys messages by batch id so
// re-deliveries of the same batch land on the same partition.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

// Publisher delivers a message durably; a nil error means the broker acked it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

// Handler processes one delivered message. Returning an error leaves the
// offset unmarked, so the broker redelivers the message later.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Consumer runs a blocking consume loop until ctx is cancelled.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}
