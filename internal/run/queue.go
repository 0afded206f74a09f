package run

import "context"

// Handler processes one run ID taken from a queue.
type Handler func(ctx context.Context, runID string) error

type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

type Queue interface {
	Producer
	Consumer
}
