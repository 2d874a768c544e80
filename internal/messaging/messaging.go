package messaging

import (
	"context"
	"time"
)

const (
	UrlsDeleteQueue = "urls_delete_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// UrlsScheduledPayload nudges the reclamation worker that new deletion
// intents were written. Informational only: the durable UrlToDelete records
// are the source of truth and the worker sweeps them periodically anyway.
type UrlsScheduledPayload struct {
	Company string
	TaskId  string
	Count   int
}

type Publisher interface {
	PublishUrlsScheduled(ctx context.Context, payload UrlsScheduledPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
