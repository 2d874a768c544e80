package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

type InMemoryQueue struct {
	tasks chan Task
}

var _ Publisher = (*InMemoryQueue)(nil)
var _ Reciever = (*InMemoryQueue)(nil)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{tasks: make(chan Task, 100)}
}

func (q *InMemoryQueue) PublishUrlsScheduled(ctx context.Context, payload UrlsScheduledPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.tasks <- &inMemoryTask{queue: UrlsDeleteQueue, payload: body}
	return nil
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {}
