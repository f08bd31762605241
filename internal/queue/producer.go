package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer appends reconcile tasks to a redis stream.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, task Task) error {
	if p == nil || p.client == nil {
		return nil
	}
	if _, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(),
	}).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", task.Type, err)
	}
	return nil
}

// ReportOrphan queues a blob whose metadata write failed.
func (p *Producer) ReportOrphan(ctx context.Context, imageID, location string) error {
	return p.Enqueue(ctx, Task{Type: TaskOrphan, ImageID: imageID, Location: location})
}

func (p *Producer) EnqueueSweep(ctx context.Context) error {
	return p.Enqueue(ctx, Task{Type: TaskSweep})
}
