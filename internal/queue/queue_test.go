package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "images:reconcile"

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type recordingHandler struct {
	mu    sync.Mutex
	tasks []Task
	fail  bool
}

func (h *recordingHandler) Handle(_ context.Context, msg redis.XMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("handler unavailable")
	}
	task, err := DecodeTask(msg.Values)
	if err != nil {
		return err
	}
	h.tasks = append(h.tasks, task)
	return nil
}

func TestProducerEnqueue(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	producer := NewProducer(client, testStream)

	require.NoError(t, producer.ReportOrphan(ctx, "id-1", "id-1.png"))
	require.NoError(t, producer.EnqueueSweep(ctx))

	msgs, err := client.XRange(ctx, testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	orphan, err := DecodeTask(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, Task{Type: TaskOrphan, ImageID: "id-1", Location: "id-1.png"}, orphan)

	sweep, err := DecodeTask(msgs[1].Values)
	require.NoError(t, err)
	assert.Equal(t, Task{Type: TaskSweep}, sweep)
}

func TestNilProducerIsNoop(t *testing.T) {
	var producer *Producer
	assert.NoError(t, producer.ReportOrphan(context.Background(), "id", "id.png"))
}

func TestDecodeTaskRequiresType(t *testing.T) {
	_, err := DecodeTask(map[string]interface{}{"imageId": "x"})
	require.Error(t, err)
}

func TestConsumerReadAcksHandledMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	handler := &recordingHandler{}
	consumer := NewConsumer(client, testStream, "reapers", "c1", 0, zerolog.Nop(), handler)
	consumer.block = 10 * time.Millisecond

	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx), "existing group is not an error")

	producer := NewProducer(client, testStream)
	require.NoError(t, producer.ReportOrphan(ctx, "a", "a.png"))
	require.NoError(t, producer.EnqueueSweep(ctx))

	require.NoError(t, consumer.read(ctx))
	require.Len(t, handler.tasks, 2)
	assert.Equal(t, TaskOrphan, handler.tasks[0].Type)
	assert.Equal(t, TaskSweep, handler.tasks[1].Type)

	pending, err := client.XPending(ctx, testStream, "reapers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumerReclaimsFailedMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	handler := &recordingHandler{fail: true}
	consumer := NewConsumer(client, testStream, "reapers", "c1", 0, zerolog.Nop(), handler)
	consumer.block = 10 * time.Millisecond

	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, NewProducer(client, testStream).ReportOrphan(ctx, "b", "b.jpg"))

	require.NoError(t, consumer.read(ctx))
	pending, err := client.XPending(ctx, testStream, "reapers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	handler.fail = false
	require.NoError(t, consumer.claimStalled(ctx))
	require.Len(t, handler.tasks, 1)
	assert.Equal(t, "b", handler.tasks[0].ImageID)

	pending, err = client.XPending(ctx, testStream, "reapers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}
