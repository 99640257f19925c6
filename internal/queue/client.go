package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: timeout,
	}
}

// EnqueueRender schedules one render. Renders are not retried: every attempt
// hits the public upstreams again and a failed run is recorded instead.
func (c *Client) EnqueueRender(ctx context.Context, payload RenderPayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.RunID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
