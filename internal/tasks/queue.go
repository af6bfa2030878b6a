package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/Brownie44l1/dogs-api/internal/b64img"
	"github.com/Brownie44l1/dogs-api/internal/config"
	"github.com/Brownie44l1/dogs-api/internal/metrics"
	"github.com/Brownie44l1/dogs-api/internal/model"
)

var ErrTaskNotFound = errors.New("task not found")

// Producer is what the API needs from the queue.
type Producer interface {
	EnqueuePredict(ctx context.Context, imageId int64, device model.Device) (*TaskInfo, error)
	EnqueueInline(ctx context.Context, file []byte, device model.Device) (*TaskInfo, error)
	TaskInfo(ctx context.Context, taskId string) (*TaskInfo, error)
	Wait(ctx context.Context, taskId string) (*TaskInfo, error)
}

// subsets of *asynq.Client and *asynq.Inspector
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

type Queue struct {
	client    enqueuer
	inspector inspector
	conf      config.QueueConfig
	metrics   *metrics.Collector

	// PollInterval is how often Wait asks for the task state.
	PollInterval time.Duration
}

var _ Producer = &Queue{}

func NewQueue(client *asynq.Client, inspector *asynq.Inspector, conf config.QueueConfig, m *metrics.Collector) *Queue {
	return newQueue(client, inspector, conf, m)
}

func newQueue(client enqueuer, inspector inspector, conf config.QueueConfig, m *metrics.Collector) *Queue {
	return &Queue{
		client:       client,
		inspector:    inspector,
		conf:         conf,
		metrics:      m,
		PollInterval: 200 * time.Millisecond,
	}
}

func (q *Queue) enqueue(ctx context.Context, taskType string, payload interface{}) (*TaskInfo, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", taskType, err)
	}

	opts := []asynq.Option{
		asynq.Queue(q.conf.Name),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(q.conf.MaxRetry),
		asynq.Retention(q.conf.Retention),
	}
	if q.conf.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(q.conf.TaskTimeout))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, b), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	q.metrics.TaskEnqueued(taskType)
	return newTaskInfo(info), nil
}

func (q *Queue) EnqueuePredict(ctx context.Context, imageId int64, device model.Device) (*TaskInfo, error) {
	return q.enqueue(ctx, TypePredict, PredictPayload{ImageId: imageId, Device: device})
}

func (q *Queue) EnqueueInline(ctx context.Context, file []byte, device model.Device) (*TaskInfo, error) {
	return q.enqueue(ctx, TypePredictInline, InlinePayload{File: b64img.Encode(file), Device: device})
}

func (q *Queue) TaskInfo(ctx context.Context, taskId string) (*TaskInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := q.inspector.GetTaskInfo(q.conf.Name, taskId)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, ErrTaskNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to inspect task %s: %w", taskId, err)
	}
	return newTaskInfo(info), nil
}

// Wait polls until the task succeeds or fails. When ctx ends first, the last
// known state is returned together with ctx.Err().
func (q *Queue) Wait(ctx context.Context, taskId string) (*TaskInfo, error) {
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()

	last := &TaskInfo{TaskId: taskId, Status: Pending, Result: json.RawMessage("null")}
	for {
		info, err := q.TaskInfo(ctx, taskId)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			// not visible yet
		case err != nil && ctx.Err() != nil:
			return last, ctx.Err()
		case err != nil:
			return nil, err
		default:
			last = info
			if info.Status.Done() {
				return info, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
