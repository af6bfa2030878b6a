package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/Brownie44l1/dogs-api/internal/config"
)

// RedisOpt parses the queue broker URL, like "redis://host:6379/1".
func RedisOpt(uri string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid queue redis url: %w", err)
	}
	return opt, nil
}

type ServerLogger interface {
	asynq.Logger
	Errorf(format string, args ...interface{})
}

// NewServer builds the worker side of the queue. Tasks that fail without
// retry are logged here once; retried failures are logged on every attempt.
func NewServer(redisOpt asynq.RedisConnOpt, conf config.QueueConfig, logger ServerLogger) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: conf.Concurrency,
		Queues:      map[string]int{conf.Name: 1},
		Logger:      logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			if errors.Is(err, asynq.SkipRetry) {
				logger.Errorf("task %s (%s) failed: %v", id, t.Type(), err)
				return
			}
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Errorf("task %s (%s) attempt %d/%d failed: %v", id, t.Type(), retried+1, maxRetry+1, err)
		}),
	})
}
