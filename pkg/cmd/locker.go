package cmd

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/stepflow-io/stepflow/pkg/locker"
)

// NewLocker builds the locker the URL selects: redis://... for multi-process
// deployments, "memory" (or empty) for single-process runs. The memory locker
// serializes workflows inside one process only.
func NewLocker(ctx context.Context, lockURL string) (locker.Locker, error) {
	if lockURL == "" || lockURL == "memory" {
		return locker.NewMemoryLocker(), nil
	}

	opts, err := redis.ParseURL(lockURL)
	if err != nil {
		return nil, fmt.Errorf("invalid lock URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return locker.NewRedisLocker(client, "stepflow"), nil
}
