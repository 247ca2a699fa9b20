// Package jobs defines the background tasks Citadel runs through Asynq.
package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermCacheExpire drops every cached permission resolution.
	TaskPermCacheExpire = "perms:cache:expire"
	// TaskPermCacheWarmup recomputes one user's resolution ahead of TTL expiry.
	TaskPermCacheWarmup = "perms:cache:warmup"
)

// PermCacheWarmupPayload names the user whose grants should be recomputed.
type PermCacheWarmupPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewPermCacheExpireTask constructs the cache expiry task.
func NewPermCacheExpireTask() *asynq.Task {
	return asynq.NewTask(TaskPermCacheExpire, nil)
}

// NewPermCacheWarmupTask constructs a warmup task for one user.
func NewPermCacheWarmupTask(payload PermCacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermCacheWarmup, data), nil
}
