package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/citadel-pam/citadel/internal/jobs"
	"github.com/citadel-pam/citadel/internal/perms"
)

// PermCacheJob handles permission cache maintenance tasks.
type PermCacheJob struct {
	Service *perms.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermCacheJob wires the cache maintenance handlers.
func NewPermCacheJob(service *perms.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermCacheJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermCacheJob{Service: service, Logger: logger, Metrics: metrics}
}

// HandleExpire processes TaskPermCacheExpire tasks.
func (j *PermCacheJob) HandleExpire(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("perm cache job: not configured")
	}
	tracker := j.Metrics.Track("perm_cache_expire")
	if err := tracker.End(j.Service.ExpireAllCache(ctx)); err != nil {
		j.Logger.Error("expire permission cache", slog.Any("error", err))
		return err
	}
	j.Logger.Info("permission cache expired")
	return nil
}

// HandleWarmup processes TaskPermCacheWarmup tasks. An unknown user is not
// retried: the grant set no longer exists to warm.
func (j *PermCacheJob) HandleWarmup(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("perm cache job: not configured")
	}
	var payload PermCacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.UserID == uuid.Nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track("perm_cache_warmup")
	if _, err := j.Service.Resolve(ctx, payload.UserID, perms.PolicyRefresh); tracker.End(err) != nil {
		if errors.Is(err, perms.ErrNotFound) {
			j.Logger.Warn("warmup skipped, user unknown", slog.String("user_id", payload.UserID.String()))
			return asynq.SkipRetry
		}
		j.Logger.Error("warm permission cache", slog.String("user_id", payload.UserID.String()), slog.Any("error", err))
		return err
	}
	j.Logger.Info("permission cache warmed", slog.String("user_id", payload.UserID.String()))
	return nil
}
