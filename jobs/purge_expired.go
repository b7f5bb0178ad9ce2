package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/zerodna/cms-authz/internal/jobs"
)

// ExpiredPurger deletes expired assignments and reports how many users were touched.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// PurgeExpiredJob removes assignments whose expiry has passed. Expired rows
// already stop granting at read time; this keeps the join tables small.
type PurgeExpiredJob struct {
	Purger  ExpiredPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPurgeExpiredJob initialises the purge handler.
func NewPurgeExpiredJob(purger ExpiredPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeExpiredJob {
	return &PurgeExpiredJob{Purger: purger, Logger: logger, Metrics: metrics}
}

// Handle executes one purge run.
func (j *PurgeExpiredJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("purge expired: handler not configured")
	}
	var payload PurgeExpiredPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return errors.Join(err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskPurgeExpired)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("job", TaskPurgeExpired), slog.String("requested_by", payload.RequestedBy))
	start := time.Now()
	users, err := j.Purger.PurgeExpired(ctx)
	if err != nil {
		logger.Error("purge failed", slog.Int("users", users), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskPurgeExpired, users)
	logger.Info("purged expired assignments", slog.Int("users", users), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *PurgeExpiredJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
