package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPurgeExpired removes expired user role and permission assignments.
	TaskPurgeExpired = "purge:expired"
)

// PurgeExpiredPayload records who asked for the run.
type PurgeExpiredPayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewPurgeExpiredTask constructs an Asynq task for the purge job.
func NewPurgeExpiredTask(requestedBy string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(PurgeExpiredPayload{RequestedBy: requestedBy, RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeExpired, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Unique(10*time.Minute)), nil
}

// KnownTasks lists the task types the worker handles.
var KnownTasks = []string{TaskPurgeExpired}
