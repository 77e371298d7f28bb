// Package jobs hosts background task processing on Asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzExpirySweep drops cached authorization decisions for users
	// whose time-bounded grants recently expired. Expiry is evaluated on
	// every read, so the sweep only tightens the staleness window of the
	// decision cache; it never changes stored data.
	TaskAuthzExpirySweep = "authz:expiry_sweep"
)

// ExpirySweepPayload bounds how far back the sweep looks for freshly
// expired grants.
type ExpirySweepPayload struct {
	LookBack time.Duration `json:"look_back"`
}

// NewExpirySweepTask constructs an Asynq task.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzExpirySweep, data), nil
}
