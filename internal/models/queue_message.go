package models

import (
	"errors"
)

// ErrNoMessage is returned when the queue has nothing visible
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the queue.
// Just enough to route the job; the job record holds everything else.
type QueueMessage struct {
	JobID string  `json:"job_id"` // References JobRecord.ID
	Step  JobStep `json:"step"`   // Handler routing
}
