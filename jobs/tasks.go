package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAttachProductImages is the task type for a bulk attach-images run.
	TaskAttachProductImages = "wcattach:attach_product_images"
)

// AttachImagesPayload describes where an attach run starts.
type AttachImagesPayload struct {
	Page int `json:"page"`
	// Continuation makes the run handle a single page and enqueue the next one.
	Continuation bool   `json:"continuation,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
}

// NewAttachImagesTask constructs an Asynq task.
func NewAttachImagesTask(payload AttachImagesPayload) (*asynq.Task, error) {
	if payload.Page < 1 {
		payload.Page = 1
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttachProductImages, data), nil
}
