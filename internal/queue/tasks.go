package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRender = "render:kirkify"

type RenderPayload struct {
	RunID       string    `json:"run_id"`
	Size        int       `json:"size"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewRenderTask(payload RenderPayload) (*asynq.Task, error) {
	if payload.RunID == "" {
		return nil, fmt.Errorf("render payload requires run_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRender, body), nil
}

func ParseRenderPayload(task *asynq.Task) (RenderPayload, error) {
	var payload RenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	if payload.RunID == "" {
		return RenderPayload{}, fmt.Errorf("render payload missing run_id")
	}
	return payload, nil
}
