// Package queue defines the asynq task types shared by the API (producer)
// and the worker (consumer).
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// VideoOffloadTask is scheduled when a video resource is ingested.
	VideoOffloadTask = "video:offload"
	// ResourceRescanTask re-runs the security scan over stored bytes.
	ResourceRescanTask = "resource:rescan"
)

// OffloadPayload tells the worker which resource's bytes to hand to the
// external video host.
type OffloadPayload struct {
	ResourceID string `json:"resource_id"`
	StorageKey string `json:"storage_key"`
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}

// RescanPayload identifies a resource for re-scanning.
type RescanPayload struct {
	ResourceID string `json:"resource_id"`
}

// Client wraps an asynq client behind the two enqueue operations the
// pipeline needs.
type Client struct {
	inner *asynq.Client
}

// NewClient constructs a Client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueOffload schedules a video offload job.
func (c *Client) EnqueueOffload(ctx context.Context, payload OffloadPayload) error {
	return c.enqueue(ctx, VideoOffloadTask, payload)
}

// EnqueueRescan schedules a re-scan job.
func (c *Client) EnqueueRescan(ctx context.Context, payload RescanPayload) error {
	return c.enqueue(ctx, ResourceRescanTask, payload)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}
