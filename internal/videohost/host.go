// Package videohost integrates with the external video hosting provider.
// Video bytes are offloaded there instead of being served from local storage;
// the provider transcodes asynchronously and is polled until a terminal state.
package videohost

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ProcessingStatus is the provider-side state of an offloaded video.
type ProcessingStatus string

const (
	StatusUploading  ProcessingStatus = "uploading"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further transition can occur.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessingState is one polled snapshot. Only the terminal outcome is folded
// back into the resource record.
type ProcessingState struct {
	Status   ProcessingStatus `json:"status"`
	Progress int              `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// UploadRequest describes one video handed to the provider. Privacy is not a
// field: every upload is fixed to unlisted by the client, never public.
type UploadRequest struct {
	Title       string
	Description string
	Filename    string
	Size        int64
	Body        io.Reader
}

// Host is the two-operation contract the pipeline requires from any video
// provider. Upload returns as soon as the provider acknowledges receipt; it
// does not wait for transcoding.
type Host interface {
	Upload(ctx context.Context, req UploadRequest) (videoID string, err error)
	Status(ctx context.Context, videoID string) (ProcessingState, error)
	Delete(ctx context.Context, videoID string) error
}

// ErrTransient marks provider failures worth retrying on the next poll:
// unreachable host, rate limiting, 5xx responses.
var ErrTransient = errors.New("video host transiently unavailable")

// ProcessingFailedError is a provider-reported transcode failure, distinct
// from a local wait timeout.
type ProcessingFailedError struct {
	Reason string
}

func (e *ProcessingFailedError) Error() string {
	return fmt.Sprintf("video processing failed: %s", e.Reason)
}
