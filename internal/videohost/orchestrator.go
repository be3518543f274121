package videohost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrProcessingTimeout means the provider never reached a terminal state
// within the configured wait. Distinct from a provider-reported failure.
var ErrProcessingTimeout = errors.New("video processing did not finish in time")

// uploadAttempts bounds how often a transiently failing upload is retried.
const uploadAttempts = 3

// Orchestrator drives one offload attempt through the
// uploading -> processing -> {completed | failed} state machine.
type Orchestrator struct {
	host         Host
	pollInterval time.Duration
	maxWait      time.Duration
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(host Host, pollInterval, maxWait time.Duration, logger *zap.Logger) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}
	return &Orchestrator{
		host:         host,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		retryBackoff: jitterlessBackoff,
		logger:       logger,
	}
}

// Upload hands the bytes to the provider, retrying transient failures. It
// returns once the provider acknowledges receipt; transcoding is awaited
// separately.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		videoID, err := o.host.Upload(ctx, req)
		if err == nil {
			return videoID, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			break
		}
		o.logger.Warn("video upload attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.retryBackoff):
		}
	}
	return "", fmt.Errorf("upload video: %w", lastErr)
}

// AwaitProcessing polls the provider on a fixed interval until a terminal
// state, the wait budget, or context cancellation. A transiently unreachable
// provider is logged and polled again rather than treated as failed. If the
// owning resource is deleted mid-flight, the caller cancels ctx and the loop
// stops without writing a late result.
func (o *Orchestrator) AwaitProcessing(ctx context.Context, videoID string) (ProcessingState, error) {
	deadline := time.NewTimer(o.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		state, err := o.host.Status(ctx, videoID)
		switch {
		case err == nil:
			if state.Status.Terminal() {
				if state.Status == StatusFailed {
					return state, &ProcessingFailedError{Reason: state.Error}
				}
				return state, nil
			}
			o.logger.Debug("video still processing",
				zap.String("video_id", videoID),
				zap.String("status", string(state.Status)),
				zap.Int("progress", state.Progress))
		case errors.Is(err, ErrTransient):
			o.logger.Warn("video status poll failed, will retry",
				zap.String("video_id", videoID),
				zap.Error(err))
		default:
			return ProcessingState{}, fmt.Errorf("poll video status: %w", err)
		}

		select {
		case <-ctx.Done():
			return ProcessingState{}, ctx.Err()
		case <-deadline.C:
			return ProcessingState{}, fmt.Errorf("%w: waited %s for video %s", ErrProcessingTimeout, o.maxWait, videoID)
		case <-ticker.C:
		}
	}
}

// Delete removes the offloaded video, best effort. Errors are logged by the
// caller and never block a local soft delete.
func (o *Orchestrator) Delete(ctx context.Context, videoID string) error {
	return o.host.Delete(ctx, videoID)
}
