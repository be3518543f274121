// Package worker runs the asynchronous legs of the pipeline: offloading video
// bytes to the external host and re-scanning stored resources.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/ingest"
	"github.com/chalkdrop/chalkdrop/internal/model"
	"github.com/chalkdrop/chalkdrop/internal/queue"
	"github.com/chalkdrop/chalkdrop/internal/videohost"
)

// deletionCheckInterval is how often an in-flight offload checks whether its
// resource was deleted underneath it.
const deletionCheckInterval = 15 * time.Second

// remoteReclaimTimeout bounds the cleanup delete of a remote video when the
// task context is no longer usable.
const remoteReclaimTimeout = 10 * time.Second

// OffloadStore is the slice of the record store the worker needs.
type OffloadStore interface {
	Get(ctx context.Context, id string) (*model.Resource, error)
	MarkVideoReady(ctx context.Context, id, externalVideoID string) error
	MarkOffloadFallback(ctx context.Context, id, reason string) error
	RecordOffloadFailure(ctx context.Context, id, reason string) error
	UpdateScanOutcome(ctx context.Context, id string, status model.ScanStatus, summary string) error
}

// BlobOpener streams stored resource bytes.
type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// VideoOrchestrator drives one offload attempt against the external host.
type VideoOrchestrator interface {
	Upload(ctx context.Context, req videohost.UploadRequest) (string, error)
	AwaitProcessing(ctx context.Context, videoID string) (videohost.ProcessingState, error)
	Delete(ctx context.Context, videoID string) error
}

// Scanner re-runs the security passes for rescan jobs.
type Scanner interface {
	Scan(ctx context.Context, c *model.UploadCandidate) model.ScanVerdict
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store   OffloadStore
	blobs   BlobOpener
	videos  VideoOrchestrator
	scanner Scanner
	logger  *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(store OffloadStore, blobs BlobOpener, videos VideoOrchestrator, scanner Scanner, logger *zap.Logger) *Processor {
	return &Processor{
		store:   store,
		blobs:   blobs,
		videos:  videos,
		scanner: scanner,
		logger:  logger,
	}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VideoOffloadTask, p.handleOffload)
	mux.HandleFunc(queue.ResourceRescanTask, p.handleRescan)
	return mux
}

func (p *Processor) handleOffload(ctx context.Context, task *asynq.Task) error {
	var payload queue.OffloadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode offload payload: %w", err)
	}
	log := p.logger.With(zap.String("resource_id", payload.ResourceID))

	if _, err := p.store.Get(ctx, payload.ResourceID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info("resource deleted before offload, dropping task")
			return nil
		}
		return err
	}

	obj, err := p.blobs.Open(ctx, payload.StorageKey)
	if err != nil {
		return fmt.Errorf("open stored bytes: %w", err)
	}
	defer obj.Close()

	videoID, err := p.videos.Upload(ctx, videohost.UploadRequest{
		Title:    payload.Title,
		Filename: payload.Filename,
		Size:     payload.Size,
		Body:     obj,
	})
	if err != nil {
		// The upload leg is done retrying; the resource survives as a plain
		// document rather than being lost.
		log.Warn("video upload failed, falling back to document", zap.Error(err))
		if mErr := p.store.MarkOffloadFallback(ctx, payload.ResourceID, err.Error()); mErr != nil && !errors.Is(mErr, model.ErrNotFound) {
			return mErr
		}
		return nil
	}
	log = log.With(zap.String("video_id", videoID))
	log.Info("video handed to external host")

	// Cancel the poll loop if the resource is deleted while processing.
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.watchDeletion(pollCtx, payload.ResourceID, cancel)

	state, err := p.videos.AwaitProcessing(pollCtx, videoID)
	switch {
	case err == nil:
		if mErr := p.store.MarkVideoReady(ctx, payload.ResourceID, videoID); mErr != nil {
			if errors.Is(mErr, model.ErrNotFound) {
				// Deleted mid-flight: drop the late result, reclaim the remote copy.
				p.deleteRemote(ctx, log, videoID)
				return nil
			}
			return mErr
		}
		log.Info("video processing completed", zap.Int("progress", state.Progress))
		return nil

	case errors.Is(err, videohost.ErrProcessingTimeout):
		log.Warn("video processing timed out, resource persists without external id", zap.Error(err))
		if mErr := p.store.RecordOffloadFailure(ctx, payload.ResourceID, err.Error()); mErr != nil && !errors.Is(mErr, model.ErrNotFound) {
			return mErr
		}
		return nil

	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// Our own deletion watch fired.
		log.Info("resource deleted during processing, abandoning offload")
		p.deleteRemote(ctx, log, videoID)
		return nil

	default:
		var failed *videohost.ProcessingFailedError
		if errors.As(err, &failed) {
			log.Warn("provider reported processing failure", zap.String("reason", failed.Reason))
			if mErr := p.store.RecordOffloadFailure(ctx, payload.ResourceID, failed.Reason); mErr != nil && !errors.Is(mErr, model.ErrNotFound) {
				return mErr
			}
			return nil
		}
		// A requeued task restarts at Upload, so this attempt's remote copy
		// must be reclaimed first or retries pile up duplicates. The task
		// context may already be cancelled (worker shutdown), so the cleanup
		// gets its own deadline.
		log.Warn("video processing interrupted, reclaiming remote copy before retry", zap.Error(err))
		reclaimCtx, cancelReclaim := context.WithTimeout(context.Background(), remoteReclaimTimeout)
		defer cancelReclaim()
		p.deleteRemote(reclaimCtx, log, videoID)
		return err
	}
}

func (p *Processor) watchDeletion(ctx context.Context, resourceID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(deletionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.store.Get(ctx, resourceID); errors.Is(err, model.ErrNotFound) {
				cancel()
				return
			}
		}
	}
}

func (p *Processor) deleteRemote(ctx context.Context, log *zap.Logger, videoID string) {
	if err := p.videos.Delete(ctx, videoID); err != nil {
		log.Warn("failed to delete abandoned external video", zap.Error(err))
	}
}

func (p *Processor) handleRescan(ctx context.Context, task *asynq.Task) error {
	var payload queue.RescanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode rescan payload: %w", err)
	}
	log := p.logger.With(zap.String("resource_id", payload.ResourceID))

	res, err := p.store.Get(ctx, payload.ResourceID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info("resource deleted before rescan, dropping task")
			return nil
		}
		return err
	}

	obj, err := p.blobs.Open(ctx, res.StorageKey)
	if err != nil {
		return fmt.Errorf("open stored bytes: %w", err)
	}
	defer obj.Close()
	staged, err := ingest.Stage(obj, res.Size)
	if err != nil {
		return fmt.Errorf("stage stored bytes: %w", err)
	}
	defer staged.Cleanup()

	// The keyword pass matches on the uploaded name, so the rescan must see
	// the original filename, not a synthetic one.
	filename := res.Filename
	if filename == "" {
		filename = res.ID + "." + res.Format
	}
	candidate := &model.UploadCandidate{
		OwnerID:  res.OwnerID,
		Filename: filename,
		Size:     staged.Size,
		Bytes:    staged.File,
	}
	verdict := p.scanner.Scan(ctx, candidate)

	status := model.ScanPassed
	if !verdict.Safe() {
		status = model.ScanFailed
	}
	summary := strings.Join(verdict.Details, "; ")
	if err := p.store.UpdateScanOutcome(ctx, payload.ResourceID, status, summary); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	log.Info("rescan finished", zap.String("status", string(status)))
	return nil
}
