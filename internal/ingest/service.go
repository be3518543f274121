// Package ingest ties the pipeline together: validate, scan, allocate a
// storage key, persist bytes and record transactionally, and hand video
// resources to the offload queue. Each ingestion is an independent unit of
// work; no state is shared across uploads beyond the durable stores.
package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/model"
	"github.com/chalkdrop/chalkdrop/internal/queue"
	"github.com/chalkdrop/chalkdrop/internal/validation"
)

// Validator is the pre-scan gate. Inputs it rejects never reach the scanner.
type Validator interface {
	Validate(c *model.UploadCandidate) error
}

// Scanner produces a verdict for every candidate, never an error.
type Scanner interface {
	Scan(ctx context.Context, c *model.UploadCandidate) model.ScanVerdict
}

// Allocator produces per-owner storage keys and authorizes reads against
// them.
type Allocator interface {
	Allocate(ownerID, filename string) string
	Authorize(key, ownerID string) bool
}

// ResourceStore is the transactional record store behind the pipeline.
type ResourceStore interface {
	CreateWithVerdict(ctx context.Context, res *model.Resource, verdict model.ScanVerdict) error
	Get(ctx context.Context, id string) (*model.Resource, error)
	UpdateMetadata(ctx context.Context, id, callerID string, upd model.MetadataUpdate) (*model.Resource, error)
	SoftDelete(ctx context.Context, id, callerID string) (*model.Resource, error)
}

// BlobStore moves resource bytes in and out of durable storage.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// TaskEnqueuer schedules the asynchronous legs.
type TaskEnqueuer interface {
	EnqueueOffload(ctx context.Context, payload queue.OffloadPayload) error
	EnqueueRescan(ctx context.Context, payload queue.RescanPayload) error
}

// VideoDeleter removes an offloaded video from the external host.
type VideoDeleter interface {
	Delete(ctx context.Context, videoID string) error
}

// Service is the ingestion pipeline.
type Service struct {
	validator Validator
	scanner   Scanner
	allocator Allocator
	store     ResourceStore
	blobs     BlobStore
	tasks     TaskEnqueuer
	videos    VideoDeleter
	signedTTL time.Duration
	logger    *zap.Logger
}

// New constructs the pipeline.
func New(validator Validator, scanner Scanner, allocator Allocator, store ResourceStore,
	blobs BlobStore, tasks TaskEnqueuer, videos VideoDeleter, signedTTL time.Duration,
	logger *zap.Logger) *Service {
	return &Service{
		validator: validator,
		scanner:   scanner,
		allocator: allocator,
		store:     store,
		blobs:     blobs,
		tasks:     tasks,
		videos:    videos,
		signedTTL: signedTTL,
		logger:    logger,
	}
}

// Ingest runs one upload through the whole gate. Input errors return before
// any scan or storage cost; a rejected scan returns before any bytes reach
// durable storage; a failed record transaction purges the stored bytes; a
// failed video enqueue degrades the resource instead of losing it.
func (s *Service) Ingest(ctx context.Context, c *model.UploadCandidate) (*model.Resource, error) {
	if err := s.validator.Validate(c); err != nil {
		return nil, err
	}

	verdict := s.scanner.Scan(ctx, c)
	if !verdict.Safe() {
		// Rejected bytes never touch durable storage.
		s.logger.Warn("upload rejected by security scan",
			zap.String("owner_id", c.OwnerID),
			zap.String("filename", c.Filename),
			zap.Strings("details", verdict.Details))
		return nil, &model.SecurityRejectedError{Details: verdict.Details}
	}

	resourceType, _ := validation.TypeFromMIME(c.MIMEType)
	key := s.allocator.Allocate(c.OwnerID, c.Filename)
	if _, err := c.Bytes.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind staged upload: %w", err)
	}
	if err := s.blobs.Upload(ctx, key, c.Bytes, c.Size, c.MIMEType); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageFailure, err)
	}

	res := &model.Resource{
		ID:          uuid.NewString(),
		OwnerID:     c.OwnerID,
		Title:       c.Title,
		Description: c.Description,
		Subjects:    c.Subjects,
		GradeLevels: c.GradeLevels,
		Type:        resourceType,
		Format:      strings.TrimPrefix(strings.ToLower(filepath.Ext(c.Filename)), "."),
		Filename:    c.Filename,
		Size:        c.Size,
		ContentHash: c.ContentHash,
		StorageKey:  key,
	}

	if err := s.store.CreateWithVerdict(ctx, res, verdict); err != nil {
		// Compensating action: never leave orphaned bytes behind a failed
		// transaction.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Error("orphan cleanup failed after rejected ingest",
				zap.String("storage_key", key),
				zap.Error(delErr))
		}
		return nil, err
	}

	if res.Type == model.TypeVideo {
		payload := queue.OffloadPayload{
			ResourceID: res.ID,
			StorageKey: res.StorageKey,
			Title:      res.Title,
			Filename:   c.Filename,
			Size:       res.Size,
		}
		if err := s.tasks.EnqueueOffload(ctx, payload); err != nil {
			// The video leg is optional: the resource stands, degraded, and
			// the offload can be retried on its own.
			s.logger.Warn("failed to enqueue video offload",
				zap.String("resource_id", res.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("resource ingested",
		zap.String("resource_id", res.ID),
		zap.String("owner_id", res.OwnerID),
		zap.String("type", string(res.Type)),
		zap.Int64("size", res.Size))
	return res, nil
}

// Get returns a resource the caller is entitled to see. Non-owners only see
// resources that passed the security scan, and learn nothing about ones they
// cannot see.
func (s *Service) Get(ctx context.Context, id, callerID string) (*model.Resource, error) {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != callerID && res.SecurityScanStatus != model.ScanPassed {
		return nil, model.ErrNotFound
	}
	return res, nil
}

// UpdateMetadata edits owner-editable fields; ownership is enforced by the
// store inside the transaction.
func (s *Service) UpdateMetadata(ctx context.Context, id, callerID string, upd model.MetadataUpdate) (*model.Resource, error) {
	return s.store.UpdateMetadata(ctx, id, callerID, upd)
}

// Delete soft-deletes the record, then runs best-effort cleanup of the stored
// bytes and, for offloaded videos, the external copy. Remote failures are
// logged and never fail the local delete.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	res, err := s.store.SoftDelete(ctx, id, callerID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, res.StorageKey); err != nil {
		s.logger.Warn("blob cleanup failed on delete",
			zap.String("resource_id", id),
			zap.Error(err))
	}
	if res.Type == model.TypeVideo && res.ExternalVideoID != nil {
		if err := s.videos.Delete(ctx, *res.ExternalVideoID); err != nil {
			s.logger.Warn("external video cleanup failed on delete",
				zap.String("resource_id", id),
				zap.String("video_id", *res.ExternalVideoID),
				zap.Error(err))
		}
	}
	return nil
}

// DownloadURL returns a time-bounded access reference after re-checking the
// owner namespace and the moderation gate.
func (s *Service) DownloadURL(ctx context.Context, id, callerID string) (string, error) {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	isOwner := res.OwnerID == callerID
	if !isOwner && res.SecurityScanStatus != model.ScanPassed {
		return "", model.ErrNotFound
	}
	if res.VerificationStatus == model.VerificationRejected {
		return "", model.ErrUnauthorized
	}
	// Authorize on every read, not only at write time.
	if !s.allocator.Authorize(res.StorageKey, res.OwnerID) {
		return "", model.ErrUnauthorized
	}
	url, err := s.blobs.PresignDownload(ctx, res.StorageKey, s.signedTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorageFailure, err)
	}
	return url, nil
}

// RequestRescan queues a fresh scan over the stored bytes. Only the owner may
// trigger it here; moderation tooling goes through its own surface.
func (s *Service) RequestRescan(ctx context.Context, id, callerID string) error {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.OwnerID != callerID {
		return model.ErrUnauthorized
	}
	if err := s.tasks.EnqueueRescan(ctx, queue.RescanPayload{ResourceID: id}); err != nil {
		return fmt.Errorf("%w: %v", model.ErrExternalService, err)
	}
	return nil
}
