// Package repository wraps all SQL used throughout the API and worker.
// Concurrent edits to the same resource serialize through row locks inside
// the store's own transactions; there is no application-level locking.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chalkdrop/chalkdrop/internal/model"
)

const resourceColumns = `
	id, owner_id, title, description, subjects, grade_levels, type, format,
	filename, size, content_hash, storage_key, external_video_id, offload_error,
	security_scan_status, scan_summary, verification_status, is_active,
	created_at, updated_at`

// ResourceRepository owns reads and writes of the resources table.
type ResourceRepository struct {
	pool *pgxpool.Pool
}

// NewResourceRepository constructs a repository.
func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

// CreateWithVerdict inserts the resource together with its first scan outcome
// in a single transaction. An unsafe verdict aborts the transaction and
// signals SecurityRejected; the row is never visible in a pending-unsafe
// state.
func (r *ResourceRepository) CreateWithVerdict(ctx context.Context, res *model.Resource, verdict model.ScanVerdict) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin create", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	res.SecurityScanStatus = model.ScanPending
	res.VerificationStatus = model.VerificationPending
	res.IsActive = true
	res.CreatedAt = now
	res.UpdatedAt = now
	res.ScanSummary = strings.Join(verdict.Details, "; ")

	_, err = tx.Exec(ctx, `
		INSERT INTO resources (id, owner_id, title, description, subjects, grade_levels,
			type, format, filename, size, content_hash, storage_key, external_video_id,
			offload_error, security_scan_status, scan_summary, verification_status,
			is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, res.ID, res.OwnerID, res.Title, res.Description, res.Subjects, res.GradeLevels,
		res.Type, res.Format, res.Filename, res.Size, res.ContentHash, res.StorageKey, nil,
		"", res.SecurityScanStatus, res.ScanSummary, res.VerificationStatus,
		res.IsActive, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return storageErr("insert resource", err)
	}

	if !verdict.Safe() {
		// The deferred rollback discards the insert.
		return &model.SecurityRejectedError{Details: verdict.Details}
	}

	res.SecurityScanStatus = model.ScanPassed
	if _, err := tx.Exec(ctx, `
		UPDATE resources SET security_scan_status=$1, updated_at=$2 WHERE id=$3
	`, res.SecurityScanStatus, now, res.ID); err != nil {
		return storageErr("mark scan passed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit create", err)
	}
	return nil
}

// Get returns an active resource by id.
func (r *ResourceRepository) Get(ctx context.Context, id string) (*model.Resource, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM resources WHERE id=$1 AND is_active
	`, id)
	return scanResource(row)
}

// UpdateMetadata edits the owner-editable fields. The owner check happens
// inside the transaction, on the locked row, before any mutation.
func (r *ResourceRepository) UpdateMetadata(ctx context.Context, id, callerID string, upd model.MetadataUpdate) (*model.Resource, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockResource(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != callerID {
		return nil, model.ErrUnauthorized
	}

	if upd.Title != nil {
		res.Title = *upd.Title
	}
	if upd.Description != nil {
		res.Description = *upd.Description
	}
	if upd.Subjects != nil {
		res.Subjects = upd.Subjects
	}
	if upd.GradeLevels != nil {
		res.GradeLevels = upd.GradeLevels
	}
	res.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE resources SET title=$1, description=$2, subjects=$3, grade_levels=$4, updated_at=$5
		WHERE id=$6
	`, res.Title, res.Description, res.Subjects, res.GradeLevels, res.UpdatedAt, id); err != nil {
		return nil, storageErr("update metadata", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit update", err)
	}
	return res, nil
}

// SoftDelete flips is_active off; the row is never removed. The returned
// resource lets the caller run storage and external-video cleanup.
func (r *ResourceRepository) SoftDelete(ctx context.Context, id, callerID string) (*model.Resource, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin delete", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockResource(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != callerID {
		return nil, model.ErrUnauthorized
	}

	res.IsActive = false
	res.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE resources SET is_active=FALSE, updated_at=$1 WHERE id=$2
	`, res.UpdatedAt, id); err != nil {
		return nil, storageErr("soft delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit delete", err)
	}
	return res, nil
}

// MarkVideoReady records a completed offload. It only touches active rows, so
// a poll result landing after the resource was deleted is dropped with
// ErrNotFound instead of resurrecting state.
func (r *ResourceRepository) MarkVideoReady(ctx context.Context, id, externalVideoID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resources SET external_video_id=$1, updated_at=$2
		WHERE id=$3 AND is_active
	`, externalVideoID, time.Now().UTC(), id)
	if err != nil {
		return storageErr("mark video ready", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MarkOffloadFallback downgrades a video resource whose upload to the
// provider failed to a plain document. The resource itself survives;
// external_video_id stays unset.
func (r *ResourceRepository) MarkOffloadFallback(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resources SET type=$1, offload_error=$2, updated_at=$3
		WHERE id=$4 AND is_active
	`, model.TypeDocument, reason, time.Now().UTC(), id)
	if err != nil {
		return storageErr("mark offload fallback", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RecordOffloadFailure stores the terminal failure reason of a processing
// attempt without downgrading the resource type. The offload stays
// independently retryable.
func (r *ResourceRepository) RecordOffloadFailure(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resources SET offload_error=$1, updated_at=$2
		WHERE id=$3 AND is_active
	`, reason, time.Now().UTC(), id)
	if err != nil {
		return storageErr("record offload failure", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// UpdateScanOutcome stores the result of a re-scan over already persisted
// bytes.
func (r *ResourceRepository) UpdateScanOutcome(ctx context.Context, id string, status model.ScanStatus, summary string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resources SET security_scan_status=$1, scan_summary=$2, updated_at=$3
		WHERE id=$4 AND is_active
	`, status, summary, time.Now().UTC(), id)
	if err != nil {
		return storageErr("update scan outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func lockResource(ctx context.Context, tx pgx.Tx, id string) (*model.Resource, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM resources WHERE id=$1 AND is_active
		FOR UPDATE
	`, id)
	return scanResource(row)
}

func scanResource(row pgx.Row) (*model.Resource, error) {
	var (
		res        model.Resource
		externalID *string
	)
	err := row.Scan(&res.ID, &res.OwnerID, &res.Title, &res.Description,
		&res.Subjects, &res.GradeLevels, &res.Type, &res.Format,
		&res.Filename, &res.Size, &res.ContentHash, &res.StorageKey, &externalID,
		&res.OffloadError, &res.SecurityScanStatus, &res.ScanSummary,
		&res.VerificationStatus, &res.IsActive, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr("select resource", err)
	}
	res.ExternalVideoID = externalID
	return &res, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStorageFailure, op, err)
}
