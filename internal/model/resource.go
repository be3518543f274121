// Package model contains the entities shared across the ingestion pipeline.
package model

import (
	"io"
	"time"
)

// ResourceType categorizes an upload by its declared MIME type. The type is
// derived once at ingestion and never changes afterwards.
type ResourceType string

const (
	TypeVideo    ResourceType = "video"
	TypeImage    ResourceType = "image"
	TypeDocument ResourceType = "document"
	TypeText     ResourceType = "text"
)

// ScanStatus tracks the security scan lifecycle of a resource.
type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanPassed  ScanStatus = "passed"
	ScanFailed  ScanStatus = "failed"
)

// VerificationStatus is owned by the moderation workflow; the pipeline only
// reads it to gate downloads.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFlagged  VerificationStatus = "flagged"
	VerificationRejected VerificationStatus = "rejected"
)

// Resource is a row in the resources table. Other subsystems (search,
// moderation UI) read Type/Format/Size/StorageKey/ScanStatus/ExternalVideoID;
// this service owns all writes to them.
type Resource struct {
	ID                 string             `json:"id"`
	OwnerID            string             `json:"ownerId"`
	Title              string             `json:"title"`
	Description        string             `json:"description,omitempty"`
	Subjects           []string           `json:"subjects,omitempty"`
	GradeLevels        []string           `json:"gradeLevels,omitempty"`
	Type               ResourceType       `json:"type"`
	Format             string             `json:"format"`
	Filename           string             `json:"filename"`
	Size               int64              `json:"size"`
	ContentHash        string             `json:"contentHash,omitempty"`
	StorageKey         string             `json:"-"`
	ExternalVideoID    *string            `json:"externalVideoId,omitempty"`
	OffloadError       string             `json:"offloadError,omitempty"`
	SecurityScanStatus ScanStatus         `json:"securityScanStatus"`
	ScanSummary        string             `json:"scanSummary,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	IsActive           bool               `json:"isActive"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// UploadCandidate is the ephemeral, boundary-validated input to one ingestion
// attempt. Bytes points at the staged temp file and never outlives the attempt.
type UploadCandidate struct {
	OwnerID     string
	Title       string
	Description string
	Subjects    []string
	GradeLevels []string
	Filename    string
	MIMEType    string
	Size        int64
	ContentHash string
	Bytes       io.ReadSeeker
}

// ScanVerdict is the merged outcome of the three scan passes. A candidate may
// be persisted as safe only when all three flags are false.
type ScanVerdict struct {
	VirusFound        bool
	MalwareFound      bool
	SuspiciousContent bool
	Details           []string
	ScannedAt         time.Time
}

// Safe reports whether every pass came back clean.
func (v ScanVerdict) Safe() bool {
	return !v.VirusFound && !v.MalwareFound && !v.SuspiciousContent
}

// MetadataUpdate carries the owner-editable fields of a resource.
type MetadataUpdate struct {
	Title       *string
	Description *string
	Subjects    []string
	GradeLevels []string
}
