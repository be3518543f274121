package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/chalkdrop/chalkdrop/internal/model"
)

// StagedFile is an upload spooled to a temp file so the validator and all
// three scan passes can seek over it. Cleanup is safe to call more than once
// and must be deferred by whoever stages the file, so the bytes are purged on
// every exit path.
type StagedFile struct {
	File *os.File
	Size int64
	Hash string

	removed bool
}

// Cleanup closes and deletes the staged file.
func (s *StagedFile) Cleanup() {
	if s == nil || s.removed {
		return
	}
	s.removed = true
	name := s.File.Name()
	_ = s.File.Close()
	_ = os.Remove(name)
}

// Stage copies r into a temp file, hashing as it goes and enforcing maxBytes.
// The returned file is rewound to the start.
func Stage(r io.Reader, maxBytes int64) (*StagedFile, error) {
	tmp, err := os.CreateTemp("", "chalkdrop-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r, maxBytes+1))
	if err != nil {
		discard()
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if written > maxBytes {
		discard()
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", model.ErrFileTooLarge, maxBytes)
	}
	if written == 0 {
		discard()
		return nil, fmt.Errorf("%w: empty upload", model.ErrInvalidFileType)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	return &StagedFile{
		File: tmp,
		Size: written,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
