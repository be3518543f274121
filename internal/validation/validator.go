// Package validation implements the synchronous, side-effect-free checks a
// staged upload must pass before any scan or storage cost is incurred: MIME
// allow-list, extension deny-list, per-type size ceilings, and agreement
// between the declared extension and the file's magic-byte signature.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/model"
)

// headerBytes is how much of the file the signature checks look at.
const headerBytes = 1024

// allowedMIME maps every accepted MIME type to its resource category.
var allowedMIME = map[string]model.ResourceType{
	"image/jpeg": model.TypeImage,
	"image/jpg":  model.TypeImage,
	"image/png":  model.TypeImage,
	"image/gif":  model.TypeImage,
	"image/bmp":  model.TypeImage,
	"image/webp": model.TypeImage,

	"video/mp4":       model.TypeVideo,
	"video/quicktime": model.TypeVideo,
	"video/x-msvideo": model.TypeVideo,
	"video/x-ms-wmv":  model.TypeVideo,
	"video/x-flv":     model.TypeVideo,
	"video/webm":      model.TypeVideo,

	"application/pdf":    model.TypeDocument,
	"application/msword": model.TypeDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": model.TypeDocument,
	"application/rtf":                      model.TypeDocument,
	"application/vnd.oasis.opendocument.text": model.TypeDocument,
	"text/plain":                           model.TypeDocument,

	"text/csv":      model.TypeText,
	"text/markdown": model.TypeText,
}

// categoryExtensions lists the extensions a category accepts. A declared MIME
// type whose extension belongs to a different category is rejected.
var categoryExtensions = map[model.ResourceType]map[string]bool{
	model.TypeImage:    set(".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"),
	model.TypeVideo:    set(".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm"),
	model.TypeDocument: set(".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt"),
	model.TypeText:     set(".csv", ".md"),
}

// deniedExtensions are rejected outright no matter what the declared MIME
// type says.
var deniedExtensions = set(
	".exe", ".dll", ".bat", ".cmd", ".com", ".scr", ".pif", ".msi",
	".sh", ".bash", ".ps1", ".vbs", ".js", ".jar", ".apk", ".app",
)

// IsBlockedExtension reports whether ext sits on the executable/script
// deny-list.
func IsBlockedExtension(ext string) bool {
	return deniedExtensions[strings.ToLower(ext)]
}

const (
	minImageDimension = 10
	maxImageDimension = 10000
)

// Validator performs all pre-scan checks on an upload candidate.
type Validator struct {
	limits config.UploadLimits
}

// New constructs a Validator with the given size ceilings.
func New(limits config.UploadLimits) *Validator {
	return &Validator{limits: limits}
}

// TypeFromMIME resolves the resource category for a declared MIME type.
func TypeFromMIME(mimeType string) (model.ResourceType, bool) {
	t, ok := allowedMIME[strings.ToLower(strings.TrimSpace(mimeType))]
	return t, ok
}

// Validate checks the candidate and returns a typed failure for expected bad
// input. It reads at most the file header plus, for images and PDFs, enough to
// decode structure, and always rewinds the stream before returning.
func (v *Validator) Validate(c *model.UploadCandidate) error {
	resourceType, ok := TypeFromMIME(c.MIMEType)
	if !ok {
		return fmt.Errorf("%w: mime type %q", model.ErrInvalidFileType, c.MIMEType)
	}

	ext := strings.ToLower(filepath.Ext(c.Filename))
	if deniedExtensions[ext] {
		return fmt.Errorf("%w: extension %q is blocked", model.ErrInvalidFileType, ext)
	}
	if !categoryExtensions[resourceType][ext] {
		return fmt.Errorf("%w: extension %q does not match declared type %s", model.ErrInvalidFileType, ext, resourceType)
	}

	limit := v.limits.MaxFileSize
	if resourceType == model.TypeVideo {
		limit = v.limits.MaxVideoSize
	}
	if c.Size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d byte limit for %s", model.ErrFileTooLarge, c.Size, limit, resourceType)
	}
	if c.Size == 0 {
		return fmt.Errorf("%w: empty file", model.ErrInvalidFileType)
	}

	header, err := readHeader(c.Bytes)
	if err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	// An executable or archive header behind a benign name fails here even
	// when MIME and extension look legitimate, unless the extension is a
	// container format that genuinely carries that header (docx, odt).
	if name := MatchDangerous(header); name != "" && !extensionExpects(ext, header) {
		return fmt.Errorf("%w: file signature is %s", model.ErrInvalidFileType, name)
	}
	if !signatureAgrees(ext, header) {
		return fmt.Errorf("%w: file signature does not match extension %q", model.ErrInvalidFileType, ext)
	}

	switch resourceType {
	case model.TypeImage:
		if err := v.checkImage(c.Bytes); err != nil {
			return err
		}
	case model.TypeDocument:
		if ext == ".pdf" {
			if err := v.checkPDF(c.Bytes, c.Size); err != nil {
				return err
			}
		}
	}
	_, err = c.Bytes.Seek(0, io.SeekStart)
	return err
}

// checkImage decodes the image header and rejects absurd dimensions. Formats
// without a registered decoder (bmp, webp) are covered by the signature check
// alone.
func (v *Validator) checkImage(r io.ReadSeeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil
		}
		return fmt.Errorf("%w: undecodable image: %v", model.ErrInvalidFileType, err)
	}
	if cfg.Width < minImageDimension || cfg.Height < minImageDimension {
		return fmt.Errorf("%w: image %dx%d is too small", model.ErrInvalidFileType, cfg.Width, cfg.Height)
	}
	if cfg.Width > maxImageDimension || cfg.Height > maxImageDimension {
		return fmt.Errorf("%w: image %dx%d is too large", model.ErrInvalidFileType, cfg.Width, cfg.Height)
	}
	return nil
}

// checkPDF verifies the document parses as a PDF at all.
func (v *Validator) checkPDF(r io.ReadSeeker, size int64) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if _, err := pdf.NewReader(bytes.NewReader(data), size); err != nil {
		return fmt.Errorf("%w: undecodable pdf: %v", model.ErrInvalidFileType, err)
	}
	return nil
}

// extensionExpects reports whether ext's registered signature matches the
// header, i.e. the "dangerous" bytes are this format's own marker.
func extensionExpects(ext string, header []byte) bool {
	sigs, ok := expectedSignatures[ext]
	if !ok {
		return false
	}
	for _, sig := range sigs {
		if sig.matches(header) {
			return true
		}
	}
	return false
}

func readHeader(r io.ReadSeeker) ([]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	header := make([]byte, headerBytes)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return header[:n], nil
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
