package validation

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/model"
)

func testValidator() *Validator {
	return New(config.UploadLimits{
		MaxFileSize:  1 << 20,
		MaxVideoSize: 4 << 20,
	})
}

func candidate(name, mimeType string, data []byte) *model.UploadCandidate {
	return &model.UploadCandidate{
		OwnerID:  "teacher-1",
		Filename: name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Bytes:    bytes.NewReader(data),
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAcceptsPlainText(t *testing.T) {
	v := testValidator()
	data := []byte("fraction worksheet for grade 5")
	c := candidate("worksheet.txt", "text/plain", data)
	if err := v.Validate(c); err != nil {
		t.Fatalf("expected valid candidate, got %v", err)
	}
	// The stream must be rewound for the scanner.
	got, err := io.ReadAll(c.Bytes)
	if err != nil {
		t.Fatalf("read after validate: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("stream not rewound after validate")
	}
}

func TestValidateAcceptsRealImage(t *testing.T) {
	v := testValidator()
	c := candidate("diagram.png", "image/png", pngBytes(t, 100, 100))
	if err := v.Validate(c); err != nil {
		t.Fatalf("expected valid image, got %v", err)
	}
}

func TestValidateRejectsTinyImage(t *testing.T) {
	v := testValidator()
	c := candidate("dot.png", "image/png", pngBytes(t, 5, 5))
	if err := v.Validate(c); !errors.Is(err, model.ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType for 5x5 image, got %v", err)
	}
}

func TestValidateRejectsExecutableBehindDocumentName(t *testing.T) {
	v := testValidator()
	payload := append([]byte{0x4D, 0x5A}, bytes.Repeat([]byte{0x00}, 64)...)
	c := candidate("report.pdf", "application/pdf", payload)
	if err := v.Validate(c); !errors.Is(err, model.ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType for MZ header behind .pdf, got %v", err)
	}
}

func TestValidateRejectsSignatureMismatch(t *testing.T) {
	v := testValidator()
	c := candidate("photo.png", "image/png", []byte("definitely not a png"))
	if err := v.Validate(c); !errors.Is(err, model.ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType for signature mismatch, got %v", err)
	}
}

func TestValidateAllowsZipHeaderForContainerFormats(t *testing.T) {
	v := testValidator()
	payload := append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{0x01}, 64)...)
	c := candidate("lesson-plan.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", payload)
	if err := v.Validate(c); err != nil {
		t.Fatalf("expected docx zip container to pass, got %v", err)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	v := testValidator()
	tests := []struct {
		name      string
		candidate *model.UploadCandidate
		wantErr   error
	}{
		{
			name:      "unknown mime type",
			candidate: candidate("archive.zip", "application/zip", []byte("data")),
			wantErr:   model.ErrInvalidFileType,
		},
		{
			name:      "blocked extension",
			candidate: candidate("setup.exe", "text/plain", []byte("data")),
			wantErr:   model.ErrInvalidFileType,
		},
		{
			name:      "extension disagrees with declared type",
			candidate: candidate("photo.png", "text/plain", []byte("data")),
			wantErr:   model.ErrInvalidFileType,
		},
		{
			name:      "empty file",
			candidate: candidate("empty.txt", "text/plain", nil),
			wantErr:   model.ErrInvalidFileType,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Validate(tc.candidate); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateSizeCeilings(t *testing.T) {
	v := testValidator()

	doc := candidate("notes.txt", "text/plain", []byte("small"))
	doc.Size = 2 << 20
	if err := v.Validate(doc); !errors.Is(err, model.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge for 2MiB document, got %v", err)
	}

	// The same size is fine for a video, which gets the higher ceiling.
	header := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypisom")...)
	video := candidate("lecture.mp4", "video/mp4", append(header, bytes.Repeat([]byte{0x00}, 64)...))
	video.Size = 2 << 20
	if err := v.Validate(video); err != nil {
		t.Fatalf("expected 2MiB video to pass, got %v", err)
	}

	video.Size = 8 << 20
	if err := v.Validate(video); !errors.Is(err, model.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge for 8MiB video, got %v", err)
	}
}

func TestTypeFromMIME(t *testing.T) {
	tests := []struct {
		mime     string
		wantType model.ResourceType
		wantOK   bool
	}{
		{"video/mp4", model.TypeVideo, true},
		{"image/png", model.TypeImage, true},
		{"application/pdf", model.TypeDocument, true},
		{"text/plain", model.TypeDocument, true},
		{"text/csv", model.TypeText, true},
		{" Text/Plain ", model.TypeDocument, true},
		{"application/zip", "", false},
	}
	for _, tc := range tests {
		got, ok := TypeFromMIME(tc.mime)
		if ok != tc.wantOK || got != tc.wantType {
			t.Fatalf("TypeFromMIME(%q) = %q, %v; want %q, %v", tc.mime, got, ok, tc.wantType, tc.wantOK)
		}
	}
}
