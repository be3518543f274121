package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/config"
)

func TestHandleUploadRejectsMultipleFileParts(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	first, err := mw.CreateFormFile("file", "a.txt")
	if err != nil {
		t.Fatalf("create first part: %v", err)
	}
	if _, err := first.Write([]byte("first file")); err != nil {
		t.Fatalf("write first part: %v", err)
	}
	second, err := mw.CreateFormFile("file", "b.txt")
	if err != nil {
		t.Fatalf("create second part: %v", err)
	}
	if _, err := second.Write([]byte("second file")); err != nil {
		t.Fatalf("write second part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	s := New(&config.Config{Limits: config.UploadLimits{MaxVideoSize: 1 << 20}}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/resources", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(context.WithValue(req.Context(), identityKey, Identity{UserID: "teacher-1"}))
	rec := httptest.NewRecorder()

	s.handleUpload(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "multiple file parts") {
		t.Fatalf("unexpected response body %q", rec.Body.String())
	}
}
