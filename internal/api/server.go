// Package api exposes the HTTP boundary over the ingestion pipeline. Handlers
// parse and pre-validate requests, build upload candidates, and map the
// pipeline's failure taxonomy onto HTTP status codes; all business decisions
// live in internal/ingest.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/ingest"
	"github.com/chalkdrop/chalkdrop/internal/model"
)

// Server hosts the resource endpoints.
type Server struct {
	cfg    *config.Config
	svc    *ingest.Service
	logger *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc *ingest.Service, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, logger: logger}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		protected := authMiddleware(s.cfg.JWTSecret, s.logger, http.HandlerFunc(s.handleResourceRoutes))
		mux.Handle("/resources", protected)
		mux.Handle("/resources/", protected)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(s.loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResourceRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/resources")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleUpload(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, id)
		case http.MethodPatch:
			s.handleUpdate(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "download-url":
		s.handleDownloadURL(w, r, id)
	case "rescan":
		s.handleRescan(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxVideoSize+64*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}

	candidate := &model.UploadCandidate{OwnerID: identity.UserID}
	var staged *ingest.StagedFile
	defer func() {
		// Purge the staged bytes on every exit path.
		staged.Cleanup()
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "title":
			candidate.Title = readField(part)
		case "description":
			candidate.Description = readField(part)
		case "subjects":
			candidate.Subjects = splitField(readField(part))
		case "gradeLevels":
			candidate.GradeLevels = splitField(readField(part))
		case "file":
			if staged != nil {
				part.Close()
				http.Error(w, "multiple file parts", http.StatusBadRequest)
				return
			}
			staged, err = ingest.Stage(part, s.cfg.Limits.MaxVideoSize)
			if err != nil {
				part.Close()
				s.respondError(w, err)
				return
			}
			candidate.Filename = part.FileName()
			candidate.MIMEType = part.Header.Get("Content-Type")
			candidate.Size = staged.Size
			candidate.ContentHash = staged.Hash
			candidate.Bytes = staged.File
		}
		part.Close()
	}
	if staged == nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	if candidate.Title == "" {
		candidate.Title = candidate.Filename
	}

	res, err := s.svc.Ingest(r.Context(), candidate)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	identity, _ := identityFrom(r.Context())
	res, err := s.svc.Get(r.Context(), id, identity.UserID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type updateRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Subjects    []string `json:"subjects"`
	GradeLevels []string `json:"gradeLevels"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	identity, _ := identityFrom(r.Context())
	var req updateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	res, err := s.svc.UpdateMetadata(r.Context(), id, identity.UserID, model.MetadataUpdate{
		Title:       req.Title,
		Description: req.Description,
		Subjects:    req.Subjects,
		GradeLevels: req.GradeLevels,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	identity, _ := identityFrom(r.Context())
	if err := s.svc.Delete(r.Context(), id, identity.UserID); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, _ := identityFrom(r.Context())
	url, err := s.svc.DownloadURL(r.Context(), id, identity.UserID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     url,
		"expires": s.cfg.SignedURLTTL.String(),
	})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, _ := identityFrom(r.Context())
	if err := s.svc.RequestRescan(r.Context(), id, identity.UserID); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "rescan queued"})
}

// respondError maps the pipeline's failure taxonomy onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var rejected *model.SecurityRejectedError
	switch {
	case errors.As(err, &rejected):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "file rejected by security scan",
			"details": rejected.Details,
		})
	case errors.Is(err, model.ErrInvalidFileType), errors.Is(err, model.ErrFileTooLarge):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "resource not found", http.StatusNotFound)
	case errors.Is(err, model.ErrExternalService):
		http.Error(w, "external service unavailable", http.StatusBadGateway)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func readField(part *multipart.Part) string {
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func splitField(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already written; an encode failure here only means
	// the client went away.
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
