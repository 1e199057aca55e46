package httpserver

import (
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxAttachmentBytes  = 32 << 20 // 32 MiB
	attachmentURLExpiry = 15 * time.Minute
	attachmentFormField = "file"
)

// Handles a multipart attachment upload. The returned object path goes
// into the message's attachment_path when the message is sent.
func (s *Server) HandleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(r); !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentBytes)

	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile(attachmentFormField)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Form field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	ext := strings.TrimPrefix(path.Ext(header.Filename), ".")
	if ext == "" {
		ext = "bin"
	}

	objectPath, err := s.storage.UploadAttachment(r.Context(), uuid.New().String(), data, ext)
	if err != nil {
		s.log.Error("Failed to upload attachment", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to store attachment")
		return
	}

	s.log.Info(
		"Attachment uploaded",
		"path", objectPath,
		"size", len(data),
	)

	s.respondJSON(w, http.StatusCreated, UploadAttachmentResponse{
		Path: objectPath,
	})
}

// Handles issuing a temporary download link for an attachment
func (s *Server) HandleGetAttachmentURL(w http.ResponseWriter, r *http.Request) {
	objectPath := r.URL.Query().Get("path")
	if objectPath == "" {
		s.respondError(w, http.StatusBadRequest, "Query parameter 'path' is required")
		return
	}

	url, err := s.storage.GetPresignedURL(r.Context(), objectPath, attachmentURLExpiry)
	if err != nil {
		s.log.Error("Failed to presign attachment url", "path", objectPath, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to generate download link")
		return
	}

	s.respondJSON(w, http.StatusOK, AttachmentURLResponse{
		URL:       url,
		ExpiresAt: time.Now().Add(attachmentURLExpiry),
	})
}
