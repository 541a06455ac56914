package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"imagesim/internal/config"
	"imagesim/internal/models"
	"imagesim/internal/services"
	"imagesim/internal/ws"
)

type UploadHandler struct {
	cfg      config.Config
	pipeline *services.Pipeline
	hub      *ws.Hub
	log      *logrus.Logger
}

func NewUploadHandler(cfg config.Config, pipeline *services.Pipeline, hub *ws.Hub, log *logrus.Logger) *UploadHandler {
	return &UploadHandler{
		cfg:      cfg,
		pipeline: pipeline,
		hub:      hub,
		log:      log,
	}
}

type uploadResponse struct {
	ID               string        `json:"id"`
	Filename         string        `json:"filename"`
	Message          string        `json:"message"`
	ProcessingStatus models.Status `json:"processing_status"`
}

// Upload accepts a multipart form with an "image" field and an optional
// "metadata" field of free-form JSON, runs the processing pipeline and
// returns the terminal result.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Some slack over the configured limit so oversized uploads reach the
	// validator and get the proper too_large reason instead of a broken form.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form: "+err.Error())
		return
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing image field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", "failed to read file")
		return
	}

	var metadata map[string]any
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "metadata must be a JSON object")
			return
		}
	}

	result, err := h.pipeline.Process(ctx, services.Upload{
		Content:     content,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Metadata:    metadata,
	})
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			status := http.StatusBadRequest
			if verr.Reason == services.ReasonTooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, string(verr.Reason), verr.Error())
			return
		}
		h.log.WithError(err).Error("upload failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process image")
		return
	}

	if result.Status == models.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"id":                result.ID,
			"processing_status": result.Status,
			"error":             "processing_failed",
			"message":           result.Err.Error(),
		})
		return
	}

	h.hub.Broadcast(ws.Event{
		Type:     "image_processed",
		ID:       result.ID,
		Filename: result.Record.OriginalFilename,
		Status:   string(result.Status),
	})

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:               result.ID.String(),
		Filename:         result.Record.OriginalFilename,
		Message:          "Image uploaded and processed successfully",
		ProcessingStatus: result.Status,
	})
}
