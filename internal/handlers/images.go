package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"imagesim/internal/config"
	"imagesim/internal/models"
	"imagesim/internal/search"
	"imagesim/internal/services"
	"imagesim/internal/store"
)

// ImageHandler serves record metadata, listing, deletion and the similarity
// queries. All ranking semantics live in the search engine and the store;
// this layer only translates HTTP.
type ImageHandler struct {
	cfg    config.Config
	store  store.Store
	engine *search.Engine
	thumbs *services.Preprocessor
	log    *logrus.Logger
}

func NewImageHandler(cfg config.Config, st store.Store, engine *search.Engine, thumbs *services.Preprocessor, log *logrus.Logger) *ImageHandler {
	return &ImageHandler{
		cfg:    cfg,
		store:  st,
		engine: engine,
		thumbs: thumbs,
		log:    log,
	}
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		h.log.WithError(err).Error("get image")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to retrieve image")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.store.List(r.Context(), offset, limit)
	if err != nil {
		h.log.WithError(err).Error("list images")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list images")
		return
	}

	if records == nil {
		records = []*models.ImageRecord{} // `[]` over `null` in the response
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		h.log.WithError(err).Error("delete image")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete image")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		h.log.WithError(err).Error("delete image")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete image")
		return
	}

	// Best effort; the record and its indexes are already gone.
	if rec.FilePath != "" {
		os.Remove(rec.FilePath)
	}
	h.thumbs.Remove(id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *ImageHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var opts search.Options
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be a number")
			return
		}
		opts.Threshold = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		opts.Limit = &l
	}

	result, err := h.engine.Similar(r.Context(), id, opts)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "image not found")
		case errors.Is(err, store.ErrNoEmbedding):
			writeError(w, http.StatusConflict, "no_embedding", "image has not completed processing")
		case errors.Is(err, search.ErrInvalidThreshold):
			writeError(w, http.StatusBadRequest, "invalid_threshold", err.Error())
		case errors.Is(err, search.ErrInvalidLimit):
			writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		default:
			h.log.WithError(err).Error("similarity search")
			writeError(w, http.StatusInternalServerError, "internal_error", "similarity search failed")
		}
		return
	}

	if result.Matches == nil {
		result.Matches = []store.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_image_id":   result.QueryID,
		"similar_images":   result.Matches,
		"total_results":    len(result.Matches),
		"search_timestamp": result.SearchedAt,
	})
}

func (h *ImageHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	pairs, err := h.engine.Duplicates(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("duplicate search")
		writeError(w, http.StatusInternalServerError, "internal_error", "duplicate search failed")
		return
	}

	if pairs == nil {
		pairs = []store.DuplicatePair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duplicates":    pairs,
		"total_results": len(pairs),
	})
}

func (h *ImageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("stats")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_images":         stats.Total,
		"completed_images":     stats.Completed,
		"processing_images":    stats.Processing,
		"pending_images":       stats.Pending,
		"failed_images":        stats.Failed,
		"embedding_dimension":  h.cfg.EmbeddingDimension,
		"similarity_threshold": h.cfg.SimilarityThreshold,
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "image id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
