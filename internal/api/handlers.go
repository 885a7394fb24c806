package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/checksum"
	"github.com/replicast/replicast/internal/metrics"
	"github.com/replicast/replicast/internal/models"
)

// Handler serves the inbound replication endpoints.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates the inbound API handler.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")

	if resource == "media" && !isJSONRequest(r) {
		h.createBinary(w, r)
		return
	}

	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.ApplyCreate(resource, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.InboundWrites.WithLabelValues(resource, r.Method).Inc()
	h.log.Info("replica created", "resource", resource, "id", resp.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// createBinary handles the raw attachment upload leg. The metadata for the
// created media object arrives in a follow-up JSON request against the id
// returned here.
func (h *Handler) createBinary(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "replicast_bad_body", "could not read request body")
		return
	}

	if md5 := r.Header.Get("Content-MD5"); md5 != "" && md5 != checksum.ContentMD5(data) {
		writeError(w, http.StatusBadRequest, "replicast_checksum_mismatch", "Content-MD5 does not match body")
		return
	}

	filename := dispositionFilename(r.Header.Get("Content-Disposition"))
	if filename == "" {
		writeError(w, http.StatusBadRequest, "replicast_bad_disposition", "Content-Disposition filename is required")
		return
	}

	resp, err := h.svc.StoreBinary(filename, r.Header.Get("Content-Type"), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.InboundWrites.WithLabelValues("media", r.Method).Inc()
	h.log.Info("attachment stored", "file", filename, "id", resp.ID, "bytes", len(data))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.ApplyUpdate(resource, id, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.InboundWrites.WithLabelValues(resource, r.Method).Inc()
	h.log.Info("replica updated", "resource", resource, "id", id)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Get(chi.URLParam(r, "resource"), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	resp, err := h.svc.ApplyDelete(resource, id, force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.InboundWrites.WithLabelValues(resource, r.Method).Inc()
	h.log.Info("replica deleted", "resource", resource, "id", id, "force", force)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fieldGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	meta, err := h.svc.FieldGet(id, metaTypeForResource(chi.URLParam(r, "resource")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta})
}

func (h *Handler) fieldUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Meta map[string][]string `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "replicast_bad_body", "invalid JSON body")
		return
	}
	metaType := metaTypeForResource(chi.URLParam(r, "resource"))
	if err := h.svc.FieldUpdate(id, metaType, body.Meta); err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.InboundWrites.WithLabelValues(chi.URLParam(r, "resource"), r.Method).Inc()
	meta, err := h.svc.FieldGet(id, metaType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}
	h.log.Error("inbound request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "replicast_internal", "could not persist object")
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*models.Payload, bool) {
	var payload models.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "replicast_bad_body", "invalid JSON body")
		return nil, false
	}
	return &payload, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return 0, false
	}
	return id, true
}

func metaTypeForResource(resource string) string {
	if resource == "terms" {
		return "term"
	}
	return "post"
}

func isJSONRequest(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "application/json"
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
