package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/reportql/internal/domain"
)

// Handler exposes ingestion over HTTP:
//
//	POST /datasets               upload a file (?preview=true skips persisting)
//	GET  /datasets               list datasets
//	GET  /datasets/logs          list ingestion problems
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with the dataset endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/logs"):
		h.handleListLogs(w, r)
	case r.Method == http.MethodGet:
		h.handleListDatasets(w, r)
	case r.Method == http.MethodPost:
		h.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.service.ListDatasets(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	entries, err := h.service.ListLogs(r.Context(), query.Get("dataset"), query.Get("file"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	table := TableOptions{Sheet: strings.TrimSpace(r.FormValue("sheet"))}
	if raw := strings.TrimSpace(r.FormValue("headerRow")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid headerRow: %v", err), http.StatusBadRequest)
			return
		}
		table.HeaderRowIndex = &index
	}

	var overrides map[string]domain.FieldType
	if raw := strings.TrimSpace(r.FormValue("columnOverrides")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			http.Error(w, fmt.Sprintf("invalid columnOverrides: %v", err), http.StatusBadRequest)
			return
		}
	}

	datasetName := strings.TrimSpace(r.FormValue("datasetName"))

	if r.URL.Query().Get("preview") == "true" {
		limit, _ := strconv.Atoi(r.FormValue("limit"))
		result, err := h.service.Preview(r.Context(), PreviewRequest{
			DatasetName:     datasetName,
			FileName:        header.Filename,
			Table:           table,
			ColumnOverrides: overrides,
			Data:            bytes.NewReader(data),
			Limit:           limit,
		})
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	summary, err := h.service.Ingest(r.Context(), Request{
		DatasetName:     datasetName,
		Description:     strings.TrimSpace(r.FormValue("description")),
		FileName:        header.Filename,
		Table:           table,
		ColumnOverrides: overrides,
		Data:            bytes.NewReader(data),
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
