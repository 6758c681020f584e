package httphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/repository/counter"
	"github.com/jgivc/emogoexport/internal/service/export"
	"github.com/jgivc/emogoexport/internal/service/page"
)

const (
	contentTypeJSON = "application/json"
	contentTypeZip  = "application/zip"
	contentTypeHTML = "text/html; charset=utf-8"

	headerExportID = "X-Export-Id"

	rootMessage = "EmoGo backend is running"
)

type PageService interface {
	GetIndexPage(ctx context.Context) (*page.Page, error)
}

type ExportService interface {
	List(ctx context.Context, category entity.Category) ([]*entity.Record, error)
	Bundle(ctx context.Context, category entity.Category) (*export.Bundle, error)
}

type IngestService interface {
	Insert(ctx context.Context, category entity.Category, doc map[string]any) (string, error)
	InsertBatch(ctx context.Context, batch map[entity.Category][]map[string]any) (map[entity.Category]int, error)
}

type CounterService interface {
	GetExportCounters(ctx context.Context) ([]*counter.ExportCounter, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRootHandler(log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "RootHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"message": rootMessage})
	}
}

func NewPageHandler(srv PageService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "PageHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		p, err := srv.GetIndexPage(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, common.ErrStoreUnavailable):
				http.Error(w, "Record store unavailable", http.StatusServiceUnavailable)
			default:
				http.Error(w, "Cannot get page", http.StatusInternalServerError)
			}

			return
		}

		etag := strconv.Quote(p.ETag)
		w.Header().Set("ETag", etag)

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if _, err := io.WriteString(w, p.Content); err != nil {
			log.Debug("Cannot write page", slog.Any("error", err))
		}
	}
}

func NewExportHandler(srv ExportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ExportHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		category, err := entity.ParseCategory(r.PathValue("category"))
		if err != nil {
			http.Error(w, "Unknown export kind", http.StatusNotFound)

			return
		}

		records, err := srv.List(r.Context(), category)
		if err != nil {
			writeServiceError(w, log, err)

			return
		}

		if records == nil {
			records = []*entity.Record{}
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(records); err != nil {
			log.Error("Cannot encode records", slog.String("category", category.String()), slog.Any("error", err))
			http.Error(w, "Cannot encode records", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Content-Disposition", attachment(category.String()+".json"))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		if _, err := buf.WriteTo(w); err != nil {
			log.Debug("Cannot write records", slog.Any("error", err))
		}
	}
}

// NewBundleHandler serves the media archive. Errors are reported before the
// first byte is written.
func NewBundleHandler(srv ExportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "BundleHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		bundle, err := srv.Bundle(r.Context(), entity.CategoryVlogs)
		if err != nil {
			writeServiceError(w, log, err)

			return
		}
		defer bundle.Close()

		w.Header().Set("Content-Type", contentTypeZip)
		w.Header().Set("Content-Disposition", attachment(bundle.Name))
		w.Header().Set("Content-Length", strconv.FormatInt(bundle.Size, 10))
		w.Header().Set(headerExportID, bundle.ID)

		n, err := io.Copy(w, bundle)
		if err != nil {
			log.Warn("Bundle transfer interrupted", slog.String("export_id", bundle.ID),
				slog.Int64("sent", n), slog.Any("error", err))

			return
		}

		log.Info("Bundle sent", slog.String("export_id", bundle.ID), slog.Int64("bytes", n))
	}
}

func NewInsertHandler(srv IngestService, maxBodyBytes int64, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "InsertHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		category, err := entity.ParseCategory(r.PathValue("category"))
		if err != nil {
			http.Error(w, "Unknown category", http.StatusNotFound)

			return
		}

		var doc map[string]any
		if !readJSON(w, r, maxBodyBytes, &doc) {
			return
		}

		id, err := srv.Insert(r.Context(), category, doc)
		if err != nil {
			writeServiceError(w, log, err)

			return
		}

		writeJSON(w, log, http.StatusCreated, map[string]string{"id": id})
	}
}

func NewBatchHandler(srv IngestService, maxBodyBytes int64, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "BatchHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]map[string]any
		if !readJSON(w, r, maxBodyBytes, &body) {
			return
		}

		batch := make(map[entity.Category][]map[string]any, len(body))
		for key, docs := range body {
			category, err := entity.ParseCategory(key)
			if err != nil {
				http.Error(w, fmt.Sprintf("Unknown category %q", key), http.StatusBadRequest)

				return
			}
			batch[category] = docs
		}

		counts, err := srv.InsertBatch(r.Context(), batch)
		if err != nil {
			writeServiceError(w, log, err)

			return
		}

		out := make(map[string]int, len(counts))
		for category, n := range counts {
			out[category.String()] = n
		}

		writeJSON(w, log, http.StatusCreated, out)
	}
}

func NewCounterHandler(srv CounterService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "CounterHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		counters, err := srv.GetExportCounters(r.Context())
		if err != nil {
			http.Error(w, "Cannot get counters", http.StatusInternalServerError)

			return
		}

		writeJSON(w, log, http.StatusOK, counters)
	}
}

func NewHealthHandler(p Pinger, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "HealthHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			log.Warn("Record store is not reachable", slog.Any("error", err))
			writeJSON(w, log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})

			return
		}

		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, common.ErrUnknownCategory):
		http.Error(w, "Unknown category", http.StatusNotFound)
	case errors.Is(err, common.ErrBundleNotSupported):
		http.Error(w, "Bundle export is not supported", http.StatusNotFound)
	case errors.Is(err, common.ErrNoRecords):
		http.Error(w, "No records found", http.StatusNotFound)
	case errors.Is(err, common.ErrInvalidRecord):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrStoreUnavailable):
		http.Error(w, "Record store unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		log.Info("Request canceled", slog.Any("error", err))
	case errors.Is(err, common.ErrArchiveWrite):
		http.Error(w, "Cannot build archive", http.StatusInternalServerError)
	default:
		log.Error("Request failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, maxBodyBytes int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)

			return false
		}

		http.Error(w, "Invalid JSON body", http.StatusBadRequest)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Cannot write response", slog.Any("error", err))
	}
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
