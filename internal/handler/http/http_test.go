package httphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/repository/counter"
	"github.com/jgivc/emogoexport/internal/service/export"
	"github.com/jgivc/emogoexport/internal/service/page"
	"github.com/stretchr/testify/require"
)

const testMaxBody = 1 << 10

type fakePageService struct {
	page *page.Page
	err  error
}

func (s *fakePageService) GetIndexPage(ctx context.Context) (*page.Page, error) {
	return s.page, s.err
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true

	return nil
}

type fakeExportService struct {
	records map[entity.Category][]*entity.Record
	archive []byte
	body    *closeRecorder
	err     error
}

func (s *fakeExportService) List(ctx context.Context, category entity.Category) ([]*entity.Record, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.records[category], nil
}

func (s *fakeExportService) Bundle(ctx context.Context, category entity.Category) (*export.Bundle, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.body = &closeRecorder{Reader: bytes.NewReader(s.archive)}

	return &export.Bundle{
		ID:         "0b7f4b3e-export",
		Name:       category.String() + "_media.zip",
		Size:       int64(len(s.archive)),
		Report:     &export.Report{},
		ReadCloser: s.body,
	}, nil
}

type fakeIngestService struct {
	docs  map[entity.Category][]map[string]any
	batch map[entity.Category][]map[string]any
	err   error
}

func (s *fakeIngestService) Insert(ctx context.Context, category entity.Category, doc map[string]any) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	if s.docs == nil {
		s.docs = make(map[entity.Category][]map[string]any)
	}
	s.docs[category] = append(s.docs[category], doc)

	return "665f1c2ab4d2", nil
}

func (s *fakeIngestService) InsertBatch(ctx context.Context, batch map[entity.Category][]map[string]any) (map[entity.Category]int, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.batch = batch
	counts := make(map[entity.Category]int, len(batch))
	for category, docs := range batch {
		counts[category] = len(docs)
	}

	return counts, nil
}

type fakeCounterService struct {
	counters []*counter.ExportCounter
}

func (s *fakeCounterService) GetExportCounters(ctx context.Context) ([]*counter.ExportCounter, error) {
	return s.counters, nil
}

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	return p.err
}

type testServer struct {
	pages    *fakePageService
	exports  *fakeExportService
	ingest   *fakeIngestService
	counters *fakeCounterService
	pinger   *fakePinger
	mux      *http.ServeMux
}

func newTestServer() *testServer {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	ts := &testServer{
		pages:    &fakePageService{page: &page.Page{Content: "<html>exports</html>", ETag: "abc"}},
		exports:  &fakeExportService{records: make(map[entity.Category][]*entity.Record)},
		ingest:   &fakeIngestService{},
		counters: &fakeCounterService{},
		pinger:   &fakePinger{},
		mux:      http.NewServeMux(),
	}

	ts.mux.Handle("GET /{$}", NewRootHandler(log))
	ts.mux.Handle("GET /export/{$}", NewPageHandler(ts.pages, log))
	ts.mux.Handle("GET /export/{category}", NewExportHandler(ts.exports, log))
	ts.mux.Handle("GET /export/vlogs/zip", NewBundleHandler(ts.exports, log))
	ts.mux.Handle("POST /api/batch", NewBatchHandler(ts.ingest, testMaxBody, log))
	ts.mux.Handle("POST /api/{category}", NewInsertHandler(ts.ingest, testMaxBody, log))
	ts.mux.Handle("GET /stat/{$}", NewCounterHandler(ts.counters, log))
	ts.mux.Handle("GET /health/{$}", NewHealthHandler(ts.pinger, log))

	return ts
}

func (ts *testServer) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	return rec
}

func TestRoot(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"EmoGo backend is running"}`, rec.Body.String())
}

func TestPage(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/export/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, contentTypeHTML, rec.Header().Get("Content-Type"))
	require.Equal(t, `"abc"`, rec.Header().Get("ETag"))
	require.Equal(t, "<html>exports</html>", rec.Body.String())

	rec = ts.do(http.MethodGet, "/export/", "", "If-None-Match", `"abc"`)
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.String())

	ts.pages.err = fmt.Errorf("cannot count: %w", common.ErrStoreUnavailable)
	rec = ts.do(http.MethodGet, "/export/", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExport(t *testing.T) {
	ts := newTestServer()
	ts.exports.records[entity.CategoryGPS] = []*entity.Record{
		{ID: "g1", Category: entity.CategoryGPS, Timestamp: "2024-01-01T00:00:00Z", GPS: &entity.GPSPayload{}},
	}

	rec := ts.do(http.MethodGet, "/export/gps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="gps.json"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))

	var records []*entity.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "g1", records[0].ID)

	rec = ts.do(http.MethodGet, "/export/vlogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]\n", rec.Body.String())
}

func TestExportErrors(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{name: "unknown kind", target: "/export/photos", status: http.StatusNotFound},
		{name: "store down", target: "/export/vlogs", err: fmt.Errorf("find: %w", common.ErrStoreUnavailable), status: http.StatusServiceUnavailable},
		{name: "unexpected", target: "/export/vlogs", err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
		{name: "bundle store down", target: "/export/vlogs/zip", err: fmt.Errorf("find: %w", common.ErrStoreUnavailable), status: http.StatusServiceUnavailable},
		{name: "bundle empty", target: "/export/vlogs/zip", err: common.ErrNoRecords, status: http.StatusNotFound},
		{name: "bundle archive", target: "/export/vlogs/zip", err: fmt.Errorf("write: %w", common.ErrArchiveWrite), status: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer()
			ts.exports.err = tc.err

			rec := ts.do(http.MethodGet, tc.target, "")
			require.Equal(t, tc.status, rec.Code)
			require.NotEqual(t, contentTypeZip, rec.Header().Get("Content-Type"))
		})
	}
}

func TestBundle(t *testing.T) {
	ts := newTestServer()
	ts.exports.archive = []byte("PK\x03\x04 not really a zip")

	rec := ts.do(http.MethodGet, "/export/vlogs/zip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, contentTypeZip, rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="vlogs_media.zip"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, fmt.Sprint(len(ts.exports.archive)), rec.Header().Get("Content-Length"))
	require.Equal(t, "0b7f4b3e-export", rec.Header().Get(headerExportID))
	require.Equal(t, ts.exports.archive, rec.Body.Bytes())
	require.True(t, ts.exports.body.closed)
}

func TestInsert(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		body   string
		err    error
		status int
	}{
		{name: "created", target: "/api/vlogs", body: `{"url":"https://example.com/a.mp4"}`, status: http.StatusCreated},
		{name: "unknown category", target: "/api/photos", body: `{}`, status: http.StatusNotFound},
		{name: "invalid json", target: "/api/vlogs", body: `{"url":`, status: http.StatusBadRequest},
		{name: "not an object", target: "/api/vlogs", body: `[1,2]`, status: http.StatusBadRequest},
		{name: "too large", target: "/api/vlogs", body: `{"text":"` + strings.Repeat("x", testMaxBody) + `"}`, status: http.StatusRequestEntityTooLarge},
		{name: "invalid record", target: "/api/gps", body: `{"lat":100,"lon":0}`, err: fmt.Errorf("%w: coordinates", common.ErrInvalidRecord), status: http.StatusBadRequest},
		{name: "store down", target: "/api/gps", body: `{}`, err: fmt.Errorf("insert: %w", common.ErrStoreUnavailable), status: http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer()
			ts.ingest.err = tc.err

			rec := ts.do(http.MethodPost, tc.target, tc.body)
			require.Equal(t, tc.status, rec.Code)

			if tc.status == http.StatusCreated {
				require.JSONEq(t, `{"id":"665f1c2ab4d2"}`, rec.Body.String())
				require.Len(t, ts.ingest.docs[entity.CategoryVlogs], 1)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/batch", `{"vlogs":[{"url":"https://example.com/a.mp4"}],"gps":[{"lat":1,"lon":2},{"lat":3,"lon":4}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"vlogs":1,"gps":2}`, rec.Body.String())
	require.Len(t, ts.ingest.batch, 2)

	rec = ts.do(http.MethodPost, "/api/batch", `{"photos":[{}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"photos"`)
}

func TestCounters(t *testing.T) {
	ts := newTestServer()
	ts.counters.counters = []*counter.ExportCounter{
		{Category: entity.CategoryVlogs, Format: entity.ExportFormatZip, Count: 2},
	}

	rec := ts.do(http.MethodGet, "/stat/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"category":"vlogs","format":"zip","count":2}]`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/health/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.pinger.err = common.ErrStoreUnavailable
	rec = ts.do(http.MethodGet, "/health/", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}
