package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jgivc/emogoexport/internal/adapter/fetcher"
	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/config"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu          sync.Mutex
	outcomes    map[string]entity.FetchOutcome
	delay       time.Duration
	block       chan struct{}
	calls       int
	inFlight    int
	maxInFlight int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) entity.FetchOutcome {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return entity.FetchFailed(entity.FailureNetworkError, ctx.Err())
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return entity.FetchFailed(entity.FailureNetworkError, ctx.Err())
		}
	}

	if o, exists := f.outcomes[url]; exists {
		return o
	}

	return entity.FetchFailed(entity.FailureHTTPStatus(http.StatusNotFound), nil)
}

func (f *fakeFetcher) stats() (calls, inFlight, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls, f.inFlight, f.maxInFlight
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

type archive struct {
	names    []string
	files    map[string][]byte
	modified map[string]time.Time
	manifest []entity.ManifestEntry
	raw      []byte
}

func readArchive(t *testing.T, data []byte) *archive {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	a := &archive{
		files:    make(map[string][]byte),
		modified: make(map[string]time.Time),
	}

	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		a.names = append(a.names, f.Name)
		a.files[f.Name] = content
		a.modified[f.Name] = f.Modified
	}

	a.raw = a.files[manifestName]
	require.NotNil(t, a.raw, "manifest must be present")
	require.NoError(t, json.Unmarshal(a.raw, &a.manifest))

	return a
}

func newTestAssembler(f Fetcher, concurrency int) *assembler {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewAssembler(f, &config.ExportConfig{
		Concurrency:  concurrency,
		FetchTimeout: 5 * time.Second,
	}, log)
}

func TestAssembleSingleClip(t *testing.T) {
	body := []byte("0123456789ab")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clips/x.mp4" {
			http.NotFound(w, r)

			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	f := fetcher.NewFetcher(fetcher.Config{MaxRedirects: 5}, log)

	rec := vlog("a1", srv.URL+"/clips/x.mp4", "2024-01-01T00:00:00Z")

	var buf bytes.Buffer
	report, err := newTestAssembler(f, 4).Assemble(context.Background(), []*entity.Record{rec}, &buf)
	require.NoError(t, err)

	a := readArchive(t, buf.Bytes())
	require.Len(t, a.manifest, 1)
	require.Equal(t, entity.MediaStatusFetched, a.manifest[0].MediaStatus)
	require.Equal(t, "a1", a.manifest[0].ID)
	require.Equal(t, entity.CategoryVlogs, a.manifest[0].Category)
	require.Equal(t, "2024-01-01T00:00:00Z", a.manifest[0].Timestamp)
	require.Equal(t, "media/x_2024-01-01T00-00-00.mp4", a.manifest[0].File)

	require.Equal(t, body, a.files["media/x_2024-01-01T00-00-00.mp4"])
	require.Len(t, a.files["media/x_2024-01-01T00-00-00.mp4"], 12)
	require.True(t, a.modified["media/x_2024-01-01T00-00-00.mp4"].Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 0, report.Failed)
	require.EqualValues(t, 12, report.MediaBytes)
}

func TestAssembleMixedOutcomes(t *testing.T) {
	f := &fakeFetcher{
		outcomes: map[string]entity.FetchOutcome{
			"https://e.com/ok1.mp4":  entity.FetchSucceeded([]byte("one"), "video/mp4"),
			"https://e.com/ok2.mp4":  entity.FetchSucceeded([]byte("two"), "video/mp4"),
			"https://e.com/500.mp4":  entity.FetchFailed(entity.FailureHTTPStatus(500), nil),
			"https://e.com/slow.mp4": entity.FetchFailed(entity.FailureTimeout, nil),
		},
	}

	records := []*entity.Record{
		vlog("r1", "https://e.com/ok1.mp4", "2024-01-01T00:00:00Z"),
		vlog("r2", "", "2024-01-01T00:00:01Z"),
		vlog("r3", "https://e.com/500.mp4", "2024-01-01T00:00:02Z"),
		vlog("r4", "   ", "2024-01-01T00:00:03Z"),
		vlog("r5", "https://e.com/ok2.mp4", ""),
		vlog("r6", "https://e.com/slow.mp4", "2024-01-01T00:00:05Z"),
	}
	records[0].UserID = "u1"

	var buf bytes.Buffer
	report, err := newTestAssembler(f, 3).Assemble(context.Background(), records, &buf)
	require.NoError(t, err)

	a := readArchive(t, buf.Bytes())
	require.Len(t, a.manifest, len(records))

	expected := []struct {
		id     string
		status entity.MediaStatus
	}{
		{"r1", entity.MediaStatusFetched},
		{"r2", entity.MediaStatusSkipped},
		{"r3", "failed:http_status:500"},
		{"r4", entity.MediaStatusSkipped},
		{"r5", entity.MediaStatusFetched},
		{"r6", "failed:timeout"},
	}
	for i, e := range expected {
		require.Equal(t, e.id, a.manifest[i].ID, "manifest keeps input order")
		require.Equal(t, e.status, a.manifest[i].MediaStatus, e.id)
	}
	require.Equal(t, "u1", a.manifest[0].UserID)

	// Manifest plus the two fetched clips.
	require.Len(t, a.names, 3)
	require.Equal(t, manifestName, a.names[len(a.names)-1])
	require.Equal(t, []byte("one"), a.files["media/ok1_2024-01-01T00-00-00.mp4"])
	require.Equal(t, []byte("two"), a.files["media/ok2_5.mp4"])

	require.Equal(t, 2, report.Fetched)
	require.Equal(t, 2, report.Failed)
	require.Equal(t, 2, report.Skipped)
	require.EqualValues(t, 6, report.MediaBytes)

	calls, _, _ := f.stats()
	require.Equal(t, 4, calls, "one attempt per reference")
}

func TestAssembleAllFailed(t *testing.T) {
	f := &fakeFetcher{}

	records := make([]*entity.Record, 0, 5)
	for i := 0; i < 5; i++ {
		records = append(records, vlog(fmt.Sprintf("r%d", i), fmt.Sprintf("https://e.com/%d.mp4", i), ""))
	}

	var buf bytes.Buffer
	report, err := newTestAssembler(f, 2).Assemble(context.Background(), records, &buf)
	require.NoError(t, err)

	a := readArchive(t, buf.Bytes())
	require.Equal(t, []string{manifestName}, a.names)
	for _, e := range a.manifest {
		require.Equal(t, entity.MediaStatus("failed:http_status:404"), e.MediaStatus)
		require.Empty(t, e.File)
	}
	require.Equal(t, 5, report.Failed)
}

func TestAssembleNoMedia(t *testing.T) {
	f := &fakeFetcher{}

	testCases := []struct {
		name    string
		records []*entity.Record
	}{
		{name: "no records"},
		{
			name: "no references",
			records: []*entity.Record{
				vlog("r1", "", "2024-01-01T00:00:00Z"),
				vlog("r2", " ", ""),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			report, err := newTestAssembler(f, 4).Assemble(context.Background(), tc.records, &buf)
			require.NoError(t, err)

			a := readArchive(t, buf.Bytes())
			require.Equal(t, []string{manifestName}, a.names)
			require.Len(t, a.manifest, len(tc.records))
			require.Equal(t, len(tc.records), report.Skipped)
		})
	}

	calls, _, _ := f.stats()
	require.Zero(t, calls)
}

func TestAssembleIdempotent(t *testing.T) {
	f := &fakeFetcher{
		delay: time.Millisecond,
		outcomes: map[string]entity.FetchOutcome{
			"https://e.com/a.mp4": entity.FetchSucceeded([]byte("aaaa"), "video/mp4"),
			"https://e.com/b.mp4": entity.FetchSucceeded([]byte("bbbb"), "video/mp4"),
		},
	}

	records := []*entity.Record{
		vlog("r1", "https://e.com/a.mp4", "2024-01-01T00:00:00Z"),
		vlog("r2", "https://e.com/b.mp4", "2024-01-01T00:00:00Z"),
		vlog("r3", "https://e.com/a.mp4", "2024-01-01T00:00:00Z"),
		vlog("r4", "https://e.com/gone.mp4", "2024-01-01T00:00:00Z"),
	}

	run := func() *archive {
		var buf bytes.Buffer
		_, err := newTestAssembler(f, 4).Assemble(context.Background(), records, &buf)
		require.NoError(t, err)

		return readArchive(t, buf.Bytes())
	}

	first, second := run(), run()

	require.Equal(t, first.raw, second.raw)
	require.Equal(t, first.modified[manifestName], second.modified[manifestName])
	require.Equal(t, first.files, second.files)
}

func TestAssembleBoundedConcurrency(t *testing.T) {
	f := &fakeFetcher{delay: 20 * time.Millisecond}

	records := make([]*entity.Record, 0, 12)
	for i := 0; i < 12; i++ {
		records = append(records, vlog(fmt.Sprintf("r%d", i), fmt.Sprintf("https://e.com/%d.mp4", i), ""))
	}

	_, err := newTestAssembler(f, 3).Assemble(context.Background(), records, io.Discard)
	require.NoError(t, err)

	calls, inFlight, maxInFlight := f.stats()
	require.Equal(t, 12, calls)
	require.Zero(t, inFlight)
	require.LessOrEqual(t, maxInFlight, 3)
}

func TestAssembleWriteFailure(t *testing.T) {
	clip := bytes.Repeat([]byte{1}, 64<<10)
	f := &fakeFetcher{
		delay:    5 * time.Millisecond,
		outcomes: make(map[string]entity.FetchOutcome),
	}

	records := make([]*entity.Record, 0, 20)
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://e.com/%d.mp4", i)
		f.outcomes[url] = entity.FetchSucceeded(clip, "video/mp4")
		records = append(records, vlog(fmt.Sprintf("r%d", i), url, ""))
	}

	report, err := newTestAssembler(f, 2).Assemble(context.Background(), records, failingWriter{})
	require.ErrorIs(t, err, common.ErrArchiveWrite)
	require.Nil(t, report)

	_, inFlight, _ := f.stats()
	require.Zero(t, inFlight, "no fetch may outlive the export")
}

func TestAssembleCanceled(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}

	records := make([]*entity.Record, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, vlog(fmt.Sprintf("r%d", i), fmt.Sprintf("https://e.com/%d.mp4", i), ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := newTestAssembler(f, 4).Assemble(ctx, records, io.Discard)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("assemble did not stop after cancel")
	}

	calls, inFlight, _ := f.stats()
	require.Zero(t, inFlight)
	require.LessOrEqual(t, calls, 4)
}
