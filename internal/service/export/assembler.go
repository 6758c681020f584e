package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/config"
	"github.com/jgivc/emogoexport/internal/entity"
)

const manifestName = "manifest.json"

// archiveEpoch is the earliest time a zip entry can carry. It is used for
// entries without a usable timestamp so repeated exports stay identical.
var archiveEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) entity.FetchOutcome
}

// Report is the outcome log of one bundle export.
type Report struct {
	ExportID string
	Entries  []entity.ManifestEntry
	Fetched  int
	Failed   int
	Skipped  int
	// MediaBytes is the total size of fetched media.
	MediaBytes int64
}

type fetchJob struct {
	index int
	url   string
	name  string
	mtime time.Time
}

type fetchResult struct {
	job     fetchJob
	outcome entity.FetchOutcome
}

type assembler struct {
	fetcher Fetcher
	cfg     *config.ExportConfig
	log     *slog.Logger
}

func NewAssembler(fetcher Fetcher, cfg *config.ExportConfig, log *slog.Logger) *assembler {
	return &assembler{
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With(slog.String("item", "Assembler")),
	}
}

// Assemble writes a zip archive with the fetched media of records and a
// manifest to w. Fetch failures are recorded in the manifest. Only archive
// write errors and cancellation of ctx are returned. No fetch is running when
// Assemble returns.
func (a *assembler) Assemble(ctx context.Context, records []*entity.Record, w io.Writer) (*Report, error) {
	report := &Report{
		Entries: make([]entity.ManifestEntry, len(records)),
	}

	names := make(nameSet, len(records))
	jobs := make([]fetchJob, 0, len(records))

	for i, rec := range records {
		report.Entries[i] = entity.ManifestEntry{
			Category:    rec.Category,
			ID:          rec.ID,
			Timestamp:   rec.Timestamp,
			UserID:      rec.UserID,
			MediaStatus: entity.MediaStatusSkipped,
		}

		ref, ok := rec.MediaReference()
		if !ok {
			report.Skipped++

			continue
		}

		ordinal := i + 1
		report.Entries[i].MediaStatus = entity.MediaStatusPending
		jobs = append(jobs, fetchJob{
			index: i,
			url:   ref,
			name:  names.claim(ResolveName(rec, ordinal), rec, ordinal),
			mtime: entryTime(rec),
		})
	}

	a.log.Debug("Start assembling", slog.Int("records", len(records)), slog.Int("media", len(jobs)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	zw := zip.NewWriter(w)

	var fatal error
	for res := range a.fetchAll(ctx, jobs) {
		if fatal != nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			fatal = fmt.Errorf("export interrupted: %w", err)
			cancel()

			continue
		}

		entry := &report.Entries[res.job.index]

		if !res.outcome.OK() {
			entry.MediaStatus = entity.MediaStatusFailed(res.outcome.Failure.Reason)
			report.Failed++
			a.log.Info("Media not fetched",
				slog.String("id", entry.ID),
				slog.String("url", res.job.url),
				slog.String("reason", string(res.outcome.Failure.Reason)),
			)

			continue
		}

		if err := writeEntry(zw, mediaDir+res.job.name, zip.Store, res.job.mtime, res.outcome.Body); err != nil {
			fatal = err
			cancel()

			continue
		}

		entry.MediaStatus = entity.MediaStatusFetched
		entry.File = mediaDir + res.job.name
		report.Fetched++
		report.MediaBytes += res.outcome.ContentLength
	}

	if fatal == nil {
		if err := ctx.Err(); err != nil {
			fatal = fmt.Errorf("export interrupted: %w", err)
		}
	}

	if fatal != nil {
		a.log.Error("Cannot assemble bundle", slog.Any("error", fatal))

		return nil, fatal
	}

	manifest, err := json.MarshalIndent(report.Entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode manifest: %w", common.ErrArchiveWrite, err)
	}

	if err := writeEntry(zw, manifestName, zip.Deflate, archiveEpoch, manifest); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: cannot close archive: %w", common.ErrArchiveWrite, err)
	}

	return report, nil
}

// fetchAll runs the jobs on a bounded pool. The returned channel is closed
// once every worker has exited.
func (a *assembler) fetchAll(ctx context.Context, jobs []fetchJob) <-chan fetchResult {
	out := make(chan fetchResult)

	workers := min(a.cfg.Concurrency, len(jobs))
	if workers < 1 {
		close(out)

		return out
	}

	in := make(chan fetchJob, len(jobs))
	for _, job := range jobs {
		in <- job
	}
	close(in)

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go a.worker(ctx, n, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (a *assembler) worker(ctx context.Context, n int, in <-chan fetchJob, out chan<- fetchResult, wg *sync.WaitGroup) {
	defer wg.Done()

	log := a.log.With(slog.Int("worker_id", n))

	for job := range in {
		if ctx.Err() != nil {
			log.Debug("Interrupted")

			return
		}

		res := fetchResult{
			job:     job,
			outcome: a.fetcher.Fetch(ctx, job.url, a.cfg.FetchTimeout),
		}

		select {
		case <-ctx.Done():
			log.Debug("Interrupted")

			return
		case out <- res:
		}
	}
}

func writeEntry(zw *zip.Writer, name string, method uint16, mtime time.Time, body []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: mtime,
	})
	if err != nil {
		return fmt.Errorf("%w: cannot create entry %s: %w", common.ErrArchiveWrite, name, err)
	}

	if _, err := fw.Write(body); err != nil {
		return fmt.Errorf("%w: cannot write entry %s: %w", common.ErrArchiveWrite, name, err)
	}

	return nil
}

func entryTime(rec *entity.Record) time.Time {
	t, ok := rec.Time()
	if !ok || t.Before(archiveEpoch) {
		return archiveEpoch
	}

	return t
}
