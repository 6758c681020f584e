package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jgivc/emogoexport/internal/adapter/fsadapter"
	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/config"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/metrics"
)

const (
	serviceName = "export"

	subjectExportCompleted = "exports.completed"

	statusOK    = "ok"
	statusError = "error"
)

type RecordRepository interface {
	ListAll(ctx context.Context, category entity.Category) ([]*entity.Record, error)
}

type CounterRepository interface {
	IncExportCounter(ctx context.Context, category entity.Category, format string) (int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

type Spool interface {
	Create() (*fsadapter.SpoolFile, error)
}

type Assembler interface {
	Assemble(ctx context.Context, records []*entity.Record, w io.Writer) (*Report, error)
}

// Bundle is a finished archive ready to be sent. Closing it releases the
// spooled data.
type Bundle struct {
	ID     string
	Name   string
	Size   int64
	Report *Report
	io.ReadCloser
}

type exportService struct {
	repo      RecordRepository
	assembler Assembler
	spool     Spool
	counters  CounterRepository
	events    EventPublisher
	cfg       *config.ExportConfig
	now       func() time.Time
	log       *slog.Logger
}

func NewExportService(repo RecordRepository, assembler Assembler, spool Spool, counters CounterRepository,
	events EventPublisher, cfg *config.ExportConfig, log *slog.Logger) *exportService {
	return &exportService{
		repo:      repo,
		assembler: assembler,
		spool:     spool,
		counters:  counters,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With(slog.String("service", serviceName)),
	}
}

func (s *exportService) List(ctx context.Context, category entity.Category) ([]*entity.Record, error) {
	records, err := s.repo.ListAll(ctx, category)
	if err != nil {
		s.log.Error("Cannot list records", slog.String("category", category.String()), slog.Any("error", err))

		return nil, fmt.Errorf("cannot list %s: %w", category, err)
	}

	metrics.RecordsServed.WithLabelValues(category.String()).Add(float64(len(records)))

	s.completed(ctx, &entity.ExportCompleted{
		ID:       uuid.NewString(),
		Category: category,
		Format:   entity.ExportFormatJSON,
		Records:  len(records),
		At:       s.now().UTC(),
	})

	return records, nil
}

// Bundle builds the media archive of category. The whole archive is produced
// before Bundle returns, so callers never send a partial response.
func (s *exportService) Bundle(ctx context.Context, category entity.Category) (*Bundle, error) {
	if category != entity.CategoryVlogs {
		return nil, fmt.Errorf("%w: %s", common.ErrBundleNotSupported, category)
	}

	log := s.log.With(slog.String("category", category.String()))

	records, err := s.repo.ListAll(ctx, category)
	if err != nil {
		log.Error("Cannot list records", slog.Any("error", err))
		metrics.BundlesBuilt.WithLabelValues(category.String(), statusError).Inc()

		return nil, fmt.Errorf("cannot list %s: %w", category, err)
	}

	if len(records) == 0 && s.cfg.EmptyBundleNotFound {
		return nil, fmt.Errorf("%w: %s", common.ErrNoRecords, category)
	}

	id := uuid.NewString()
	log = log.With(slog.String("export_id", id))

	bundle, err := s.assemble(ctx, id, records)
	if err != nil {
		log.Error("Cannot build bundle", slog.Any("error", err))
		metrics.BundlesBuilt.WithLabelValues(category.String(), statusError).Inc()

		return nil, err
	}

	metrics.BundlesBuilt.WithLabelValues(category.String(), statusOK).Inc()
	metrics.BundleBytes.Observe(float64(bundle.Size))

	log.Info("Bundle built",
		slog.Int("records", len(records)),
		slog.Int("fetched", bundle.Report.Fetched),
		slog.Int("failed", bundle.Report.Failed),
		slog.Int("skipped", bundle.Report.Skipped),
		slog.String("size", humanize.Bytes(uint64(bundle.Size))),
	)

	s.completed(ctx, &entity.ExportCompleted{
		ID:       id,
		Category: category,
		Format:   entity.ExportFormatZip,
		Records:  len(records),
		Fetched:  bundle.Report.Fetched,
		Failed:   bundle.Report.Failed,
		Skipped:  bundle.Report.Skipped,
		Size:     bundle.Size,
		At:       s.now().UTC(),
	})

	return bundle, nil
}

func (s *exportService) assemble(ctx context.Context, id string, records []*entity.Record) (*Bundle, error) {
	f, err := s.spool.Create()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrArchiveWrite, err)
	}

	report, err := s.assembler.Assemble(ctx, records, f)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("cannot assemble bundle: %w", err)
	}

	size, err := f.Rewind()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%w: %w", common.ErrArchiveWrite, err)
	}

	report.ExportID = id

	return &Bundle{
		ID:         id,
		Name:       fmt.Sprintf("%s_media.zip", entity.CategoryVlogs),
		Size:       size,
		Report:     report,
		ReadCloser: f,
	}, nil
}

// completed updates counters and publishes the event. Failures are only
// logged.
func (s *exportService) completed(ctx context.Context, ev *entity.ExportCompleted) {
	log := s.log.With(slog.String("export_id", ev.ID))

	if _, err := s.counters.IncExportCounter(ctx, ev.Category, ev.Format); err != nil {
		log.Warn("Cannot increment export counter", slog.Any("error", err))
	}

	if err := s.events.Publish(ctx, subjectExportCompleted, ev); err != nil {
		log.Warn("Cannot publish export event", slog.Any("error", err))
	}
}
