package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/metrics"
)

const (
	serviceName = "ingest"

	subjectPrefix = "records."
	subjectSuffix = ".created"
)

type RecordRepository interface {
	InsertOne(ctx context.Context, category entity.Category, rec *entity.Record) (string, error)
	InsertMany(ctx context.Context, category entity.Category, recs []*entity.Record) ([]string, error)
}

type RecordAdapter interface {
	ToRecord(category entity.Category, doc map[string]any) (*entity.Record, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

type ingestService struct {
	repo    RecordRepository
	adapter RecordAdapter
	events  EventPublisher
	now     func() time.Time
	log     *slog.Logger
}

func NewIngestService(repo RecordRepository, adapter RecordAdapter, events EventPublisher, log *slog.Logger) *ingestService {
	return &ingestService{
		repo:    repo,
		adapter: adapter,
		events:  events,
		now:     time.Now,
		log:     log.With(slog.String("service", serviceName)),
	}
}

func (s *ingestService) Insert(ctx context.Context, category entity.Category, doc map[string]any) (string, error) {
	rec, err := s.adapter.ToRecord(category, doc)
	if err != nil {
		return "", fmt.Errorf("cannot read %s record: %w", category, err)
	}

	id, err := s.repo.InsertOne(ctx, category, rec)
	if err != nil {
		s.log.Error("Cannot insert record", slog.String("category", category.String()), slog.Any("error", err))

		return "", fmt.Errorf("cannot insert %s record: %w", category, err)
	}

	s.created(ctx, category, []string{id})

	return id, nil
}

// InsertBatch normalizes every document of the batch before writing any of
// them, so an invalid document leaves the store untouched. Categories are
// written in a stable order.
func (s *ingestService) InsertBatch(ctx context.Context, batch map[entity.Category][]map[string]any) (map[entity.Category]int, error) {
	records := make(map[entity.Category][]*entity.Record, len(batch))
	for _, category := range entity.Categories() {
		docs, exists := batch[category]
		if !exists {
			continue
		}

		recs := make([]*entity.Record, 0, len(docs))
		for i, doc := range docs {
			rec, err := s.adapter.ToRecord(category, doc)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s record %d: %w", category, i, err)
			}
			recs = append(recs, rec)
		}
		records[category] = recs
	}

	counts := make(map[entity.Category]int, len(records))
	for _, category := range entity.Categories() {
		recs, exists := records[category]
		if !exists {
			continue
		}

		ids, err := s.repo.InsertMany(ctx, category, recs)
		if err != nil {
			s.log.Error("Cannot insert records", slog.String("category", category.String()), slog.Any("error", err))

			return nil, fmt.Errorf("cannot insert %s records: %w", category, err)
		}

		counts[category] = len(ids)
		if len(ids) > 0 {
			s.created(ctx, category, ids)
		}
	}

	return counts, nil
}

func (s *ingestService) created(ctx context.Context, category entity.Category, ids []string) {
	metrics.RecordsInserted.WithLabelValues(category.String()).Add(float64(len(ids)))

	err := s.events.Publish(ctx, subjectPrefix+category.String()+subjectSuffix, &entity.RecordsCreated{
		Category: category,
		IDs:      ids,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("Cannot publish records event", slog.String("category", category.String()), slog.Any("error", err))
	}
}
