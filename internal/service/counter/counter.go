package counter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jgivc/emogoexport/internal/repository/counter"
)

const (
	serviceName = "counter"
)

type CounterRepository interface {
	GetExportCounters(ctx context.Context) ([]*counter.ExportCounter, error)
}

type counterService struct {
	repo CounterRepository
	log  *slog.Logger
}

func NewCounterService(repo CounterRepository, log *slog.Logger) *counterService {
	return &counterService{
		repo: repo,
		log:  log.With(slog.String("service", serviceName)),
	}
}

func (c *counterService) GetExportCounters(ctx context.Context) ([]*counter.ExportCounter, error) {
	counters, err := c.repo.GetExportCounters(ctx)
	if err != nil {
		c.log.Error("Cannot get export counters", slog.Any("error", err))

		return nil, fmt.Errorf("cannot get export counters: %w", err)
	}

	return counters, nil
}
