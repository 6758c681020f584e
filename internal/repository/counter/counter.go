package counter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyExportStats = "es" // HASH. {category}:{format} -> number of completed exports. HINCRBY es vlogs:zip 1
	KeyLastExport  = "le" // HASH. {category}:{format} -> unix time of the last export.

	KeySeparator = ":"
)

// ExportCounter is the number of completed exports of one category in one
// format.
type ExportCounter struct {
	Category entity.Category `json:"category"`
	Format   string          `json:"format"`
	Count    int64           `json:"count"`
	Last     *time.Time      `json:"last,omitempty"`
}

type counterRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

// NewCounterRepository returns a repository backed by cl. A nil client gives
// a repository that counts nothing.
func NewCounterRepository(cl *redis.Client, log *slog.Logger) *counterRepository {
	return &counterRepository{
		cl:  cl,
		log: log.With(slog.String("item", "CounterRepository")),
	}
}

func (r *counterRepository) IncExportCounter(ctx context.Context, category entity.Category, format string) (int64, error) {
	if r.cl == nil {
		return 0, nil
	}

	field := getKey(category.String(), format)

	pipe := r.cl.TxPipeline()
	incr := pipe.HIncrBy(ctx, KeyExportStats, field, 1)
	pipe.HSet(ctx, KeyLastExport, field, time.Now().Unix())

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cannot increment export %s counter: %w", field, err)
	}

	return incr.Val(), nil
}

// GetExportCounters returns a counter for every category and format, zero
// when nothing was exported yet.
func (r *counterRepository) GetExportCounters(ctx context.Context) ([]*ExportCounter, error) {
	counters := make([]*ExportCounter, 0, len(entity.Categories())*2)
	for _, category := range entity.Categories() {
		for _, format := range []string{entity.ExportFormatJSON, entity.ExportFormatZip} {
			if format == entity.ExportFormatZip && category != entity.CategoryVlogs {
				continue
			}
			counters = append(counters, &ExportCounter{Category: category, Format: format})
		}
	}

	if r.cl == nil {
		return counters, nil
	}

	pipe := r.cl.Pipeline()
	counts := make([]*redis.StringCmd, len(counters))
	lasts := make([]*redis.StringCmd, len(counters))
	for i, c := range counters {
		field := getKey(c.Category.String(), c.Format)
		counts[i] = pipe.HGet(ctx, KeyExportStats, field)
		lasts[i] = pipe.HGet(ctx, KeyLastExport, field)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("cannot exec pipe: %w", err)
	}

	for i, c := range counters {
		if val, err := counts[i].Result(); err == nil {
			c.Count, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				r.log.Error("Cannot convert counter value", slog.String("category", c.Category.String()), slog.Any("error", err))
			}
		}

		if val, err := lasts[i].Result(); err == nil {
			if ts, err := strconv.ParseInt(val, 10, 64); err == nil {
				t := time.Unix(ts, 0).UTC()
				c.Last = &t
			}
		}
	}

	return counters, nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
