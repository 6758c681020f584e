package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jgivc/emogoexport/internal/adapter/fetcher"
	"github.com/jgivc/emogoexport/internal/adapter/fsadapter"
	"github.com/jgivc/emogoexport/internal/adapter/mdadapter"
	"github.com/jgivc/emogoexport/internal/adapter/natsadapter"
	"github.com/jgivc/emogoexport/internal/adapter/recordadapter"
	"github.com/jgivc/emogoexport/internal/config"
	httphandler "github.com/jgivc/emogoexport/internal/handler/http"
	"github.com/jgivc/emogoexport/internal/repository/counter"
	"github.com/jgivc/emogoexport/internal/repository/record"
	srvcounter "github.com/jgivc/emogoexport/internal/service/counter"
	"github.com/jgivc/emogoexport/internal/service/export"
	"github.com/jgivc/emogoexport/internal/service/ingest"
	"github.com/jgivc/emogoexport/internal/service/page"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	stopTimeout       = 5 * time.Second
	statTimeout       = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	mongo   *mongo.Client
	rdb     *redis.Client
	events  interface{ Close() }
	stat    httphandler.CounterService
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Mongo.Timeout)
	defer cancel()

	mcl, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Mongo.URI))
	if err != nil {
		panic(err)
	}
	a.mongo = mcl

	// The store may come up later. Requests report 503 until it does.
	if err := mcl.Ping(ctx, nil); err != nil {
		log.Warn("Record store is not reachable", slog.String("uri", a.cfg.Mongo.URI), slog.Any("error", err))
	}

	if a.cfg.RedisURL != "" {
		opt, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			panic(err)
		}

		a.rdb = redis.NewClient(opt)
		if _, err := a.rdb.Ping(ctx).Result(); err != nil {
			panic(err)
		}
	}

	publisher, err := natsadapter.NewPublisher(a.cfg.NATSURL, log)
	if err != nil {
		panic(err)
	}
	a.events = publisher

	spool, err := fsadapter.NewSpoolAdapter(a.cfg.ExportConfig.SpoolDir, log)
	if err != nil {
		panic(err)
	}

	renderer, err := mdadapter.NewPageRenderer()
	if err != nil {
		panic(err)
	}

	recAdapter := recordadapter.NewRecordAdapter(validator.New())
	recRepo := record.NewRecordRepository(mcl.Database(a.cfg.Mongo.Database), recAdapter, a.cfg.Mongo.Timeout, log)
	cntRepo := counter.NewCounterRepository(a.rdb, log)

	f := fetcher.NewFetcher(fetcher.Config{
		MaxRedirects: a.cfg.ExportConfig.MaxRedirects,
		UserAgent:    a.cfg.ExportConfig.UserAgent,
	}, log)
	assembler := export.NewAssembler(f, &a.cfg.ExportConfig, log)

	exportSrv := export.NewExportService(recRepo, assembler, spool, cntRepo, publisher, &a.cfg.ExportConfig, log)
	ingestSrv := ingest.NewIngestService(recRepo, recAdapter, publisher, log)
	counterSrv := srvcounter.NewCounterService(cntRepo, log)
	a.stat = counterSrv

	pageSrv, err := page.NewPageService(recRepo, renderer, a.cfg.PageConfig.CacheTTL, log)
	if err != nil {
		panic(err)
	}

	maxBody := a.cfg.HandlerConfig.MaxBodyBytes

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", httphandler.NewRootHandler(log))
	mux.Handle("GET /export/{$}", httphandler.NewPageHandler(pageSrv, log))
	mux.Handle("GET /export/{category}", httphandler.NewExportHandler(exportSrv, log))
	mux.Handle("GET /export/vlogs/zip", httphandler.NewBundleHandler(exportSrv, log))
	mux.Handle("POST /api/batch", httphandler.NewBatchHandler(ingestSrv, maxBody, log))
	mux.Handle("POST /api/{category}", httphandler.NewInsertHandler(ingestSrv, maxBody, log))
	mux.Handle("GET /stat/{$}", httphandler.NewCounterHandler(counterSrv, log))
	mux.Handle("GET /health/{$}", httphandler.NewHealthHandler(recRepo, log))
	mux.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

// Stat prints the export counters to stdout.
func (a *App) Stat() {
	ctx, cancel := context.WithTimeout(context.Background(), statTimeout)
	defer cancel()

	counters, err := a.stat.GetExportCounters(ctx)
	if err != nil {
		fmt.Printf("Cannot get export counters: %s\n", err)

		return
	}

	for i, c := range counters {
		fmt.Printf("%d. %s/%s: %d\n", i+1, c.Category, c.Format, c.Count)
	}
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Error("Cannot shutdown server", slog.Any("error", err))
		}
	}

	if a.events != nil {
		a.events.Close()
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("Cannot close redis client", slog.Any("error", err))
		}
	}

	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.log.Error("Cannot disconnect from record store", slog.Any("error", err))
		}
	}
}
