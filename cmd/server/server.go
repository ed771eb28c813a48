package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"threadwise/query-api/internal/config"
	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/crontab"
	"threadwise/query-api/internal/infrastructure/database"
	"threadwise/query-api/internal/infrastructure/database/repository/turnrepo"
	"threadwise/query-api/internal/infrastructure/database/transaction"
	"threadwise/query-api/internal/infrastructure/docstore"
	"threadwise/query-api/internal/infrastructure/logger"
	"threadwise/query-api/internal/infrastructure/observability"
	"threadwise/query-api/internal/infrastructure/reasoner"
	"threadwise/query-api/internal/infrastructure/search"

	_ "net/http/pprof"
)

// Application wires the turn service with its operational side-cars. The
// request transport mounts on top of Service; this binary runs the metrics,
// pprof and retention loops around it.
type Application struct {
	service *turn.Service
	crontab *crontab.Crontab
	cfg     *config.Config
}

func (application *Application) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", application.cfg.PprofPort), nil)
		if err != nil {
			cancel()
		}
		return err
	})
	eg.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", application.cfg.MetricsPort), mux)
		if err != nil {
			cancel()
		}
		return err
	})
	eg.Go(func() error {
		err := application.crontab.Run(ctx)
		if err != nil {
			cancel()
		}
		return err
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("configure logger")
	}

	otelShutdown, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("initialize observability")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown telemetry")
			}
		}()
	}

	db, err := database.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := database.Migration(db, "query_api."); err != nil {
		log.Fatal().Err(err).Msg("prepare schema")
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
	}

	txDB := transaction.NewDatabase(db)
	repo := turnrepo.NewTurnGormRepository(txDB)

	llm := reasoner.NewOpenAIReasoner(cfg)
	retriever := turn.NewRetriever(
		llm,
		docstore.NewClient(cfg),
		search.NewClient(cfg),
		turn.RetrieverConfig{
			Community:        cfg.Community,
			ThreadCollection: cfg.ThreadCollection,
			RecordCap:        cfg.PlanRecordCap,
			TopK:             cfg.SearchTopK,
		},
		log,
	)

	application := &Application{
		service: turn.NewService(
			repo,
			retriever,
			llm,
			turn.ServiceConfig{
				CacheWindow: cfg.CacheWindow,
				MaxAttempts: cfg.MaxAttempts,
			},
			log,
		),
		crontab: crontab.NewCrontab(repo),
		cfg:     cfg,
	}

	log.Info().
		Str("community", cfg.Community).
		Str("model", cfg.ReasonerModel).
		Msg("query-api starting")

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped")
	}
}
