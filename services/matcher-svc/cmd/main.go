// Package main is the entry point for matcher-svc.
//
// matcher-svc assigns passengers to drivers once per interval. Every interval
// it loads the trips of that interval, builds all feasible driver/passenger
// set matches, prices them and picks a non-overlapping assignment with one of
// the solvers (successive shortest paths or the greedy/local-search
// heuristics). The result is verified, stored in PostgreSQL when enabled and
// optionally exported to XLSX and PDF.
//
// # Configuration
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (prefix: RIDEMATCH_)
//  2. Config files (config.yaml, config/config.yaml, /etc/ridematch/config.yaml)
//  3. Default values from pkg/config/loader.go
//
// Key options:
//
//	RIDEMATCH_MATCHING_SOLVER      - ssp, greedy, ls2, ls2plus, ls2indexed (default: ssp)
//	RIDEMATCH_MATCHING_METHOD      - lattice, dp (default: lattice)
//	RIDEMATCH_MATCHING_SOURCE      - file, postgres (default: file)
//	RIDEMATCH_MATCHING_TRIPS_FILE  - YAML trips for the file source
//	RIDEMATCH_MATCHING_TABLES_FILE - YAML speed/surge/tip tables; uniform 20 mph when empty
//	RIDEMATCH_MATCHING_INTERVAL    - period between intervals (default: 1m)
//	RIDEMATCH_MATCHING_RUN_ONCE    - run interval 0 and exit
//	RIDEMATCH_ORACLE_METHOD        - greatcircle, manhattan, google
//	RIDEMATCH_ORACLE_RATE_LIMIT_ENABLED - keep Directions API calls inside the quota
//	RIDEMATCH_EXPORT_XLSX_PATH     - e.g. out/{run}/interval-{interval}.xlsx
//
// # Health Checks
//
// The gRPC health service reports NOT_SERVING until the first interval
// succeeds and after any failed interval. Intervals without trips leave the
// status unchanged.
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM cancel the running interval, stop the gRPC and metrics
// servers and flush pending spans.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ridematch/pkg/cache"
	"ridematch/pkg/config"
	"ridematch/pkg/database"
	"ridematch/pkg/logger"
	"ridematch/pkg/metrics"
	"ridematch/pkg/ratelimit"
	"ridematch/pkg/server"
	"ridematch/pkg/telemetry"
	"ridematch/services/matcher-svc/internal/engine"
	"ridematch/services/matcher-svc/internal/export"
	"ridematch/services/matcher-svc/internal/geo"
	"ridematch/services/matcher-svc/internal/repository"
	"ridematch/services/matcher-svc/internal/source"
	"ridematch/services/matcher-svc/internal/tables"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("matcher-svc", 50061)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Telemetry
	// =========================================================================
	tp, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Tracing, cfg.App.Version, cfg.App.Environment))
	if err != nil {
		logger.Log.Warn("Failed to init telemetry", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warn("Failed to shutdown telemetry", "error", err)
			}
		}()
	}

	// =========================================================================
	// Metrics
	// =========================================================================
	var mt *metrics.Metrics
	if cfg.Metrics.Enabled {
		mt = metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		mt.SetServiceInfo(cfg.App.Version, cfg.App.Environment)

		ms := metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(shutdownCtx) //nolint:errcheck // остановка при выходе
		}()
	}

	// =========================================================================
	// Distance cache and oracle
	// =========================================================================
	//
	// Расстояния между координатами не зависят от интервала, поэтому кэш
	// переживает интервалы; матрица слотов живёт один интервал.
	var distCache cache.Cache
	if cfg.Cache.Enabled {
		c, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Log.Warn("Failed to create cache, continuing without cache", "error", err)
		} else {
			distCache = c
			defer c.Close()
			logger.Log.Info("Distance cache initialized", "driver", cfg.Cache.Driver, "ttl", cfg.Cache.DefaultTTL)
		}
	}
	if distCache != nil && cfg.Cache.FlushOnStart {
		n, err := cache.NewDistanceCache(distCache, geo.MethodOrDefault(cfg.Oracle.Method), cfg.Cache.DefaultTTL).Invalidate(ctx)
		if err != nil {
			logger.Log.Warn("Failed to flush distance cache", "error", err)
		} else {
			logger.Log.Info("Distance cache flushed", "method", cfg.Oracle.Method, "deleted", n)
		}
	}
	if distCache != nil && mt != nil {
		prometheus.MustRegister(metrics.NewCacheCollector(cfg.Metrics.Namespace, "distance_cache", distCache))
	}

	var oracleOpts []geo.OracleOption
	if cfg.Oracle.RateLimit.Enabled {
		limiter, err := ratelimit.New(ratelimit.FromConfig(cfg.Oracle.RateLimit, cfg.Cache))
		if err != nil {
			logger.Fatal("failed to create oracle rate limiter", "error", err)
		}
		defer limiter.Close()
		oracleOpts = append(oracleOpts, geo.WithLimiter(limiter))
		logger.Log.Info("Oracle rate limit enabled",
			"requests", cfg.Oracle.RateLimit.Requests,
			"window", cfg.Oracle.RateLimit.Window,
			"backend", cfg.Oracle.RateLimit.Backend)
	}

	oracle, err := geo.NewOracle(cfg.Oracle, distCache, cfg.Cache.DefaultTTL, oracleOpts...)
	if err != nil {
		logger.Fatal("failed to create distance oracle", "error", err)
	}

	// =========================================================================
	// Database
	// =========================================================================
	var (
		db   *database.PostgresDB
		opts []engine.Option
	)
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := database.RunMigrations(ctx, db, repository.Migrations, repository.MigrationsDir); err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		}
		opts = append(opts, engine.WithRepository(repository.NewPostgresRunRepository(db)))
	}

	// nil интерфейс, а не типизированный nil, когда база выключена
	var sourceDB database.DB
	if db != nil {
		sourceDB = db
	}
	src, err := source.New(cfg.Matching, sourceDB)
	if err != nil {
		logger.Fatal("failed to create trip source", "error", err)
	}

	if cfg.Matching.TablesFile != "" {
		tb, err := tables.LoadFile(cfg.Matching.TablesFile)
		if err != nil {
			logger.Fatal("failed to load tables", "path", cfg.Matching.TablesFile, "error", err)
		}
		opts = append(opts, engine.WithTables(tb))
	}

	// =========================================================================
	// Health server and engine
	// =========================================================================
	srv := server.New(cfg)

	opts = append(opts,
		engine.WithHealth(srv),
		engine.WithExport(export.NewExcelGenerator(), cfg.Export.XLSXPath),
		engine.WithExport(export.NewPDFGenerator(), cfg.Export.PDFPath),
	)
	if mt != nil {
		opts = append(opts, engine.WithMetrics(mt))
	}

	runner, err := engine.New(cfg, src, oracle, opts...)
	if err != nil {
		logger.Fatal("failed to create engine", "error", err)
	}

	logger.Info("Starting matcher service",
		"port", cfg.GRPC.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
		"solver", cfg.Matching.Solver,
		"method", cfg.Matching.Method,
		"source", cfg.Matching.Source,
		"database", cfg.Database.Enabled,
	)

	srvCtx, cancelSrv := context.WithCancel(ctx)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(srvCtx) }()

	runErr := runner.Run(ctx)

	cancelSrv()
	if err := <-srvDone; err != nil {
		logger.Log.Error("gRPC server failed", "error", err)
	}
	switch {
	case errors.Is(runErr, repository.ErrNoTrips):
		logger.Info("No trips to match", "error", runErr)
	case runErr != nil:
		logger.Fatal("matching failed", "error", runErr)
	}
	logger.Info("Matcher service stopped")
}
