package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/checkpoint"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/config"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/extract"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/metrics"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/syncer"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/warehouse"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/warehouse/bq"
	"github.com/Learntotolearn/gcp-dataflow/utils/pkg/logger"
	"github.com/Learntotolearn/gcp-dataflow/utils/pkg/retry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fullFlag := flag.Bool("full", false, "force full sync for all tables in this run")
	paramsFlag := flag.String("params", "params.json", "path to the JSON configuration file")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFileFlag := flag.String("log-file", "sync_incremental.log", "mirror logs to this file (empty to disable)")
	metricsAddrFlag := flag.String("metrics-addr", "", "serve /metrics and /healthz on this address while the run is in flight (empty to disable)")
	flag.Parse()

	// A .env in the working directory can carry the connection secrets.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag, *logFileFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	cfg, err := config.Load(*paramsFlag)
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		"tenants", len(cfg.Tenants),
		"tables", len(cfg.Tables),
		"pool_size", cfg.PoolSize,
		"lookback_minutes", cfg.LookbackMinutes,
		"batch_size", cfg.BatchSize,
		"status_dir", cfg.StatusDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("ok\n")); err != nil {
				log.Error("failed to write healthz response", "error", err)
			}
		}))
		srv := &http.Server{
			Addr:              *metricsAddrFlag,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer srv.Close()
		log.Info("metrics listening", "address", *metricsAddrFlag)
	}

	pool, err := source.NewPool(ctx, source.PoolConfig{
		Logger:   log,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		PoolSize: cfg.PoolSize,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	bqClient, err := bq.NewClient(ctx, bq.Config{
		Logger:    log,
		ProjectID: cfg.BQProject,
		DatasetID: cfg.BQDataset,
	})
	if err != nil {
		return err
	}
	defer bqClient.Close()

	retryCfg := retry.Config{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
	clock := clockwork.NewRealClock()

	analyzer, err := schema.NewAnalyzer(schema.AnalyzerConfig{Logger: log, Source: pool})
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.NewStore(checkpoint.StoreConfig{Logger: log, Dir: cfg.StatusDir})
	if err != nil {
		return err
	}

	extractor, err := extract.New(extract.Config{
		Logger:   log,
		Source:   pool,
		Lookback: cfg.Lookback(),
		Retry:    retryCfg,
	})
	if err != nil {
		return err
	}

	applier, err := warehouse.New(warehouse.Config{
		Logger: log,
		Client: bqClient,
		Clock:  clock,
		Retry:  retryCfg,
	})
	if err != nil {
		return err
	}

	s, err := syncer.New(syncer.Config{
		Logger:      log,
		Clock:       clock,
		Analyzer:    analyzer,
		Checkpoints: checkpoints,
		Extractor:   extractor,
		Applier:     applier,
		Tenants:     cfg.Tenants,
		Tables:      cfg.Tables,
		ForceFull:   *fullFlag,
	})
	if err != nil {
		return err
	}

	report, err := s.Run(ctx)
	if err != nil {
		return err
	}
	if report.Failed() {
		return errors.New("one or more tables failed to sync")
	}
	return nil
}
