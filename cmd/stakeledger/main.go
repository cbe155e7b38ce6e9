package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"
	"StakeLedger/internal/projection"
	"StakeLedger/internal/query"
	"StakeLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "stakeledger",
		Usage: "event-sourced staking ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file (overrides STAKE_CONFIG_FILE)",
			},
			&cli.BoolFlag{
				Name:  "rebuild-projections",
				Usage: "rebuild projection tables from the event log before serving",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			return run(c.Context, cfg, c.Bool("rebuild-projections"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger := observability.NewLogger("main")
		logger.Fatal().Err(err).Msg("stakeledger exited")
	}
}

func run(ctx context.Context, cfg Config, rebuild bool) error {
	observability.SetLogLevel(cfg.LogLevel)
	logger := observability.NewLogger("main")
	logger.Info().Msg("StakeLedger starting")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	if rebuild {
		n, err := projection.RebuildProjections(ctx, db, metrics)
		if err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
		logger.Info().Int64("events", n).Msg("projections rebuilt")
	}

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	rawEventChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)
	ingestChan := make(chan ingestion.IngestRequest)
	snapshotReqChan := make(chan snapshotRequest)
	snapshotJobChan := make(chan snapshotJob, 4)

	// --- Deterministic Core + recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	deterministicCore := core.NewDeterministicCore(
		0,
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		cfg.IdempotencyLRUCapacity,
		metrics,
	)

	replayed, err := recoverCore(ctx, deterministicCore, snapMgr, metrics, observability.NewLogger("recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().Int64("replayed", replayed).Int64("next_sequence", deterministicCore.GetSequence()).Msg("recovery complete")

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	subjects := ingestion.DefaultSubjects()
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(gctx, subjects); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer natsSubscriber.Stop()

	// --- Services ---
	queryService := query.NewQueryService(db)
	healthChecker.AddCheck("postgres", queryService.Ping)
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})
	ingestService := ingestion.NewGRPCIngestService(ingestChan, cfg.IngestRatePerSecond, cfg.IngestBurst, metrics)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Query:         queryService,
		Ingest:        ingestService,
		Snapshots:     snapshotService{requests: snapshotReqChan},
		Rebuilder:     projectionRebuilder{db: db, metrics: metrics},
		EventLog:      snapMgr,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})

	loop := &coreLoop{
		core:          deterministicCore,
		raw:           rawEventChan,
		ingest:        ingestChan,
		snapshots:     snapshotReqChan,
		snapOut:       snapshotJobChan,
		subjects:      subjects,
		snapshotEvery: cfg.SnapshotInterval,
		checkInterval: cfg.SnapshotCheckInterval,
		lastSnapshot:  deterministicCore.GetSequence(),
		metrics:       metrics,
		logger:        observability.NewLogger("core"),
	}

	snapWriter := &snapshotWriter{
		mgr:     snapMgr,
		jobs:    snapshotJobChan,
		retry:   cfg.SnapshotCheckInterval,
		metrics: metrics,
		logger:  observability.NewLogger("snapshot"),
	}

	// --- Start goroutines ---
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return outboundPublisher.Run(gctx) })
	g.Go(func() error {
		return bridgeCoreOutputs(gctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics)
	})
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return snapWriter.Run(gctx) })
	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr) })

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("StakeLedger ready")

	err = g.Wait()
	healthChecker.SetReady(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker failed, shutting down")
	}

	// Final snapshot; the core loop has exited so this goroutine owns the core
	if deterministicCore.GetSequence() > 0 {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		final := persistence.SnapshotFromCore(deterministicCore.CreateSnapshotState(), time.Now())
		if _, err := snapMgr.SaveSnapshot(shutdownCtx, final); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else if ok, err := snapMgr.VerifySnapshot(shutdownCtx, final); err != nil || !ok {
			logger.Warn().Err(err).Int64("sequence", final.Sequence).Msg("final snapshot saved unverified")
		} else {
			logger.Info().Int64("sequence", final.Sequence).Msg("final snapshot saved")
		}
	}

	logger.Info().Msg("StakeLedger shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// projectionRebuilder adapts RebuildProjections to the admin service.
type projectionRebuilder struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func (r projectionRebuilder) RebuildProjections(ctx context.Context) (int64, error) {
	return projection.RebuildProjections(ctx, r.db, r.metrics)
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger := observability.NewLogger("metrics")
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
