// cmd/streakd serves the civic streak ledger over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/civicstreak/internal/badges"
	"github.com/jmerrifield20/civicstreak/internal/config"
	"github.com/jmerrifield20/civicstreak/internal/handler"
	healthcheck "github.com/jmerrifield20/civicstreak/internal/health"
	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/jobs"
	"github.com/jmerrifield20/civicstreak/internal/journal"
	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/metrics"
	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/rpc"
	"github.com/jmerrifield20/civicstreak/internal/snapshot"
	"github.com/jmerrifield20/civicstreak/internal/streak"
	"github.com/jmerrifield20/civicstreak/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to streakd.yaml (default: configs/streakd.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streakd: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streakd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("streakd exited with error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc.Level = lvl
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ns := streak.Namespace(cfg.Store.Namespace)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: "streakd",
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	// ── Milestones ────────────────────────────────────────────────────────────
	table := streak.DefaultMilestoneTable()
	if cfg.Milestones.File != "" {
		if table, err = streak.LoadMilestoneTable(cfg.Milestones.File); err != nil {
			return err
		}
	}
	logger.Info("milestone table loaded", zap.Int("milestones", table.Len()))

	// ── Database ──────────────────────────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.Store.Driver == recordstore.DriverPostgres || cfg.Journal.Driver == "postgres" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
	}

	// ── Record store ──────────────────────────────────────────────────────────
	storeOpts := cfg.StoreOptions()
	storeOpts.Pool = pool
	store, err := recordstore.Open(ctx, storeOpts, logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	// ── Journal ───────────────────────────────────────────────────────────────
	var jrnl journal.Journal
	switch cfg.Journal.Driver {
	case "postgres":
		jrnl = journal.NewPostgres(pool, logger)
	case "memory":
		jrnl = journal.NewMemory()
	}
	if jrnl != nil {
		if err := jrnl.Verify(ctx); err != nil {
			logger.Warn("journal integrity check FAILED", zap.Error(err))
		} else {
			n, _ := jrnl.Len(ctx)
			root, _ := jrnl.Root(ctx)
			logger.Info("journal verified", zap.Int("entries", n), zap.String("root", root))
		}
	}

	// ── Badge issuers ─────────────────────────────────────────────────────────
	var issuers badges.MultiIssuer
	if cfg.Badges.Log {
		issuers = append(issuers, badges.NewLogIssuer(logger))
	}
	var webhook *badges.WebhookIssuer
	if cfg.Badges.WebhookURL != "" {
		webhook = badges.NewWebhookIssuer(cfg.Badges.WebhookURL, cfg.Badges.WebhookSecret, logger)
		webhook.SetMetricsRecorder(metrics.RecordWebhookDelivery)
		issuers = append(issuers, webhook)
	}

	// ── Ledger service ────────────────────────────────────────────────────────
	svc := ledger.NewService(store, table, ledger.SystemClock{}, ns, logger)
	svc.SetRecorder(metrics.Ledger{})
	svc.SetMaxCASAttempts(cfg.Store.MaxCASAttempts)
	if len(issuers) > 0 {
		svc.SetIssuer(issuers)
	}
	if jrnl != nil {
		svc.SetJournal(jrnl)
	}

	// ── Identity ──────────────────────────────────────────────────────────────
	var tokens *identity.TokenIssuer
	if cfg.Auth.TokenSecret != "" {
		if tokens, err = identity.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL); err != nil {
			return err
		}
	}
	auth := identity.NewAuthenticator(tokens)
	if auth.DevMode() {
		logger.Warn("auth.token_secret is not set: trusting the " + identity.HeaderDevOwner + " header (development mode)")
	}

	// ── Snapshots ─────────────────────────────────────────────────────────────
	var exporter *snapshot.Exporter
	if cfg.SnapshotsEnabled() {
		var up snapshot.Uploader
		if cfg.Snapshot.Dir != "" {
			up = snapshot.NewDirUploader(cfg.Snapshot.Dir)
		} else {
			s3up, err := snapshot.NewS3Uploader(ctx, snapshot.S3Options{
				Bucket:          cfg.Snapshot.S3Bucket,
				Region:          cfg.Snapshot.S3Region,
				Endpoint:        cfg.Snapshot.S3Endpoint,
				AccessKeyID:     cfg.Snapshot.AccessKeyID,
				SecretAccessKey: cfg.Snapshot.SecretAccessKey,
			})
			if err != nil {
				return err
			}
			up = s3up
		}
		exporter = snapshot.NewExporter(store, ns, up, cfg.Snapshot.Prefix, logger)
	}

	// ── Health ────────────────────────────────────────────────────────────────
	checker := healthcheck.New(healthcheck.Config{
		CheckInterval: cfg.Health.CheckInterval,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.SetMetricsRecord(metrics.SetDependencyUp)
	checker.AddProbe("record_store", func(ctx context.Context) error {
		_, err := store.Get(ctx, streak.Identity{})
		if errors.Is(err, streak.ErrNotFound) {
			return nil
		}
		return err
	}, true)
	if jrnl != nil {
		checker.AddProbe("journal", func(ctx context.Context) error {
			_, err := jrnl.Len(ctx)
			return err
		}, false)
	}
	if cfg.Badges.WebhookURL != "" {
		checker.AddEndpoint("badge_webhook", cfg.Badges.WebhookURL, false)
	}

	// ── Jobs ──────────────────────────────────────────────────────────────────
	sched, err := jobs.New(ctx, logger)
	if err != nil {
		return err
	}
	if cfg.Jobs.RecordGaugeInterval > 0 {
		if err := sched.AddRecordGauge(cfg.Jobs.RecordGaugeInterval, store, ns); err != nil {
			return err
		}
	}
	if jrnl != nil && cfg.Jobs.JournalVerifyInterval > 0 {
		if err := sched.AddJournalVerify(cfg.Jobs.JournalVerifyInterval, jrnl); err != nil {
			return err
		}
	}
	if exporter != nil && cfg.Jobs.SnapshotInterval > 0 {
		if err := sched.AddSnapshot(cfg.Jobs.SnapshotInterval, exporter); err != nil {
			return err
		}
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	streaks := handler.NewStreakHandler(svc, auth, logger)
	if cfg.HTTP.OwnerRateLimitRPS > 0 {
		streaks.SetOwnerLimiter(handler.OwnerRateLimiter(ctx, cfg.HTTP.OwnerRateLimitRPS, cfg.HTTP.OwnerRateLimitBurst))
	}
	registrars := []handler.Registrar{streaks}
	if jrnl != nil {
		registrars = append(registrars, handler.NewJournalHandler(jrnl, logger))
	}
	var snapshots handler.Snapshotter
	if exporter != nil {
		snapshots = exporter
	}
	registrars = append(registrars, handler.NewAdminHandler(cfg.Admin.SecretHash, snapshots, store, logger))

	router := handler.NewRouter(ctx, handler.RouterOptions{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Ready:        checker.Ready,
	}, logger, registrars...)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── gRPC server ───────────────────────────────────────────────────────────
	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if cfg.GRPC.Enabled {
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", cfg.GRPC.Port, err)
		}
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(rpc.LoggingInterceptor(logger)),
		)
		rpc.NewServer(svc, auth, logger).Register(grpcServer)

		healthSvc := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
		healthSvc.SetServingStatus(rpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
		checker.SetStatusFunc(func(serving bool) {
			st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
			if serving {
				st = grpc_health_v1.HealthCheckResponse_SERVING
			}
			healthSvc.SetServingStatus(rpc.ServiceName, st)
		})
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("streakd HTTP listening",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("namespace", string(ns)),
			zap.String("store", cfg.Store.Driver),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP listen: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("streakd gRPC listening", zap.Int("port", cfg.GRPC.Port))
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("gRPC serve: %w", err)
			}
			return nil
		})
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down streakd...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := sched.Shutdown(); err != nil {
			logger.Error("scheduler shutdown error", zap.Error(err))
		}
		if webhook != nil {
			webhook.Wait()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("streakd stopped")
	return nil
}
