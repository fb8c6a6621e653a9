package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pabridge/pabridge/internal/config"
	"github.com/pabridge/pabridge/internal/domain/decision"
	"github.com/pabridge/pabridge/internal/domain/inbox"
	"github.com/pabridge/pabridge/internal/domain/leader"
	"github.com/pabridge/pabridge/internal/domain/outbox"
	"github.com/pabridge/pabridge/internal/domain/watermark"
	"github.com/pabridge/pabridge/internal/esmd"
	"github.com/pabridge/pabridge/internal/letter"
	"github.com/pabridge/pabridge/internal/platform/db"
	"github.com/pabridge/pabridge/internal/platform/middleware"
	"github.com/pabridge/pabridge/internal/platform/telemetry"
	"github.com/pabridge/pabridge/internal/poller"
	"github.com/pabridge/pabridge/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pabridge",
		Short: "Reliability bridge between intake, clinical decisions, and the esMD gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("worker_id", cfg.WorkerID).Msg("connected to database")

	// Repositories and services.
	inboxSvc := inbox.NewService(inbox.NewRepo(pool), logger, cfg.MaxAttempts, cfg.FailFastPermanent)
	decisionSvc := decision.NewService(decision.NewRepo(pool), logger)
	outboxSvc := outbox.NewService(outbox.NewRepo(pool), logger)
	cursorRepo := watermark.NewRepo(pool)
	leaseRepo := leader.NewRepo(pool, cfg.LeaseStaleness)

	gateway := esmd.NewClient(cfg.ESMDBaseURL, cfg.ESMDTimeout, logger)
	pipeline := worker.NewPipeline(decisionSvc, outboxSvc, gateway, logger)

	// Background loops share one cancel scope, separate from the HTTP server
	// shutdown so in-flight work drains before the pool closes.
	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(runCtx)
		}()
	}

	pollerElector := leader.NewElector(leaseRepo, leader.TaskPoller, cfg.WorkerID, cfg.HeartbeatInterval, logger)
	sweeperElector := leader.NewElector(leaseRepo, leader.TaskSweeper, cfg.WorkerID, cfg.HeartbeatInterval, logger)
	letterElector := leader.NewElector(leaseRepo, leader.TaskLetter, cfg.WorkerID, cfg.HeartbeatInterval, logger)
	spawn(pollerElector.Run)
	spawn(sweeperElector.Run)
	spawn(letterElector.Run)

	source, err := poller.NewPGSourceReader(pool, cfg.SourceTable)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid source table")
	}
	spawn(poller.New(source, inboxSvc, cursorRepo, pollerElector, cfg.SourceTable, cfg.PollInterval, cfg.PollBatchSize, logger).Run)

	workers := worker.NewPool(inboxSvc, pipeline.BuildRegistry(), cfg.WorkerID, cfg.WorkerCount, cfg.PollBatchSize, time.Second, logger)
	spawn(workers.Run)

	spawn(worker.NewSweeper(inboxSvc, sweeperElector, cfg.SweepInterval, cfg.LockTimeout, logger).Run)

	letterClient := letter.NewHTTPClient(cfg.LetterRenderURL, cfg.LetterDeliveryURL, cfg.ESMDTimeout)
	spawn(letter.NewLoop(decisionSvc, letterClient, letterClient, letterElector, cfg.LetterInterval, cfg.PollBatchSize, logger).Run)

	// Operator API.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool,
		db.Check{Name: "leases", Probe: func(ctx context.Context) (interface{}, error) {
			leases, err := leaseRepo.List(ctx)
			if err != nil {
				return nil, err
			}
			now := time.Now()
			live := make(map[string]bool, len(leases))
			for _, l := range leases {
				live[l.TaskName] = l.IsLive(now, cfg.LeaseStaleness)
			}
			return live, nil
		}},
		db.Check{Name: "inbox_dead", Probe: func(ctx context.Context) (interface{}, error) {
			return inboxSvc.DeadCount(ctx)
		}},
	))
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler()))

	ops := e.Group("/ops/v1")
	inbox.NewHandler(inboxSvc).RegisterRoutes(ops)
	decision.NewHandler(decisionSvc, pipeline).RegisterRoutes(ops)
	outbox.NewHandler(outboxSvc).RegisterRoutes(ops)
	leader.NewHandler(leaseRepo, cfg.LeaseStaleness).RegisterRoutes(ops)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("stopped")
	return nil
}
