package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vaultkeep/backupd/internal/api"
	"github.com/vaultkeep/backupd/internal/authz"
	"github.com/vaultkeep/backupd/internal/config"
	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/notification"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/pipeline"
	"github.com/vaultkeep/backupd/internal/repository"
	"github.com/vaultkeep/backupd/internal/restore"
	"github.com/vaultkeep/backupd/internal/scheduler"
	"github.com/vaultkeep/backupd/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "backupd",
		Short: "backupd — scheduled database backup and restore engine",
		Long: `backupd is a standalone backup orchestration engine: it connects to
one or more application databases, runs their backups on a schedule or on
demand, ships the artifacts to one or more destinations, enforces
retention, and can restore a stored backup back onto a target on request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.BindFlags(root.PersistentFlags(), cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backupd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel, cfg.LogDir, cfg.LogFilename)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.MasterKey == "" {
		return fmt.Errorf("master encryption key is required — set --master-key or MASTER_ENCRYPTION_KEY")
	}

	logger.Info("starting backupd",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("runner_interval", cfg.RunnerInterval),
		zap.Bool("runner_drain_mode", cfg.RunnerDrainMode),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	masterKey, err := config.DecodeMasterKey(cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("invalid master encryption key: %w", err)
	}
	if err := db.InitEncryption(masterKey); err != nil {
		return fmt.Errorf("failed to initialize secret encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	targetRepo := repository.NewTargetRepository(gormDB)
	destinationRepo := repository.NewDestinationRepository(gormDB)
	scheduleRepo := repository.NewScheduleRepository(gormDB)
	runRepo := repository.NewRunRepository(gormDB)
	auditRepo := repository.NewAuditEventRepository(gormDB)
	settingRepo := repository.NewSettingRepository(gormDB)

	if err := destinationRepo.EnsureLocal(ctx, cfg.LocalBackupDir); err != nil {
		return fmt.Errorf("failed to ensure local destination: %w", err)
	}

	// --- 4. Auth verifier ---
	// RBAC and login flows are an external collaborator (§1); backupd only
	// verifies bearer tokens minted elsewhere, against an RSA public key.
	// buildJWTManager falls back to an ephemeral generated key pair for
	// single-instance / development deployments, same as the teacher.
	jwtManager, err := buildJWTManager(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT verifier: %w", err)
	}
	var verifier authz.Verifier = jwtManager

	// --- 5. Operation lock, hub, notifications ---
	locks := oplock.New(logger)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	notifier := notification.NewService(settingRepo, hub, logger)

	// --- 6. Execution pipelines ---
	backupPipeline := pipeline.New(
		pipeline.Config{TempDir: cfg.TempDir},
		targetRepo,
		destinationRepo,
		scheduleRepo,
		runRepo,
		auditRepo,
		locks,
		notifier,
		logger,
	)

	restorePipeline := restore.New(
		restore.Config{TempDir: cfg.TempDir},
		targetRepo,
		destinationRepo,
		runRepo,
		auditRepo,
		locks,
		notifier,
		logger,
	)

	// --- 7. Scheduler ---
	// RUNNER_MODE=direct (default) runs the due-schedule tick in-process.
	// RUNNER_MODE=api leaves schedule execution to an external caller
	// hitting POST /automation/runner/run-due on its own interval (a cron
	// job or a separate runner deployment) — this process then only serves
	// the REST API and never ticks its own scheduler.
	sched, err := scheduler.New(
		scheduler.Config{
			TickInterval:    cfg.RunnerInterval,
			BatchSize:       cfg.RunnerMaxSchedules,
			DrainMode:       cfg.RunnerDrainMode,
			MaxDrainBatches: cfg.RunnerDrainMaxBatches,
		},
		scheduleRepo,
		backupPipeline,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if cfg.RunnerMode == config.RunnerModeDirect {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logger.Info("runner mode is api — schedule execution is driven externally via /automation/runner/run-due")
	}
	defer func() {
		if cfg.RunnerMode != config.RunnerModeDirect {
			return
		}
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 8. HTTP server ---
	router := api.NewRouter(api.Dependencies{
		Targets:      targetRepo,
		Destinations: destinationRepo,
		Schedules:    scheduleRepo,
		Runs:         runRepo,
		Audit:        auditRepo,
		Pipeline:     backupPipeline,
		Restore:      restorePipeline,
		Locks:        locks,
		Hub:          hub,
		Verifier:     verifier,
		TempDir:      cfg.TempDir,
		Logger:       logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down backupd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("backupd stopped")
	return nil
}

// buildJWTManager loads an RSA key pair from the data directory if
// available, or generates ephemeral in-memory keys for development. Since
// RBAC is an external collaborator, the private key is only ever used here
// to self-issue tokens for local development — production deployments
// point PublicKeyPEM's counterpart at the auth collaborator's signer.
func buildJWTManager(dataDir string, logger *zap.Logger) (*authz.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return authz.NewJWTManagerFromFiles(privPath, pubPath, "backupd")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return authz.NewJWTManagerGenerated("backupd")
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// buildLogger builds the process logger. When logDir is set (§6.5 LOG_DIR),
// output is teed to logDir/logFilename alongside stderr; otherwise it goes
// to stderr only.
func buildLogger(level, logDir, logFilename string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logPath := filepath.Join(logDir, logFilename)
		cfg.OutputPaths = append(cfg.OutputPaths, logPath)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logPath)
	}

	return cfg.Build()
}
