package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"referral-service/internal/ai/gemini"
	"referral-service/internal/config"
	"referral-service/internal/database/minio"
	"referral-service/internal/database/postgres"
	"referral-service/internal/database/redis"
	"referral-service/internal/event"
	"referral-service/internal/handlers"
	"referral-service/internal/repository"
	"referral-service/internal/services"
	"referral-service/internal/worker"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/sync/errgroup"
)

func setupLogging() (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	logDir := filepath.Join("/docdoc", "log", "referral_service")
	fmt.Println("Log directory:", logDir)
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if err := run(); err != nil {
		log.Printf("referral service stopped with error: %s", err)
		logFile.Close()
		os.Exit(1)
	}
	log.Println("Referral service stopped")
}

// run wires every component and blocks until a shutdown signal or a fatal component error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.New()
	log.Printf("Connecting to PostgreSQL with: host=%s, port=%s, user=%s, dbname=%s",
		cfg.PostgresCfg.Host, cfg.PostgresCfg.Port, cfg.PostgresCfg.Username, cfg.PostgresCfg.DBname)
	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		log.Printf("error connect to database: %s", err)
		// the ledger cannot run without its database, so wait for it here
		postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
	}
	defer db.Close()

	// ============================================================================
	// OPTIONAL INFRASTRUCTURE
	// ============================================================================

	var balanceCache services.BalanceCache
	redisClient, err := redis.NewRedisClient(cfg.RedisCfg)
	if err != nil {
		log.Printf("redis unavailable, balances are computed on every request: %s", err)
	} else {
		defer redisClient.Close()
		balanceCache = redis.NewBalanceCache(redisClient, time.Duration(cfg.RedisCfg.BalanceTTL)*time.Second)
	}

	var (
		snapshotStore  services.SnapshotStore
		snapshotLinker handlers.SnapshotLinker
	)
	minioClient, err := minio.NewMinioClient(cfg.MinioCfg)
	if err != nil {
		log.Printf("minio unavailable, raw snapshots are not stored: %s", err)
	} else {
		snapshotStore = minioClient
		snapshotLinker = minioClient
	}

	var notifier services.NotificationSink
	rabbit, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		log.Printf("rabbitmq unavailable, notifications and queued ingestion are disabled: %s", err)
	} else {
		defer rabbit.Close()
		notifier = event.NewNotificationPublisher(rabbit)
	}

	geminiClients, err := gemini.NewClientsFromConfig(ctx, cfg.GeminiCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize gemini clients: %w", err)
	}
	defer gemini.Close(geminiClients)
	geminiPool := gemini.NewClientPool(geminiClients)
	log.Printf("gemini extraction over %d api keys", geminiPool.Size())
	extractor := gemini.NewReportExtractor(geminiPool)

	// ============================================================================
	// SERVICES
	// ============================================================================

	ledgerRepo := repository.NewLedgerRepository(db)
	reportRepo := repository.NewClinicReportRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	clinicRepo := repository.NewClinicRepository(db)
	historyRepo := repository.NewAgentHistoryRepository(db)

	business := cfg.BusinessCfg
	ledger := services.NewCommissionLedger(ledgerRepo, balanceCache, services.LedgerConfigFrom(business))
	matcher := services.NewReferralMatcher(clinicRepo, referralRepo, services.MatchConfigFrom(business))
	ingestion := services.NewIngestionService(
		extractor,
		reportRepo,
		matcher,
		services.NewStatusClassifier(business.AutoMatchThreshold),
		services.NewAttachmentInspector(business.MaxAttachmentPages),
		snapshotStore,
		clinicRepo,
		notifier,
	)
	paymentService := services.NewPaymentRequestService(ledger, notifier)
	reviewService := services.NewReportReviewService(ledger, notifier)
	referralStatusService := services.NewReferralStatusService(ledger, notifier)
	agentService := services.NewAgentService(ledger, historyRepo)

	// ============================================================================
	// HTTP
	// ============================================================================

	app := fiber.New()
	app.Get("/checkhealth", func(c fiber.Ctx) error {
		status := fiber.StatusOK
		if !postgres.Healthy() {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"service":  "referral-service",
			"postgres": postgres.Healthy(),
			"rabbitmq": rabbit.Healthy(),
			"redis":    redisClient.Healthy(c.Context()),
		})
	})

	handlers.NewIngestionHandler(ingestion).Register(app)
	handlers.NewReportHandler(reportRepo, reviewService, snapshotLinker).Register(app)
	handlers.NewAgentHandler(agentService, ledger, paymentService, agentService, cfg.StaffUserIDs).Register(app)
	handlers.NewPaymentHandler(paymentService).Register(app)
	handlers.NewReferralHandler(referralRepo, referralStatusService, ledger).Register(app)
	handlers.NewClinicHandler(clinicRepo).Register(app)

	// ============================================================================
	// RUN
	// ============================================================================

	g, gctx := errgroup.WithContext(ctx)

	pool := worker.NewWorkingPool(cfg.WorkerCfg.IngestionWorkers, cfg.WorkerCfg.IngestionQueueSize)
	g.Go(func() error {
		return pool.Start(gctx)
	})

	if rabbit != nil {
		consumer := event.NewIngestionConsumer(rabbit, ingestion, pool)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	g.Go(func() error {
		log.Printf("Referral service listening on :%s", cfg.Port)
		return app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down referral service")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
