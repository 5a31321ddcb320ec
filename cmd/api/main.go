package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/api/handlers"
	"github.com/kbcurator/backend/internal/cache/redis"
	"github.com/kbcurator/backend/internal/curation"
	"github.com/kbcurator/backend/internal/graph/neo4j"
	"github.com/kbcurator/backend/internal/ingestion"
	"github.com/kbcurator/backend/internal/maintenance"
	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/middleware/ratelimit"
	"github.com/kbcurator/backend/internal/middleware/security"
	"github.com/kbcurator/backend/internal/middleware/validation"
	"github.com/kbcurator/backend/internal/oracle"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/internal/vector/milvus"
	"github.com/kbcurator/backend/pkg/config"
	appLogger "github.com/kbcurator/backend/pkg/logger"
	"github.com/kbcurator/backend/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting knowledge curation API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	oracleClient := oracle.NewClient(oracle.Config{
		APIKey:         cfg.Oracle.APIKey,
		Model:          cfg.Oracle.Model,
		VisionModel:    cfg.Oracle.VisionModel,
		EmbeddingModel: cfg.Oracle.EmbeddingModel,
		Temperature:    cfg.Oracle.Temperature,
		MaxTokens:      cfg.Oracle.MaxTokens,
		TimeoutSec:     cfg.Oracle.TimeoutSec,
	})

	scorer := curation.NewScorer(oracleClient, sqliteClient)
	removal := curation.NewRemovalEngine(sqliteClient, curation.RemovalConfig{
		Thresholds: curation.Thresholds{
			AutoRemove: cfg.Curation.AutoRemoveThreshold,
			Review:     cfg.Curation.ReviewThreshold,
		},
		MaxAutoRemove: cfg.Curation.MaxAutoRemove,
		SafeModeGrace: time.Duration(cfg.Curation.SafeModeDays) * 24 * time.Hour,
	})
	gaps := curation.NewGapAnalyzer(sqliteClient, oracleClient, milvusClient, redisClient, curation.GapConfig{
		FullCoverageChunks: cfg.Curation.FullCoverageChunks,
		MinCoverageRatio:   cfg.Curation.MinCoverageRatio,
		MaxSuggestions:     cfg.Curation.MaxGapSuggestions,
	})
	analyzer := curation.NewAnalyzer(sqliteClient, scorer, removal, gaps, curation.AnalyzerConfig{
		BatchSize:    cfg.Curation.BatchSize,
		Concurrency:  cfg.Curation.Concurrency,
		BatchTimeout: time.Duration(cfg.Curation.BatchTimeoutSec) * time.Second,
	})

	processor := ingestion.NewProcessor(
		sqliteClient,
		oracleClient,
		milvusClient,
		neo4jClient,
		redisClient,
		ingestion.OracleOCR{Transcriber: oracleClient},
		ingestion.HealConfig{
			MinPagesForCheck:     cfg.Ingestion.MinPagesForCheck,
			MinChunksPerPage:     cfg.Ingestion.MinChunksPerPage,
			MinTotalChunks:       cfg.Ingestion.MinTotalChunks,
			MaxExtractionRetries: cfg.Ingestion.MaxExtractionRetries,
		},
		utils.HashString,
	)

	sweeper := maintenance.NewSweeper(
		sqliteClient,
		processor,
		oracleClient,
		neo4jClient,
		milvusClient,
		redisClient,
		maintenance.Config{
			SweepInterval:  time.Duration(cfg.Maintenance.SweepIntervalMin) * time.Minute,
			StuckThreshold: time.Duration(cfg.Maintenance.StuckThresholdMin) * time.Minute,
			MaxAttempts:    cfg.Maintenance.MaxRepairAttempts,
			RepairBatch:    cfg.Maintenance.RepairBatchSize,
			CleanupBatch:   cfg.Maintenance.CleanupBatchSize,
			SettleDelay:    time.Duration(cfg.Maintenance.SettleDelaySec) * time.Second,
		},
	)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Start(sweepCtx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()

	agentHandler := handlers.NewAgentHandler(sqliteClient)
	analysisHandler := handlers.NewAnalysisHandler(analyzer, sqliteClient)
	gapsHandler := handlers.NewGapsHandler(gaps, sqliteClient)
	maintenanceHandler := handlers.NewMaintenanceHandler(sweeper, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient)

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
	)

	api.Post("/agents", agentHandler.CreateAgent)
	api.Post("/agents/:agentID/requirements", agentHandler.SubmitRequirements)
	api.Post("/agents/:agentID/analysis", analysisHandler.RunAnalysis)
	api.Get("/agents/:agentID/analysis", analysisHandler.GetProgress)
	api.Get("/agents/:agentID/gaps", gapsHandler.GetGaps)

	api.Post("/maintenance/run", maintenanceHandler.RunSweep)
	api.Get("/maintenance/history", maintenanceHandler.GetHistory)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents/:id", documentHandler.GetDocument)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/analysis/:agentID", websocket.New(wsHandler.HandleAnalysisStream))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopSweeper()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
