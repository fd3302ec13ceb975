package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/ethos-works/ethosgraph/internal/api/handlers"
	"github.com/ethos-works/ethosgraph/internal/config"
	"github.com/ethos-works/ethosgraph/internal/database"
	"github.com/ethos-works/ethosgraph/internal/extract"
	"github.com/ethos-works/ethosgraph/internal/jobs"
	"github.com/ethos-works/ethosgraph/internal/match"
	"github.com/ethos-works/ethosgraph/internal/ontology"
	"github.com/ethos-works/ethosgraph/internal/openai"
	"github.com/ethos-works/ethosgraph/internal/repository"
	"github.com/ethos-works/ethosgraph/internal/server"
	"github.com/ethos-works/ethosgraph/internal/service"
	"github.com/ethos-works/ethosgraph/internal/storage"
	"github.com/ethos-works/ethosgraph/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the ethosgraph API server and the extraction job worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Skip starting the background extraction worker")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		environment := cfg.SentryEnvironment
		if environment == "" {
			environment = "development"
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: cfg.SentryTracesSampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	documentRepo := repository.NewDocumentRepository(pool)
	candidateRepo := repository.NewCandidateRepository(pool)
	annotationRepo := repository.NewAnnotationRepository(pool)
	commitRepo := repository.NewCommitRecordRepository(pool)
	entityCacheRepo := repository.NewEntityCacheRepository(pool)
	runJobRepo := repository.NewRunJobRepository(pool)

	var storageClient service.StorageClientInterface
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		storageClient = s3Client
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required: extraction and matching need an LLM provider")
	}
	if !cfg.HasOntology() {
		return fmt.Errorf("ONTOLOGY_BASE_URL is required: matching needs the hierarchical entity store")
	}

	llmClient := openai.NewClient(cfg.OpenAIAPIKey)
	ontologyClient := ontology.NewClient(ontology.ClientConfig{
		BaseURL: cfg.OntologyBaseURL,
		APIKey:  cfg.OntologyAPIKey,
		Timeout: cfg.OntologyTimeout,
	})

	overrides, err := match.ParseOverrides(cfg.MatchCategoryThresholds)
	if err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}
	matcher, err := match.NewMatcher(ontologyClient, llmClient, entityCacheRepo, match.Config{
		Default: match.Thresholds{
			High: cfg.MatchHighThreshold,
			Low:  cfg.MatchLowThreshold,
			TopK: cfg.MatchTopK,
		},
		PerCategory: overrides,
	})
	if err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}

	extractor := extract.NewExtractorWithPenalty(llmClient, ontologyClient, cfg.LowContextPenalty)
	splitter := extract.NewSplitter(llmClient)

	documentSvc := service.NewDocumentService(documentRepo, runJobRepo, storageClient)
	annotationSvc := service.NewAnnotationService(annotationRepo)
	pipelineSvc := service.NewPipelineService(documentRepo, candidateRepo, annotationRepo, extractor, splitter, matcher)
	pipelineSvc.SetConcurrency(cfg.CategoryConcurrency)
	pipelineSvc.SetTxRunner(repository.NewTxRunner(pool))
	commitSvc := service.NewCommitService(annotationRepo, commitRepo, entityCacheRepo, ontologyClient, cfg.EntityBaseURI)
	authSvc := service.NewAuthService(cfg.APIKeys)

	var pipelineWorker *jobs.Worker
	noWorker, _ := cmd.Flags().GetBool("no-worker")
	if !noWorker {
		processor := jobs.NewPipelineWorker(runJobRepo, pipelineSvc)
		pipelineWorker = jobs.NewWorker(processor, cfg.WorkerPollInterval)
		go pipelineWorker.Start(ctx)
		log.Println("extraction worker started")
	}

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:     authSvc,
		DocumentHandler:   handlers.NewDocumentHandler(documentSvc),
		ExtractHandler:    handlers.NewExtractHandler(documentSvc, pipelineSvc),
		AnnotationHandler: handlers.NewAnnotationHandler(annotationSvc),
		SyncHandler:       handlers.NewSyncHandler(commitSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if pipelineWorker != nil {
		pipelineWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
