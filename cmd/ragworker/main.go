// Command ragworker runs the ingestion worker described in SPEC_FULL.md
// §4.10: it consumes jobs from the configured queue backend and drives each
// through the RAG service's ingestion pipeline, reporting coarse milestone
// progress back to the job store.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ragcore/internal/config"
	"ragcore/internal/observability"
	"ragcore/internal/persistence/databases"
	"ragcore/internal/rag/ingest"
	"ragcore/internal/rag/ingest/worker"
	"ragcore/internal/rag/service"
	"ragcore/internal/storage/jobstore"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "ragworker",
		Short: "Consume ingestion jobs and index documents into the RAG core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ragworker")
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.OTel.LogPath, cfg.OTel.LogLevel)

	mgr, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init database manager: %w", err)
	}
	defer mgr.Close()

	svc := service.New(mgr)

	queue, err := buildQueue(cfg.Ingestion)
	if err != nil {
		return fmt.Errorf("build ingestion queue: %w", err)
	}
	defer queue.Close()

	jobs, err := buildJobStore(ctx, cfg.DB.Jobs)
	if err != nil {
		return fmt.Errorf("build job store: %w", err)
	}

	w := worker.New(queue, svc, jobs)

	if kq, ok := queue.(*ingest.KafkaQueue); ok {
		go func() {
			if err := kq.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("kafka queue stopped")
			}
		}()
	}

	log.Info().Int("workers", cfg.Ingestion.MaxWorkers).Str("queue_backend", cfg.Ingestion.QueueBackend).Msg("ragworker starting")
	return w.Run(ctx, cfg.Ingestion.MaxWorkers)
}

func buildQueue(cfg config.IngestionConfig) (ingest.Queue, error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return ingest.NewMemoryQueue(cfg.QueueCapacity), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka queue backend requires kafka_brokers and kafka_topic")
		}
		return ingest.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unsupported ingestion queue backend: %s", cfg.QueueBackend)
	}
}

func buildJobStore(ctx context.Context, cfg config.DBBackendConfig) (ingest.JobStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return jobstore.NewMemory(), nil
	case "postgres", "pg":
		pool, err := databases.NewPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store := jobstore.NewPostgres(pool)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported job store backend: %s", cfg.Backend)
	}
}
