// Command ragctl is the operator CLI for the RAG core: submit documents for
// ingestion, inspect job status, and run one-shot chat turns against the
// orchestrator from a terminal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ragcore/internal/config"
	"ragcore/internal/llm/providers"
	"ragcore/internal/observability"
	"ragcore/internal/persistence/databases"
	"ragcore/internal/rag/generator"
	"ragcore/internal/rag/ingest"
	"ragcore/internal/rag/memory"
	"ragcore/internal/rag/orchestrator"
	"ragcore/internal/rag/planner"
	"ragcore/internal/rag/service"
	"ragcore/internal/storage/documents"
	"ragcore/internal/storage/jobstore"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Operate the RAG core: ingest documents, inspect jobs, run chat turns",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(ingestCmd(&configPath), jobsCmd(&configPath), chatCmd(&configPath))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("ragctl")
	}
}

func loadEnv(configPath string) (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.OTel.LogPath, cfg.OTel.LogLevel)
	return cfg, func() {}, nil
}

func ingestCmd(configPath *string) *cobra.Command {
	var tenant, file, title, url, source string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upload a document to disk and enqueue an ingestion job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			if tenant == "" || file == "" {
				return fmt.Errorf("--tenant and --file are required")
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer f.Close()

			docID := "doc:" + tenant + ":" + uuid.NewString()
			ext := strings.TrimPrefix(filepath.Ext(file), ".")
			store := documents.New(cfg.Ingestion.UploadDir)
			savedPath, err := store.Save(cmd.Context(), tenant, docID, ext, f)
			if err != nil {
				return fmt.Errorf("save upload: %w", err)
			}

			text, err := os.ReadFile(savedPath)
			if err != nil {
				return fmt.Errorf("read saved upload: %w", err)
			}

			jobs, err := buildJobStore(cmd.Context(), cfg.DB.Jobs)
			if err != nil {
				return fmt.Errorf("build job store: %w", err)
			}
			queue, err := buildQueue(cfg.Ingestion)
			if err != nil {
				return fmt.Errorf("build ingestion queue: %w", err)
			}
			defer queue.Close()

			req := ingest.IngestRequest{
				ID:     docID,
				Title:  title,
				URL:    url,
				Source: source,
				Text:   string(text),
				Tenant: tenant,
				Options: ingest.IngestOptions{
					Chunking:  ingest.ChunkingOptions{MaxTokens: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap},
					Embedding: ingest.EmbeddingOptions{Enabled: true, Model: cfg.Embeddings.Model},
				},
			}
			job, err := jobs.Create(ingest.Job{Tenant: tenant, Kind: ingest.JobKindIngestDocument, Request: req})
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			if err := ingest.EnqueueWithBackoff(cmd.Context(), queue, job); err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}

			fmt.Printf("job %s queued for document %s\n", job.ID, docID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&file, "file", "", "path to the document to ingest")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVar(&url, "url", "", "document canonical URL")
	cmd.Flags().StringVar(&source, "source", "upload", "document source label")
	return cmd
}

func jobsCmd(configPath *string) *cobra.Command {
	parent := &cobra.Command{Use: "jobs", Short: "Inspect ingestion job status"}

	var tenant, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			jobs, err := buildJobStore(cmd.Context(), cfg.DB.Jobs)
			if err != nil {
				return err
			}
			items, err := jobs.List(tenant, ingest.JobFilter{Status: ingest.JobStatus(status)})
			if err != nil {
				return err
			}
			for _, j := range items {
				fmt.Printf("%s\t%s\t%.0f%%\t%s\n", j.ID, j.Status, j.Progress*100, j.Error)
			}
			return nil
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	list.Flags().StringVar(&status, "status", "", "filter by status (pending|processing|completed|failed)")

	var jobID string
	get := &cobra.Command{
		Use:   "get",
		Short: "Show one job's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			jobs, err := buildJobStore(cmd.Context(), cfg.DB.Jobs)
			if err != nil {
				return err
			}
			job, err := jobs.Get(jobID)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s status=%s progress=%.0f%% error=%q\n", job.ID, job.Status, job.Progress*100, job.Error)
			return nil
		},
	}
	get.Flags().StringVar(&jobID, "id", "", "job id")

	parent.AddCommand(list, get)
	return parent
}

func chatCmd(configPath *string) *cobra.Command {
	var tenant, sessionID, query string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run one chat turn against the orchestrator and print the streamed answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			mgr, err := databases.NewManager(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("init database manager: %w", err)
			}
			defer mgr.Close()
			if _, err := mgr.Chat.EnsureSession(cmd.Context(), nil, sessionID, "ragctl"); err != nil {
				return fmt.Errorf("ensure session: %w", err)
			}

			httpClient := observability.NewHTTPClient(http.DefaultClient)
			provider, err := providers.Build(*cfg, httpClient)
			if err != nil {
				return fmt.Errorf("build llm provider: %w", err)
			}

			model := modelFor(*cfg)
			mem := memory.New(mgr.Chat, provider, model, cfg.RAG.MemoryWindow)
			pl := planner.New(provider, model)
			svc := service.New(mgr)
			gen := generator.New(provider, model)
			orch := orchestrator.New(mem, pl, svc, gen, provider, model, cfg.RAG, cfg.PersonaFor)

			for ev := range orch.Chat(cmd.Context(), orchestrator.ChatRequest{Tenant: tenant, SessionID: sessionID, Query: query}) {
				switch ev.Kind {
				case generator.TextDelta:
					fmt.Print(ev.Text)
				case generator.SourceDelta:
					fmt.Printf("\n[source] %s (%s)\n", ev.Source.Title, ev.Source.DocID)
				case generator.End:
					fmt.Println()
					if ev.Err != nil {
						return ev.Err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated if omitted)")
	cmd.Flags().StringVar(&query, "query", "", "the message to send")
	return cmd
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

func modelFor(cfg config.Config) string {
	if cfg.LLMClient.Provider == "anthropic" {
		return cfg.LLMClient.Anthropic.Model
	}
	return cfg.LLMClient.OpenAI.Model
}
