// Package app assembles the stores, providers and services described by a
// config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/mnemo/internal/anthropic"
	"github.com/cloo-solutions/mnemo/internal/cache"
	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/database"
	"github.com/cloo-solutions/mnemo/internal/embedding"
	"github.com/cloo-solutions/mnemo/internal/jobs"
	"github.com/cloo-solutions/mnemo/internal/llm"
	"github.com/cloo-solutions/mnemo/internal/memstore"
	"github.com/cloo-solutions/mnemo/internal/openai"
	"github.com/cloo-solutions/mnemo/internal/repository"
	"github.com/cloo-solutions/mnemo/internal/service"
	"github.com/cloo-solutions/mnemo/internal/storage"
)

// ErrNoSynthesizer is returned by Decisions when the configured LLM provider
// has no API key.
var ErrNoSynthesizer = errors.New("no LLM provider configured")

// stores is the storage side of the app, either Postgres or in-process.
type stores struct {
	chunks    service.ChunkRepositoryInterface
	decisions service.DecisionRepositoryInterface
	evidence  service.EvidenceRepositoryInterface
	tx        service.TxRunner
}

// App owns every long-lived component. Close releases them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	embedder *cache.CachedEmbedder
	stores   stores

	synthesizer llm.Synthesizer
	archiver    service.RecordArchiver

	Ingestion     *service.IngestionService
	Consolidation *service.ConsolidationService
	Ranker        *service.HybridRanker

	decisions *service.DecisionService
}

// Options override providers, mainly for tests.
type Options struct {
	Embedder    service.EmbeddingServiceInterface
	Synthesizer llm.Synthesizer
	Archiver    service.RecordArchiver
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	base := opts.Embedder
	if base == nil {
		base = newEmbedder(cfg)
	}
	embedder, err := cache.NewCachedEmbedder(base, embeddingModelName(cfg, opts), cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder

	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pool = pool
		a.stores = stores{
			chunks:    repository.NewChunkRepository(pool),
			decisions: repository.NewDecisionRepository(pool),
			evidence:  repository.NewEvidenceRepository(pool),
			tx:        repository.NewTxRunner(pool),
		}
		logger.Info("using postgres store")
	} else {
		mem := memstore.New()
		a.stores = stores{
			chunks:    mem.Chunks(),
			decisions: mem.Decisions(),
			evidence:  mem.Evidence(),
			tx:        mem,
		}
		logger.Info("using in-process store")
	}

	a.archiver = opts.Archiver
	if a.archiver == nil && cfg.HasS3() {
		archiver, err := newArchiver(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.archiver = archiver
	}

	a.synthesizer = opts.Synthesizer
	if a.synthesizer == nil {
		a.synthesizer = newSynthesizer(cfg)
	}

	a.Ingestion = service.NewIngestionService(embedder, a.stores.tx)
	a.Consolidation = service.NewConsolidationService(a.stores.chunks, a.stores.tx, nil, nil, logger)
	a.Ranker = service.NewHybridRanker(service.NewEvidenceAdapter(embedder, a.stores.evidence), RankerConfig(cfg))

	if a.synthesizer != nil {
		a.decisions = service.NewDecisionService(service.DecisionServiceDeps{
			Synthesizer: a.synthesizer,
			Ranker:      a.Ranker,
			Decisions:   a.stores.decisions,
			Tx:          a.stores.tx,
			Ingestion:   a.Ingestion,
			Archiver:    a.archiver,
			Logger:      logger,
		}, PipelineConfig(cfg))
	}

	return a, nil
}

// Decisions returns the decision pipeline, or ErrNoSynthesizer when no LLM
// provider is usable.
func (a *App) Decisions() (*service.DecisionService, error) {
	if a.decisions == nil {
		return nil, fmt.Errorf("%w: set %s credentials", ErrNoSynthesizer, a.cfg.LLMProvider)
	}
	return a.decisions, nil
}

// ConsolidationWorker schedules Consolidation on the configured cron expression.
func (a *App) ConsolidationWorker() (*jobs.ScheduledWorker, error) {
	schedule, err := jobs.ParseCron(a.cfg.ConsolidationSchedule)
	if err != nil {
		return nil, err
	}
	return jobs.NewScheduledWorker("consolidation", jobs.ProcessorFunc(a.Consolidation.Run), schedule, a.logger), nil
}

func (a *App) Close() {
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func newEmbedder(cfg *config.Config) service.EmbeddingServiceInterface {
	if cfg.HasOpenAI() {
		return openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.OpenAIEmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
	}
	return embedding.NewHashEmbedder(cfg.EmbeddingDimensions)
}

// embeddingModelName identifies the embedder for cache keys. An injected
// embedder gets its own namespace.
func embeddingModelName(cfg *config.Config, opts Options) string {
	switch {
	case opts.Embedder != nil:
		return fmt.Sprintf("injected:%T", opts.Embedder)
	case cfg.HasOpenAI():
		return cfg.OpenAIEmbeddingModel
	default:
		return fmt.Sprintf("hash:%d", cfg.EmbeddingDimensions)
	}
}

func newSynthesizer(cfg *config.Config) llm.Synthesizer {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		if cfg.HasAnthropic() {
			return anthropic.NewSynthesizerFromKey(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		}
	case config.ProviderOpenAI:
		if cfg.HasOpenAI() {
			return openai.NewChatSynthesizerWithConfig(openai.Config{APIKey: cfg.OpenAIAPIKey, ChatModel: cfg.OpenAIChatModel})
		}
	}
	return nil
}

func newArchiver(ctx context.Context, cfg *config.Config) (*storage.DecisionArchiver, error) {
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return storage.NewDecisionArchiver(client), nil
}
