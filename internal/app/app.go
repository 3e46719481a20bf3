package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/dossier/internal/api/handlers"
	"github.com/markdave123-py/dossier/internal/config"
	"github.com/markdave123-py/dossier/internal/core"
	db "github.com/markdave123-py/dossier/internal/core/database"
	"github.com/markdave123-py/dossier/internal/core/ingestion_engine"
	"github.com/markdave123-py/dossier/internal/core/llm"
	objectclient "github.com/markdave123-py/dossier/internal/core/object-client"
	"github.com/markdave123-py/dossier/internal/core/searchindex"
	"github.com/markdave123-py/dossier/internal/core/vectorstore"
	"github.com/markdave123-py/dossier/internal/metrics"
	"github.com/markdave123-py/dossier/internal/services"
)

type App struct {
	cfg          *config.Config
	DBClient     *db.DatabaseClient
	ObjectClient core.ObjectClient
	Vectors      core.VectorStore
	Search       core.SearchIndex
	DocProcessor *ingestion_engine.DocumentIngestor
	Server       *Server

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	log.Info().Msg("database initialized and ready")

	if a.ObjectClient, err = newObjectClient(appCtx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	log.Info().Str("backend", cfg.StorageBackend).Msg("object client initialized and ready")

	gen, emb, err := a.newProviders(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.Vectors, err = a.newVectorStore(cfg, emb); err != nil {
		a.Close()
		return nil, err
	}

	if a.Search, err = searchindex.NewOpenSearchIndex(cfg.SearchURL, cfg.SearchUsername, cfg.SearchPassword); err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.NewMetrics()

	useReadability := false
	documentExtractor := ingestion_engine.NewPDFExtractor(useReadability)

	ingCfg := &ingestion_engine.IngestConfig{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		BatchSize:      cfg.BatchSize,
		Collection:     cfg.VectorCollection,
		SearchIndex:    cfg.SearchIndex,
		QueueSize:      cfg.IngestQueue,
		StorageTimeout: cfg.StorageTimeout,
		VectorTimeout:  cfg.VectorTimeout,
		SearchTimeout:  cfg.SearchTimeout,
		ProcessTimeout: cfg.ProcessTimeout,
	}
	a.DocProcessor = ingestion_engine.NewDocumentIngestor(dbClient, a.ObjectClient, a.Vectors, a.Search, documentExtractor, m, ingCfg)

	documents := services.NewDocumentService(dbClient, a.ObjectClient, a.Vectors, a.Search, a.DocProcessor, services.DocumentConfig{
		Collection:     cfg.VectorCollection,
		SearchIndex:    cfg.SearchIndex,
		StorageTimeout: cfg.StorageTimeout,
		VectorTimeout:  cfg.VectorTimeout,
		SearchTimeout:  cfg.SearchTimeout,
	})
	queries := services.NewQueryService(dbClient, a.Vectors, gen, m, services.QueryConfig{
		Collection:        cfg.VectorCollection,
		Model:             cfg.GenModel,
		VectorTimeout:     cfg.VectorTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
		StorageTimeout:    cfg.StorageTimeout,
		HealthTimeout:     cfg.HealthTimeout,
	})
	stats := services.NewStatisticsService(dbClient)

	a.Server = NewServer(cfg,
		handlers.NewDocumentHandler(documents),
		handlers.NewQueryHandler(queries),
		handlers.NewStatisticsHandler(stats),
		m,
	)
	return a, nil
}

func newObjectClient(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	if cfg.StorageBackend == "s3" {
		s3, err := objectclient.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := objectclient.NewLocalClient(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func (a *App) newProviders(ctx context.Context, cfg *config.Config) (core.LLMProvider, core.EmbeddingProvider, error) {
	switch cfg.LLMProvider {
	case "gemini":
		gen, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		a.closers = append(a.closers, gen)
		emb, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, emb)
		return gen, emb, nil
	default:
		ollama := llm.NewOllamaClient(cfg.OllamaURL, cfg.EmbedModel)
		return ollama, ollama, nil
	}
}

func (a *App) newVectorStore(cfg *config.Config, emb core.EmbeddingProvider) (core.VectorStore, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey, cfg.EmbedDim, emb)
		if err != nil {
			return nil, fmt.Errorf("couldn't connect to qdrant, %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return vectorstore.NewPgVectorStore(a.DBClient.DB(), emb), nil
	}
}

// Start prepares the collection and index, starts the workers, repairs state
// left by a previous run and finally serves HTTP in the background.
// Errors from the HTTP server are delivered on the returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ectx, cancel := context.WithTimeout(gctx, a.cfg.VectorTimeout)
		defer cancel()
		return a.Vectors.EnsureCollection(ectx, a.cfg.VectorCollection)
	})
	g.Go(func() error {
		ectx, cancel := context.WithTimeout(gctx, a.cfg.SearchTimeout)
		defer cancel()
		return a.Search.EnsureIndex(ectx, a.cfg.SearchIndex)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("prepare stores: %w", err)
	}

	a.DocProcessor.Start(ctx, a.cfg.IngestWorkers)
	if _, err := a.DocProcessor.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("recovery sweep failed")
	}

	errs := make(chan error, 1)
	go func() {
		errs <- a.Server.Start()
	}()
	return errs, nil
}

// Shutdown stops accepting requests and waits for running attempts to finish, or until ctx
// is done. Workers stop once the context passed to Start is done. Abandoned documents are
// left PROCESSING and are failed by the recovery sweep on the next start.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		a.DocProcessor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Strs("document_ids", a.DocProcessor.Pending()).Msg("shutdown: abandoning documents still in flight")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}
