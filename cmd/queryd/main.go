// Queryd answers natural-language questions by planning, generating, and
// executing read-only queries against MySQL and InfluxDB backends.
//
// Configuration is loaded from a YAML file plus QUERYD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the server with defaults
//	queryd
//
//	# Start with a config file
//	queryd --config queryd.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/compress"
	"github.com/fyrsmithlabs/queryd/internal/config"
	"github.com/fyrsmithlabs/queryd/internal/database"
	"github.com/fyrsmithlabs/queryd/internal/embeddings"
	"github.com/fyrsmithlabs/queryd/internal/httpapi"
	"github.com/fyrsmithlabs/queryd/internal/llm"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/memory"
	"github.com/fyrsmithlabs/queryd/internal/orchestrator"
	"github.com/fyrsmithlabs/queryd/internal/plan"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
	"github.com/fyrsmithlabs/queryd/internal/search"
	"github.com/fyrsmithlabs/queryd/internal/session"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "queryd",
	Short:   "Natural-language query engine for MySQL and InfluxDB",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "queryd: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and blocks until the context is canceled.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting queryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	manager, err := initManager(cfg, deps, logger)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(manager, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	deps.archiver.OnFailure(srv.Metrics().ArchiveFailure)
	srv.RegisterMemoryStats(deps.archiver)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// dependencies holds infrastructure handles that need cleanup on exit.
type dependencies struct {
	store    *vectorstore.QdrantStore
	mysql    *database.MySQLExecutor
	influx   *database.InfluxDBExecutor
	sessions *session.Store
	archiver *memory.Archiver
	engine   *orchestrator.Engine
	logger   *zap.Logger
}

// Close releases infrastructure resources in reverse initialization order.
func (d *dependencies) Close() {
	if d.sessions != nil {
		if err := d.sessions.Close(); err != nil {
			d.logger.Warn("failed to close session store", zap.Error(err))
		}
	}
	if d.mysql != nil {
		if err := d.mysql.Close(); err != nil {
			d.logger.Warn("failed to close mysql connection", zap.Error(err))
		}
	}
	if d.influx != nil {
		if err := d.influx.Close(); err != nil {
			d.logger.Warn("failed to close influxdb connection", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close vector store", zap.Error(err))
		}
	}
}

// initDependencies connects to external services and builds the engine.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	model, err := llm.NewModel(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	planner, err := llm.NewPlanner(model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	generator, err := llm.NewGenerator(model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	embedSvc, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	logger.Info("embedding service initialized",
		zap.String("base_url", cfg.Embedding.BaseURL),
		zap.String("model", cfg.Embedding.Model))

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:         cfg.Qdrant.Host,
		Port:         cfg.Qdrant.Port,
		UseTLS:       cfg.Qdrant.UseTLS,
		VectorSize:   cfg.Qdrant.VectorSize,
		MaxRetries:   cfg.Qdrant.MaxRetries,
		RetryBackoff: cfg.Qdrant.RetryBackoff.Duration(),
	}, embedSvc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	logger.Info("vector store initialized",
		zap.String("host", cfg.Qdrant.Host),
		zap.Int("port", cfg.Qdrant.Port))

	deps := &dependencies{store: store, logger: logger}

	retrievers, err := initRetrievers(cfg, store, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.mysql, err = database.NewMySQLExecutor(database.MySQLConfig{
		Host:         cfg.MySQL.Host,
		Port:         cfg.MySQL.Port,
		User:         cfg.MySQL.User,
		Password:     cfg.MySQL.Password.Value(),
		Database:     cfg.MySQL.Database,
		QueryTimeout: cfg.MySQL.QueryTimeout.Duration(),
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	deps.influx, err = database.NewInfluxDBExecutor(database.InfluxDBConfig{
		Addr:         cfg.InfluxDB.Addr,
		Username:     cfg.InfluxDB.Username,
		Password:     cfg.InfluxDB.Password.Value(),
		Database:     cfg.InfluxDB.Database,
		QueryTimeout: cfg.InfluxDB.QueryTimeout.Duration(),
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to influxdb: %w", err)
	}

	executors := map[plan.Backend]orchestrator.Executor{
		plan.BackendMySQL:    deps.mysql,
		plan.BackendInfluxDB: deps.influx,
	}

	deps.engine, err = orchestrator.NewEngine(planner, generator, retrievers, executors, orchestrator.Config{
		MaxRetries:     cfg.Engine.MaxRetries,
		LowConfidence:  cfg.Engine.LowConfidence,
		WarnConfidence: cfg.Engine.WarnConfidence,
		StepTimeout:    cfg.Engine.StepTimeout.Duration(),
		Compress:       compressConfig(cfg),
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	deps.archiver, err = memory.NewArchiver(store, cfg.Qdrant.MemoryCollection, cfg.Qdrant.VectorSize, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create memory archiver: %w", err)
	}
	if err := store.EnsureCollection(ctx, cfg.Qdrant.MemoryCollection, cfg.Qdrant.VectorSize); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to ensure memory collection: %w", err)
	}
	logger.Info("memory collection verified",
		zap.String("collection", cfg.Qdrant.MemoryCollection),
		zap.Uint64("vector_size", cfg.Qdrant.VectorSize))

	return deps, nil
}

// initRetrievers builds one hybrid retriever per execution backend.
func initRetrievers(cfg *config.Config, store vectorstore.Store, logger *zap.Logger) (map[plan.Backend]orchestrator.SchemaRetriever, error) {
	retrievalCfg := retrieval.Config{
		TopK:        cfg.Engine.RetrievalTopK,
		SearchLimit: cfg.Engine.SearchLimit,
		FusionK:     cfg.Engine.FusionK,
	}

	backends := []struct {
		backend    plan.Backend
		index      string
		collection string
	}{
		{plan.BackendMySQL, cfg.Elasticsearch.MySQLIndex, cfg.Qdrant.MySQLCollection},
		{plan.BackendInfluxDB, cfg.Elasticsearch.InfluxIndex, cfg.Qdrant.InfluxCollection},
	}

	retrievers := make(map[plan.Backend]orchestrator.SchemaRetriever, len(backends))
	for _, b := range backends {
		keyword, err := search.NewSearcher(search.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password.Value(),
			Index:     b.index,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s keyword searcher: %w", b.backend, err)
		}
		semantic, err := vectorstore.NewSemanticSearcher(store, b.collection)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s semantic searcher: %w", b.backend, err)
		}
		retrievers[b.backend] = retrieval.NewRetriever(keyword, semantic, retrievalCfg, logger)
	}
	return retrievers, nil
}

// initManager builds the session layer on top of the engine.
func initManager(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*session.Manager, error) {
	var err error
	deps.sessions, err = session.NewStore(cfg.Session.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	manager, err := session.NewManager(deps.sessions, deps.engine, deps.archiver, deps.archiver, session.Config{
		Window: memory.WindowConfig{
			TrimThreshold: cfg.Session.TrimThreshold,
			KeepAfterTrim: cfg.Session.KeepAfterTrim,
		},
		MemoryLimit:     cfg.Engine.MemoryLimit,
		MemoryThreshold: float32(cfg.Engine.MemoryThreshold),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	return manager, nil
}

func compressConfig(cfg *config.Config) compress.Config {
	return compress.Config{
		MaxRows:   cfg.Engine.CompressMaxRows,
		MaxTokens: cfg.Engine.CompressMaxTokens,
	}
}
