package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/analysis"
	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/enrichment"
	"github.com/xkilldash9x/vulngraph/internal/graphmodel"
	"github.com/xkilldash9x/vulngraph/internal/inference"
	"github.com/xkilldash9x/vulngraph/internal/ingest"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/llmclient"
	"github.com/xkilldash9x/vulngraph/internal/store"
)

// findingsArchive is the archive surface the CLI needs.
type findingsArchive interface {
	schemas.FindingsArchive
	ListBatches(ctx context.Context, limit int) ([]store.BatchSummary, error)
}

// services holds the external collaborators of one command invocation.
type services struct {
	cfg       config.Interface
	logger    *zap.Logger
	connector schemas.GraphConnector
	llm       schemas.LLMClient
	locker    ingest.Locker
	archive   findingsArchive
	closers   []func(context.Context) error
}

// openServices connects to everything cfg describes. The Postgres archive is
// only opened when withArchive is set. Tests replace it.
var openServices = func(ctx context.Context, cfg config.Interface, logger *zap.Logger, withArchive bool) (*services, error) {
	s := &services{cfg: cfg, logger: logger}

	connector := knowledgegraph.NewNeo4jConnector(cfg.Graph(), logger)
	s.connector = connector
	s.closers = append(s.closers, connector.Close)

	llm, err := llmclient.NewClient(ctx, cfg.LLM(), logger)
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if llm != nil {
		s.llm = llm
		s.closers = append(s.closers, func(context.Context) error { return llm.Close() })
	} else {
		logger.Info("LLM not configured, using heuristic enrichment only.")
	}

	if cfg.Ingest().LockBackend == config.LockBackendRedis {
		rc := cfg.Redis()
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		s.locker = ingest.NewRedisLocker(client, cfg.Ingest().LockTTL, logger)
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
	}

	if withArchive {
		url := cfg.Database().URL
		if url == "" {
			s.Close(ctx)
			return nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL)", config.EnvPrefix)
		}
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })

		archive, err := store.New(ctx, pool, logger)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("failed to initialize findings archive: %w", err)
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.archive = archive
	}
	return s, nil
}

// Close releases everything in reverse order of acquisition.
func (s *services) Close(ctx context.Context) {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("Error during shutdown", zap.Error(err))
	}
}

// coordinator builds an ingestion coordinator. useArchive attaches the
// archive when one is open.
func (s *services) coordinator(fingerprinting, useArchive bool) (*ingest.Coordinator, error) {
	ecfg := s.cfg.Enrichment()
	inferrer := inference.NewLLMInferrer(s.llm, s.logger, s.cfg.LLM().Temperature)
	enricher, err := enrichment.NewEnricher(s.logger, inferrer, enrichment.Options{
		HeuristicsEnabled: ecfg.HeuristicsEnabled,
		LLMEnabled:        ecfg.LLMEnabled,
		MaxPairwiseGroup:  ecfg.MaxPairwiseGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize enrichment: %w", err)
	}

	opts := ingest.Options{
		Fingerprinting: fingerprinting,
		EnsureSchema:   s.cfg.Graph().EnsureSchema,
		Locker:         s.locker,
	}
	if useArchive && s.archive != nil {
		opts.Archive = s.archive
	}
	return ingest.NewCoordinator(s.connector, graphmodel.NewBuilder(), enricher, s.logger, opts), nil
}

// analyst builds the chat analysis runner.
func (s *services) analyst() (*analysis.Analyst, error) {
	return analysis.NewAnalyst(s.logger, s.llm, analysis.Options{
		TopN:        s.cfg.Analysis().TopN,
		Temperature: s.cfg.LLM().Temperature,
	})
}
