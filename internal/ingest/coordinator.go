// Package ingest turns a findings batch into persisted graph state: it
// builds the base graph, runs enrichment, merges edges and writes the result
// to the graph store, skipping batches it has already ingested.
package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/enrichment"
	"github.com/xkilldash9x/vulngraph/internal/graphmodel"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/merge"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

const lockPrefix = "vulngraph:ingest:"

// Enricher produces agent suggestions for a batch.
type Enricher interface {
	Enrich(ctx context.Context, findings []schemas.Finding) agent.RunResult[enrichment.State]
}

// Options configures a Coordinator.
type Options struct {
	// Fingerprinting enables the ingestion ledger: batches that were already
	// ingested are skipped and new ones are recorded.
	Fingerprinting bool
	// EnsureSchema creates store constraints before the first write.
	EnsureSchema bool
	// Archive receives every written batch. Optional.
	Archive schemas.FindingsArchive
	// Locker serializes overlapping calls. A LocalLocker is used when nil.
	Locker         Locker
	TracerProvider trace.TracerProvider
	Clock          func() time.Time
}

// Coordinator runs ingestion calls. One Coordinator may be shared; each call
// opens and closes its own store sessions.
type Coordinator struct {
	connector schemas.GraphConnector
	builder   *graphmodel.Builder
	enricher  Enricher
	merger    *merge.Merger
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewCoordinator wires a Coordinator. enricher may be nil to ingest base
// edges only.
func NewCoordinator(connector schemas.GraphConnector, builder *graphmodel.Builder, enricher Enricher, logger *zap.Logger, opts Options) *Coordinator {
	if builder == nil {
		builder = graphmodel.NewBuilder()
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		connector: connector,
		builder:   builder,
		enricher:  enricher,
		merger:    merge.NewMerger(logger),
		opts:      opts,
		logger:    observability.Named(logger, "ingest"),
		tracer:    observability.TracerFrom(opts.TracerProvider, "ingest"),
	}
}

// Validate checks a batch before anything else happens to it.
func Validate(findings []schemas.Finding) error {
	if len(findings) == 0 {
		return ErrEmptyInput
	}
	for i, f := range findings {
		if err := f.Validate(); err != nil {
			return &InputError{Index: i, FindingID: f.ID, Err: err}
		}
	}
	return nil
}

// Ingest processes one batch. A batch whose fingerprint is already in the
// ledger returns a skipped result without writing anything.
func (c *Coordinator) Ingest(ctx context.Context, findings []schemas.Finding) (result schemas.IngestResult, err error) {
	if err := Validate(findings); err != nil {
		return schemas.IngestResult{}, err
	}

	ctx, span := c.tracer.Start(ctx, "ingest.batch", trace.WithAttributes(attribute.Int("findings", len(findings))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("skipped", result.Skipped))
		span.End()
	}()

	fingerprint, err := Fingerprint(findings)
	if err != nil {
		return schemas.IngestResult{}, err
	}
	span.SetAttributes(attribute.String("fingerprint", fingerprint))

	release, err := c.opts.Locker.Acquire(ctx, lockPrefix+fingerprint)
	if err != nil {
		return schemas.IngestResult{}, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			c.logger.Warn("Failed to release ingestion lock.", zap.Error(rerr))
		}
	}()

	result = schemas.IngestResult{Fingerprint: fingerprint, FindingCount: len(findings)}

	if c.opts.Fingerprinting {
		run, found, err := c.lookupRun(ctx, fingerprint)
		if err != nil {
			return schemas.IngestResult{}, err
		}
		if found {
			c.logger.Info("Batch already ingested, skipping.",
				zap.String("fingerprint", fingerprint),
				zap.Time("last_ingested_at", run.LastIngestedAt))
			result.Skipped = true
			return result, nil
		}
	}

	payload := c.builder.Build(findings)

	var suggestions []schemas.EdgeSuggestion
	if c.enricher != nil {
		run := c.enricher.Enrich(ctx, findings)
		suggestions = run.State.Suggestions
		result.Steps = summarizeSteps(run.Steps)
	}

	merged := c.merger.Merge(payload.Nodes, payload.Edges, suggestions)

	if err := c.persist(ctx, fingerprint, findings, payload.Nodes, merged.Edges, &result); err != nil {
		c.logger.Error("Ingestion failed while writing to the graph store.",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return schemas.IngestResult{}, err
	}

	result.RelationshipCounts = schemas.RelationshipCounts{Base: merged.BaseCount, Agent: merged.AgentCount}
	result.AgentRelationships = merged.Applied
	if result.AgentRelationships == nil {
		result.AgentRelationships = []schemas.AppliedRelationship{}
	}
	result.DroppedSuggestions = len(merged.Dropped)

	if c.opts.Archive != nil {
		if err := c.opts.Archive.ArchiveBatch(ctx, fingerprint, findings); err != nil {
			c.logger.Warn("Failed to archive findings batch.", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
	}

	c.logger.Info("Ingestion completed.",
		zap.String("fingerprint", fingerprint),
		zap.Int("findings", result.FindingCount),
		zap.Int("nodes", result.NodesCreated),
		zap.Int("edges", result.EdgesCreated),
		zap.Int("base_relationships", result.RelationshipCounts.Base),
		zap.Int("agent_relationships", result.RelationshipCounts.Agent),
		zap.Int("dropped_suggestions", result.DroppedSuggestions))
	return result, nil
}

func (c *Coordinator) lookupRun(ctx context.Context, fingerprint string) (schemas.IngestionRun, bool, error) {
	session, err := c.connector.Session(ctx)
	if err != nil {
		return schemas.IngestionRun{}, false, &StoreError{Op: "open session", Err: err}
	}
	defer c.closeSession(ctx, session)

	run, found, err := knowledgegraph.NewRepository(session, c.logger).FindIngestionRun(ctx, fingerprint)
	if err != nil {
		return schemas.IngestionRun{}, false, &StoreError{Op: "find ingestion run", Err: err}
	}
	return run, found, nil
}

// persist writes nodes, then edges, then the ledger entry, on one session.
func (c *Coordinator) persist(ctx context.Context, fingerprint string, findings []schemas.Finding, nodes []schemas.Node, edges []schemas.Edge, result *schemas.IngestResult) error {
	session, err := c.connector.Session(ctx)
	if err != nil {
		return &StoreError{Op: "open session", Err: err}
	}
	defer c.closeSession(ctx, session)

	repo := knowledgegraph.NewRepository(session, c.logger)
	if c.opts.EnsureSchema {
		repo.EnsureSchema(ctx)
	}

	n, err := repo.UpsertNodes(ctx, nodes)
	result.NodesCreated = n
	if err != nil {
		return &StoreError{Op: "upsert nodes", Err: err}
	}
	e, err := repo.UpsertEdges(ctx, edges)
	result.EdgesCreated = e
	if err != nil {
		return &StoreError{Op: "upsert edges", Err: err}
	}
	if c.opts.Fingerprinting {
		if err := repo.RecordIngestionRun(ctx, fingerprint, len(findings), c.opts.Clock()); err != nil {
			return &StoreError{Op: "record ingestion run", Err: err}
		}
	}
	return nil
}

func (c *Coordinator) closeSession(ctx context.Context, session schemas.GraphSession) {
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("Failed to close graph session.", zap.Error(err))
	}
}

func summarizeSteps(records []agent.StepRecord) []schemas.StepSummary {
	out := make([]schemas.StepSummary, 0, len(records))
	for _, r := range records {
		out = append(out, schemas.StepSummary{
			Tool:     r.Tool,
			Summary:  r.Summary,
			Error:    r.Error,
			Duration: r.Duration,
		})
	}
	return out
}
