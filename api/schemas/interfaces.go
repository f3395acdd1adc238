package schemas

import (
	"context"
	"time"
)

// -- Graph Store Interfaces --

// GraphSession is a short-lived handle to the graph store. Every call runs in
// its own transaction; a session must not be shared between overlapping
// ingestion calls and must always be closed.
//
//go:generate mockery --name GraphSession --output ../../internal/mocks --outpkg mocks
type GraphSession interface {
	// Write runs a parameterized write query and returns its rows.
	Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	// Read runs a parameterized read-only query and returns its rows.
	Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	// Close releases the session.
	Close(ctx context.Context) error
}

// GraphConnector owns the connection to the graph store and hands out sessions.
//
//go:generate mockery --name GraphConnector --output ../../internal/mocks --outpkg mocks
type GraphConnector interface {
	// Session opens a new session.
	Session(ctx context.Context) (GraphSession, error)
	// Close releases the underlying connection pool.
	Close(ctx context.Context) error
}

// FindingsArchive keeps raw finding batches so an ingestion can be replayed.
type FindingsArchive interface {
	// ArchiveBatch stores a batch under its fingerprint. Archiving an existing
	// fingerprint replaces it.
	ArchiveBatch(ctx context.Context, fingerprint string, findings []Finding) error
	// GetBatch returns the archived batch in its original order.
	GetBatch(ctx context.Context, fingerprint string) ([]Finding, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls the generation process, such as temperature and
// output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, requests a structured JSON response.
}

// GenerationRequest is a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
//
//go:generate mockery --name LLMClient --output ../../internal/mocks --outpkg mocks
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Ingestion Results --

// IngestionRun is the persisted idempotency record for a findings batch.
type IngestionRun struct {
	Fingerprint    string    `json:"fingerprint"`
	FindingCount   int       `json:"finding_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastIngestedAt time.Time `json:"last_ingested_at"`
}
