package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/graphmodel"
	"github.com/xkilldash9x/vulngraph/internal/llmutil"
)

const relationshipSystemPrompt = `You are a security analyst building a vulnerability knowledge graph.
You receive a JSON array of scanner findings. Propose additional relationships between graph nodes that
the findings imply but do not state, such as findings that form an exploit chain, assets that share an
exposure, or vulnerabilities that enable one another.

Reference nodes by label and id. Valid labels: Finding, Scan, Scanner, Vulnerability, Asset, Service,
Cluster, Registry, Repository, SourceFile, Package. Finding ids are the finding_id values. Asset ids are
the asset_id values. Vulnerability ids are the vulnerability_id values. Package ids are the package_id values.

Respond with a single JSON object and nothing else:
{"edges": [{"type": "UPPER_SNAKE_CASE", "from": {"label": "...", "id": "..."}, "to": {"label": "...", "id": "..."}, "rationale": "one sentence", "properties": {"confidence": 0.0}}]}
Return {"edges": []} when nothing is warranted.`

// promptFinding is the compact form of a finding sent to the model.
type promptFinding struct {
	FindingID       string `json:"finding_id"`
	Scanner         string `json:"scanner"`
	ScanID          string `json:"scan_id"`
	Timestamp       string `json:"timestamp"`
	Title           string `json:"title"`
	Severity        string `json:"severity"`
	Vector          string `json:"vector,omitempty"`
	VulnerabilityID string `json:"vulnerability_id"`
	AssetID         string `json:"asset_id"`
	AssetType       string `json:"asset_type"`
	Service         string `json:"service,omitempty"`
	PackageID       string `json:"package_id,omitempty"`
}

type llmEdgesResponse struct {
	Edges *[]schemas.EdgeSuggestion `json:"edges"`
}

// LLMInferrer asks a language model for relationship suggestions.
type LLMInferrer struct {
	client      schemas.LLMClient
	logger      *zap.Logger
	temperature float64
	tier        schemas.ModelTier
}

// NewLLMInferrer creates an inferrer. A nil client yields an inferrer whose
// Infer is a no-op, which is how a missing LLM configuration degrades to
// heuristics only.
func NewLLMInferrer(client schemas.LLMClient, logger *zap.Logger, temperature float64) *LLMInferrer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMInferrer{
		client:      client,
		logger:      logger.Named("llm_inference"),
		temperature: temperature,
		tier:        schemas.TierPowerful,
	}
}

// Enabled reports whether a model is configured.
func (l *LLMInferrer) Enabled() bool {
	return l != nil && l.client != nil
}

// Infer makes one model call and returns its suggestions, each stamped with
// agent_source "llm" and provenance "agent_llm" unless the model set them.
func (l *LLMInferrer) Infer(ctx context.Context, findings []schemas.Finding) ([]schemas.EdgeSuggestion, error) {
	if !l.Enabled() {
		l.loggerOrNop().Debug("LLM not configured, skipping relationship inference.")
		return nil, nil
	}
	if len(findings) == 0 {
		return nil, nil
	}

	payload, err := json.ConfigCompatibleWithStandardLibrary.Marshal(compactFindings(findings))
	if err != nil {
		return nil, fmt.Errorf("failed to encode findings for the model: %w", err)
	}

	raw, err := l.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: relationshipSystemPrompt,
		UserPrompt:   string(payload),
		Tier:         l.tier,
		Options: schemas.GenerationOptions{
			Temperature:     l.temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm relationship request failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[llmEdgesResponse](raw)
	if err != nil {
		return nil, err
	}
	if parsed.Edges == nil {
		return nil, fmt.Errorf("llm response is missing the edges field: %s", llmutil.Truncate(raw, 200))
	}

	out := make([]schemas.EdgeSuggestion, 0, len(*parsed.Edges))
	for _, s := range *parsed.Edges {
		if s.Properties == nil {
			s.Properties = map[string]any{}
		}
		if src, _ := s.Properties[schemas.PropAgentSource].(string); strings.TrimSpace(src) == "" {
			s.Properties[schemas.PropAgentSource] = schemas.AgentSourceLLM
		}
		if prov, _ := s.Properties[schemas.PropProvenance].(string); strings.TrimSpace(prov) == "" {
			s.Properties[schemas.PropProvenance] = schemas.ProvenanceAgentLLM
		}
		out = append(out, s)
	}

	l.logger.Info("LLM relationship inference completed.",
		zap.Int("findings", len(findings)),
		zap.Int("suggestions", len(out)))
	return out, nil
}

func (l *LLMInferrer) loggerOrNop() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

func compactFindings(findings []schemas.Finding) []promptFinding {
	out := make([]promptFinding, 0, len(findings))
	for _, f := range findings {
		pf := promptFinding{
			FindingID:       f.ID,
			Scanner:         f.Scanner,
			ScanID:          f.ScanID,
			Timestamp:       f.Timestamp.UTC().Format(time.RFC3339),
			Title:           f.Vulnerability.Title,
			Severity:        string(f.Vulnerability.Severity),
			Vector:          f.Vulnerability.Vector,
			VulnerabilityID: graphmodel.VulnerabilityID(f.Vulnerability, f.Asset),
			AssetID:         graphmodel.AssetID(f.Asset),
			AssetType:       string(f.Asset.Type),
			Service:         f.Asset.Service,
		}
		if f.Package != nil && f.Package.Name != "" {
			pf.PackageID = f.Package.Key()
		}
		out = append(out, pf)
	}
	return out
}
