package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/agent"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/llmutil"
)

const answerSystemPrompt = `You are a security analyst answering questions about a vulnerability knowledge graph.
You receive the question, the highest risk findings (score = severity weight x (1 + blast radius)),
and the relationships that enrichment added between graph nodes.

Answer from the supplied data only. Cite the finding ids you rely on.
Respond with a single JSON object and nothing else:
{"answer": "...", "citations": ["finding id", ...]}`

type retrieval struct {
	Findings      []knowledgegraph.FindingContext
	Relationships []knowledgegraph.StoredRelationship
	LabelCounts   map[string]int
}

func (a *Analyst) tools() []agent.Tool[Context, ChatState] {
	return []agent.Tool[Context, ChatState]{
		agent.NewTool(ToolRetrieval, a.retrieve, func(s ChatState, d retrieval) ChatState {
			s.Findings = d.Findings
			s.Relationships = d.Relationships
			s.LabelCounts = d.LabelCounts
			return s
		}),
		agent.NewTool(ToolRiskRanking, a.rank, func(s ChatState, d []RankedFinding) ChatState {
			s.Ranked = d
			return s
		}),
		agent.NewTool(ToolDigest, a.digest, func(s ChatState, d []string) ChatState {
			s.Digest = d
			return s
		}),
		agent.NewTool(ToolAnswer, a.synthesize, func(s ChatState, d Answer) ChatState {
			s.Answer = d
			return s
		}),
	}
}

func (a *Analyst) retrieve(ctx context.Context, _ any, env Context, _ ChatState) (retrieval, string, error) {
	if env.Graph == nil {
		return retrieval{}, "", agent.NewToolError(agent.ErrCodeInvalidInput, fmt.Errorf("no graph reader configured"))
	}
	findings, err := env.Graph.FindingContexts(ctx, a.opts.RetrievalLimit)
	if err != nil {
		return retrieval{}, "", err
	}
	rels, err := env.Graph.AgentRelationships(ctx, a.opts.RetrievalLimit)
	if err != nil {
		return retrieval{}, "", err
	}
	counts, err := env.Graph.LabelCounts(ctx)
	if err != nil {
		return retrieval{}, "", err
	}
	return retrieval{Findings: findings, Relationships: rels, LabelCounts: counts},
		fmt.Sprintf("%d findings, %d enriched relationships", len(findings), len(rels)), nil
}

// RiskScore weighs a finding by severity and by how many assets its
// vulnerability reaches.
func RiskScore(f knowledgegraph.FindingContext) float64 {
	return f.Severity.Weight() * float64(1+f.BlastRadius)
}

// RankFindings orders findings by descending risk score, then by id, and keeps
// at most topN. topN <= 0 keeps all of them.
func RankFindings(findings []knowledgegraph.FindingContext, topN int) []RankedFinding {
	ranked := make([]RankedFinding, 0, len(findings))
	for _, f := range findings {
		ranked = append(ranked, RankedFinding{FindingContext: f, Score: RiskScore(f)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].FindingID < ranked[j].FindingID
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

func (a *Analyst) rank(_ context.Context, _ any, _ Context, state ChatState) ([]RankedFinding, string, error) {
	ranked := RankFindings(state.Findings, a.opts.TopN)
	return ranked, fmt.Sprintf("ranked %d of %d findings", len(ranked), len(state.Findings)), nil
}

// digest renders one line per enriched relationship, grouped by type.
func (a *Analyst) digest(_ context.Context, _ any, _ Context, state ChatState) ([]string, string, error) {
	rels := append([]knowledgegraph.StoredRelationship(nil), state.Relationships...)
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Type < rels[j].Type })

	lines := make([]string, 0, len(rels))
	types := map[string]int{}
	for _, r := range rels {
		types[r.Type]++
		line := fmt.Sprintf("%s: %s -> %s [%s]", r.Type, r.From, r.To, r.Provenance)
		if r.Rationale != "" {
			line += " " + r.Rationale
		}
		lines = append(lines, line)
	}
	return lines, fmt.Sprintf("%d relationships across %d types", len(lines), len(types)), nil
}

type answerPrompt struct {
	Question      string          `json:"question"`
	Ranked        []promptFinding `json:"ranked_findings"`
	Relationships []string        `json:"relationships"`
	LabelCounts   map[string]int  `json:"node_counts"`
}

type promptFinding struct {
	FindingID   string  `json:"finding_id"`
	Title       string  `json:"title"`
	Severity    string  `json:"severity"`
	Asset       string  `json:"asset,omitempty"`
	Service     string  `json:"service,omitempty"`
	CWE         string  `json:"cwe,omitempty"`
	BlastRadius int     `json:"blast_radius"`
	Score       float64 `json:"score"`
}

// synthesize asks the model for an answer. Without a model it succeeds with
// an empty answer and Ask composes one from the ranking.
func (a *Analyst) synthesize(ctx context.Context, _ any, env Context, state ChatState) (Answer, string, error) {
	if a.llm == nil {
		return Answer{}, "llm not configured", nil
	}

	prompt := answerPrompt{Question: env.Question, Relationships: state.Digest, LabelCounts: state.LabelCounts}
	for _, r := range state.Ranked {
		prompt.Ranked = append(prompt.Ranked, promptFinding{
			FindingID: r.FindingID, Title: r.Title, Severity: string(r.Severity.Normalize()),
			Asset: r.AssetID, Service: r.Service, CWE: r.CWEName,
			BlastRadius: r.BlastRadius, Score: r.Score,
		})
	}
	body, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(prompt, "", "  ")
	if err != nil {
		return Answer{}, "", fmt.Errorf("failed to encode analysis prompt: %w", err)
	}

	raw, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   string(body),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: a.opts.Temperature, ForceJSONFormat: true},
	})
	if err != nil {
		return Answer{}, "", fmt.Errorf("answer generation failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[Answer](raw)
	if err != nil {
		return Answer{}, "", err
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return Answer{}, "", fmt.Errorf("model returned an empty answer")
	}

	known := make(map[string]bool, len(state.Findings))
	for _, f := range state.Findings {
		known[f.FindingID] = true
	}
	citations := make([]string, 0, len(parsed.Citations))
	var unknown int
	for _, c := range parsed.Citations {
		if known[c] {
			citations = append(citations, c)
		} else {
			unknown++
		}
	}
	if unknown > 0 {
		a.logger.Warn("Dropped citations that reference unknown findings.", zap.Int("dropped", unknown))
	}

	return Answer{Text: strings.TrimSpace(parsed.Text), Citations: citations, Generated: true},
		fmt.Sprintf("answer with %d citations", len(citations)), nil
}

// fallbackAnswer lists the top ranked findings.
func fallbackAnswer(question string, state ChatState) Answer {
	if len(state.Ranked) == 0 {
		return Answer{Text: "No findings are stored in the graph yet.", Citations: []string{}}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Highest risk findings for %q:\n", question)
	citations := make([]string, 0, len(state.Ranked))
	for i, r := range state.Ranked {
		fmt.Fprintf(&b, "%d. [%s] %s (finding %s, score %.1f, blast radius %d",
			i+1, r.Severity.Normalize(), r.Title, r.FindingID, r.Score, r.BlastRadius)
		if r.AssetID != "" {
			fmt.Fprintf(&b, ", asset %s", r.AssetID)
		}
		b.WriteString(")\n")
		citations = append(citations, r.FindingID)
	}
	if n := len(state.Relationships); n > 0 {
		fmt.Fprintf(&b, "%d enriched relationships connect the stored findings.", n)
	}
	return Answer{Text: strings.TrimRight(b.String(), "\n"), Citations: citations}
}
