package schemas

import "time"

// RelationshipCounts splits the persisted edges by origin.
type RelationshipCounts struct {
	Base  int `json:"base"`
	Agent int `json:"agent"`
}

// AppliedRelationship describes an agent-suggested edge that survived merging.
type AppliedRelationship struct {
	Type       RelationshipType `json:"type"`
	From       NodeRef          `json:"from"`
	To         NodeRef          `json:"to"`
	Provenance string           `json:"provenance"`
	Rationale  string           `json:"rationale,omitempty"`
}

// StepSummary is the condensed form of an agent step record.
type StepSummary struct {
	Tool     string        `json:"tool"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// IngestResult is returned by the ingestion entry point.
type IngestResult struct {
	Fingerprint        string                `json:"fingerprint,omitempty"`
	FindingCount       int                   `json:"finding_count"`
	NodesCreated       int                   `json:"nodes_created"`
	EdgesCreated       int                   `json:"edges_created"`
	RelationshipCounts RelationshipCounts    `json:"relationship_counts"`
	AgentRelationships []AppliedRelationship `json:"agent_relationships"`
	DroppedSuggestions int                   `json:"dropped_suggestions"`
	Steps              []StepSummary         `json:"steps,omitempty"`
	Skipped            bool                  `json:"skipped"`
}
