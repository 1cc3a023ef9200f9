package schema

// TipCategory classifies a generated tip.
type TipCategory string

const (
	TipCategoryStrategy     TipCategory = "strategy"
	TipCategoryRecovery     TipCategory = "recovery"
	TipCategoryOptimization TipCategory = "optimization"
)

// Tip is a structured recommendation distilled from a trajectory. Tips are
// persisted as entities of type "guideline" whose metadata carries the
// rationale, category, trigger and originating task description.
type Tip struct {
	Content   string      `json:"content" jsonschema:"required,description=Clear actionable tip"`
	Rationale string      `json:"rationale" jsonschema:"required,description=Why this tip helps"`
	Category  TipCategory `json:"category" jsonschema:"required,enum=strategy,enum=recovery,enum=optimization"`
	Trigger   string      `json:"trigger" jsonschema:"required,description=When to apply this tip"`
}

// TipGenerationResponse is the schema the LLM fills in for tip generation and
// cluster consolidation.
type TipGenerationResponse struct {
	Tips []Tip `json:"tips" jsonschema:"required"`
}

// TipGenerationResult pairs generated tips with the task description they
// were derived from.
type TipGenerationResult struct {
	Tips            []Tip
	TaskDescription string
}

// ConsolidationResult aggregates a consolidation run across clusters.
type ConsolidationResult struct {
	ClustersFound int `json:"clusters_found"`
	TipsBefore    int `json:"tips_before"`
	TipsAfter     int `json:"tips_after"`
}

// SyncResult summarizes one sync pass over the external trace store.
type SyncResult struct {
	Processed     int      `json:"processed"`
	Skipped       int      `json:"skipped"`
	TipsGenerated int      `json:"tips_generated"`
	Errors        []string `json:"errors"`
}

// EntityTypeGuideline and friends are the well-known entity types.
const (
	EntityTypeGuideline  = "guideline"
	EntityTypeTrajectory = "trajectory"
	EntityTypePolicy     = "policy"
)

// MetadataTaskDescription is the metadata key linking a guideline back to the
// task text it was learned from. Clustering groups guidelines by it.
const MetadataTaskDescription = "task_description"
