// Package llm delegates the pipeline's judgment calls to Gemini models, one
// budgeted model per task. Every call goes through its model's rate limiter;
// when a daily budget is gone the task degrades to a safe default instead of
// failing the run.
package llm

import (
	"context"

	"graphweaver/domain/graph"
)

// RelationContext is one relationship up for audit, with the display names
// and descriptions the model needs to judge it.
type RelationContext struct {
	Key         string `json:"key"`
	SourceName  string `json:"source_name"`
	TargetName  string `json:"target_name"`
	Type        string `json:"type"`
	Description any    `json:"description,omitempty"`
}

// Verdict is the audit outcome for one relationship.
type Verdict string

const (
	// VerdictDelete marks the relationship as fabricated or wrong.
	VerdictDelete Verdict = "delete"
	// VerdictKeep marks the relationship as genuine.
	VerdictKeep Verdict = "keep"
	// VerdictUnknown means the model abstained; the relationship is
	// re-queued for a later round.
	VerdictUnknown Verdict = "unknown"
)

// PRReview is the outcome of validating a contributed list diff.
type PRReview struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Service is the set of judgment tasks the pipeline delegates to a model.
type Service interface {
	// ParseWikitext extracts a graph fragment from one article's wikitext.
	ParseWikitext(ctx context.Context, title, category, wikitext string) (*graph.Document, error)

	// ShouldMerge decides whether fresh node data may overwrite the resident
	// node. Quota exhaustion defaults to true so fresher data wins.
	ShouldMerge(ctx context.Context, resident, fresh *graph.Node) (bool, error)

	// MergeItems combines two versions of the same entity into one node.
	MergeItems(ctx context.Context, resident, fresh *graph.Node) (*graph.Node, error)

	// ShouldMergeRelationship and MergeRelationships are the relationship
	// counterparts, sharing the node prompts and budgets.
	ShouldMergeRelationship(ctx context.Context, resident, fresh *graph.Relationship) (bool, error)
	MergeRelationships(ctx context.Context, resident, fresh *graph.Relationship) (*graph.Relationship, error)

	// AuditRelations judges a batch of relationships. Quota exhaustion
	// returns keep-everything verdicts.
	AuditRelations(ctx context.Context, batch []RelationContext) (map[string]Verdict, error)

	// ValidatePRDiff reviews a watch-list diff from an outside contributor.
	ValidatePRDiff(ctx context.Context, diff string) (PRReview, error)
}
