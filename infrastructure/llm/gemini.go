package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"graphweaver/domain/graph"
	"graphweaver/infrastructure/config"
	"graphweaver/infrastructure/ratelimit"
	"graphweaver/pkg/errors"
	"graphweaver/pkg/observability"
)

// Gemini implements Service on the Gemini API, one budgeted model per task.
type Gemini struct {
	client  *genai.Client
	cfg     config.LLMConfig
	prompts *PromptSet

	parserLimiter   *ratelimit.ModelLimiter
	mergeCheck      *ratelimit.ModelLimiter
	mergeExecute    *ratelimit.ModelLimiter
	relationCleaner *ratelimit.ModelLimiter
	prValidator     *ratelimit.ModelLimiter

	// master graph snapshot used to sample few-shot examples for the parser
	fewShotSource *graph.Graph

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGemini builds the Gemini-backed service. Limiter counters are persisted
// under cacheDir so budgets survive restarts.
func NewGemini(ctx context.Context, cfg config.LLMConfig, nullCharge float64, cacheDir string, metrics *observability.Metrics, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, errors.NewInternal("failed to create genai client", err)
	}
	prompts, err := LoadPrompts(cfg.PromptsDir)
	if err != nil {
		return nil, err
	}

	limiter := func(m config.ModelLimits) *ratelimit.ModelLimiter {
		return ratelimit.NewModelLimiter(m.Model, m.RPM, m.RPD, m.CounterName, cacheDir, nullCharge, logger)
	}
	return &Gemini{
		client:          client,
		cfg:             cfg,
		prompts:         prompts,
		parserLimiter:   limiter(cfg.Parser),
		mergeCheck:      limiter(cfg.MergeCheck),
		mergeExecute:    limiter(cfg.MergeExecute),
		relationCleaner: limiter(cfg.RelationCleaner),
		prValidator:     limiter(cfg.PRValidator),
		metrics:         metrics,
		logger:          logger,
	}, nil
}

// SetFewShotSource attaches the master graph used to sample parser examples.
func (s *Gemini) SetFewShotSource(g *graph.Graph) { s.fewShotSource = g }

// Close releases the underlying API client.
func (s *Gemini) Close() error { return s.client.Close() }

// generate runs one prompt against the named model under its limiter and
// returns the raw text of the first candidate.
func (s *Gemini) generate(ctx context.Context, task, modelName, system, prompt string, limiter *ratelimit.ModelLimiter) (string, error) {
	out, err := ratelimit.Do(ctx, limiter, func(ctx context.Context) (string, error) {
		model := s.client.GenerativeModel(modelName)
		model.ResponseMIMEType = "application/json"
		if system != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", errors.Wrap(err, "generation failed for model "+modelName)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", errors.NewInternal("model returned no candidates", nil)
		}
		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		return sb.String(), nil
	})
	if err != nil {
		if errors.IsRateLimit(err) {
			s.metrics.QuotaExceeded.WithLabelValues(modelName).Inc()
			s.metrics.LLMCalls.WithLabelValues(task, "quota").Inc()
		} else {
			s.metrics.LLMCalls.WithLabelValues(task, "error").Inc()
		}
		return "", err
	}
	s.metrics.LLMCalls.WithLabelValues(task, "ok").Inc()
	return out, nil
}

// extractJSON strips markdown code fences the models sometimes wrap their
// output in.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}

// ParseWikitext extracts a graph fragment from one article.
func (s *Gemini) ParseWikitext(ctx context.Context, title, category, wikitext string) (*graph.Document, error) {
	fewShot := ""
	if s.fewShotSource != nil {
		fewShot = BuildFewShot(s.fewShotSource, s.cfg.FewShotNodeSamples, s.cfg.FewShotRelSamples, rand.New(rand.NewSource(rand.Int63())))
	}
	prompt := render(s.prompts.ParserSystem, map[string]string{
		"title":    title,
		"category": category,
		"examples": fewShot,
	}) + "\n\n" + wikitext

	raw, err := s.generate(ctx, "parse", s.cfg.Parser.Model, "", prompt, s.parserLimiter)
	if err != nil {
		return nil, err
	}

	var doc graph.Document
	if err := json.Unmarshal([]byte(extractJSON(raw)), &doc); err != nil {
		return nil, errors.NewInternal("parser returned unparseable JSON for "+title, err)
	}
	return &doc, nil
}

// propertiesView renders the payload the merge models are shown: the mutable
// properties and nothing else. Identity fields (id, names, endpoints) never
// enter a merge prompt.
func propertiesView(props map[string]any) string {
	if props == nil {
		props = map[string]any{}
	}
	return mustJSON(struct {
		Properties map[string]any `json:"properties"`
	}{Properties: props})
}

// ShouldMerge asks whether the fresh node's data should replace the resident
// node's. When the budget is gone the answer defaults to yes: fresher data
// winning is the cheaper mistake.
func (s *Gemini) ShouldMerge(ctx context.Context, resident, fresh *graph.Node) (bool, error) {
	prompt := render(s.prompts.MergeCheck, map[string]string{
		"existing": propertiesView(resident.Properties),
		"fresh":    propertiesView(fresh.Properties),
	})
	raw, err := s.generate(ctx, "merge_check", s.cfg.MergeCheck.Model, "", prompt, s.mergeCheck)
	if err != nil {
		if errors.IsRateLimit(err) {
			s.logger.Warn("merge-check budget exhausted, defaulting to merge",
				zap.String("node", resident.ID))
			return true, nil
		}
		return false, err
	}

	var verdict struct {
		Merge bool `json:"merge"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return false, errors.NewInternal("merge-check returned unparseable JSON", err)
	}
	return verdict.Merge, nil
}

// MergeItems combines two versions of the same entity. The model only ever
// sees and returns the properties payload; identity fields are carried over
// from the resident node.
func (s *Gemini) MergeItems(ctx context.Context, resident, fresh *graph.Node) (*graph.Node, error) {
	prompt := render(s.prompts.MergeExecute, map[string]string{
		"existing": propertiesView(resident.Properties),
		"fresh":    propertiesView(fresh.Properties),
	})
	raw, err := s.generate(ctx, "merge_execute", s.cfg.MergeExecute.Model, "", prompt, s.mergeExecute)
	if err != nil {
		if errors.IsRateLimit(err) {
			s.logger.Warn("merge-execute budget exhausted, keeping fresh node",
				zap.String("node", resident.ID))
			merged := fresh.Clone()
			merged.ID = resident.ID
			merged.Type = resident.Type
			merged.Name = resident.Name
			return merged, nil
		}
		return nil, err
	}

	var merged graph.Node
	if err := json.Unmarshal([]byte(extractJSON(raw)), &merged); err != nil {
		return nil, errors.NewInternal("merge-execute returned unparseable JSON", err)
	}
	merged.ID = resident.ID
	merged.Type = resident.Type
	merged.Name = resident.Name
	return &merged, nil
}

// ShouldMergeRelationship is ShouldMerge for edges; the same budget and
// default apply.
func (s *Gemini) ShouldMergeRelationship(ctx context.Context, resident, fresh *graph.Relationship) (bool, error) {
	prompt := render(s.prompts.MergeCheck, map[string]string{
		"existing": propertiesView(resident.Properties),
		"fresh":    propertiesView(fresh.Properties),
	})
	raw, err := s.generate(ctx, "merge_check", s.cfg.MergeCheck.Model, "", prompt, s.mergeCheck)
	if err != nil {
		if errors.IsRateLimit(err) {
			return true, nil
		}
		return false, err
	}
	var verdict struct {
		Merge bool `json:"merge"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return false, errors.NewInternal("merge-check returned unparseable JSON", err)
	}
	return verdict.Merge, nil
}

// MergeRelationships combines two versions of the same edge. Endpoints and
// type are restored afterwards.
func (s *Gemini) MergeRelationships(ctx context.Context, resident, fresh *graph.Relationship) (*graph.Relationship, error) {
	prompt := render(s.prompts.MergeExecute, map[string]string{
		"existing": propertiesView(resident.Properties),
		"fresh":    propertiesView(fresh.Properties),
	})
	raw, err := s.generate(ctx, "merge_execute", s.cfg.MergeExecute.Model, "", prompt, s.mergeExecute)
	if err != nil {
		if errors.IsRateLimit(err) {
			merged := fresh.Clone()
			merged.Source, merged.Target, merged.Type = resident.Source, resident.Target, resident.Type
			return merged, nil
		}
		return nil, err
	}
	var merged graph.Relationship
	if err := json.Unmarshal([]byte(extractJSON(raw)), &merged); err != nil {
		return nil, errors.NewInternal("merge-execute returned unparseable JSON", err)
	}
	merged.Source, merged.Target, merged.Type = resident.Source, resident.Target, resident.Type
	return &merged, nil
}

// AuditRelations judges a batch of relationships in one call. Quota
// exhaustion keeps everything.
func (s *Gemini) AuditRelations(ctx context.Context, batch []RelationContext) (map[string]Verdict, error) {
	if len(batch) == 0 {
		return map[string]Verdict{}, nil
	}
	payload, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode audit batch")
	}
	prompt := render(s.prompts.CleanSingleRelation, map[string]string{
		"relations": string(payload),
	})
	raw, err := s.generate(ctx, "relation_audit", s.cfg.RelationCleaner.Model, "", prompt, s.relationCleaner)
	if err != nil {
		if errors.IsRateLimit(err) {
			s.logger.Warn("relation-audit budget exhausted, keeping batch",
				zap.Int("batch_size", len(batch)))
			out := make(map[string]Verdict, len(batch))
			for _, rc := range batch {
				out[rc.Key] = VerdictKeep
			}
			return out, nil
		}
		return nil, err
	}

	var verdicts []struct {
		Key     string `json:"key"`
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdicts); err != nil {
		return nil, errors.NewInternal("relation-audit returned unparseable JSON", err)
	}

	out := make(map[string]Verdict, len(batch))
	for _, rc := range batch {
		out[rc.Key] = VerdictUnknown
	}
	for _, v := range verdicts {
		if _, ok := out[v.Key]; !ok {
			continue
		}
		switch strings.ToLower(v.Verdict) {
		case "delete", "false":
			out[v.Key] = VerdictDelete
		case "keep", "true":
			out[v.Key] = VerdictKeep
		}
	}
	return out, nil
}

// ValidatePRDiff reviews a contributed watch-list diff.
func (s *Gemini) ValidatePRDiff(ctx context.Context, diff string) (PRReview, error) {
	prompt := render(s.prompts.PRValidator, map[string]string{
		"diff": diff,
	})
	raw, err := s.generate(ctx, "pr_validate", s.cfg.PRValidator.Model, "", prompt, s.prValidator)
	if err != nil {
		if errors.IsRateLimit(err) {
			return PRReview{Approved: false, Reason: "validation budget exhausted, review manually"}, nil
		}
		return PRReview{}, err
	}

	var review PRReview
	if err := json.Unmarshal([]byte(extractJSON(raw)), &review); err != nil {
		return PRReview{}, errors.NewInternal("pr-validator returned unparseable JSON", err)
	}
	return review, nil
}

func mustJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
