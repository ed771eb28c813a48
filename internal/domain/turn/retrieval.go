package turn

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"threadwise/query-api/internal/utils/stringutils"
)

// ===============================================
// Retriever
// ===============================================

// RetrieverConfig carries the corpus constraints every structured plan must
// honor before execution.
type RetrieverConfig struct {
	Community        string
	ThreadCollection string
	RecordCap        int
	TopK             int
}

// Retriever selects and executes a retrieval strategy: LLM-planned
// aggregation against the document store, or semantic search. An empty
// structured result is a valid low-signal outcome and falls back to
// semantic; only backend failures are errors.
type Retriever struct {
	reasoner Reasoner
	store    StructuredStore
	search   SimilaritySearch
	cfg      RetrieverConfig
	logger   zerolog.Logger
}

func NewRetriever(
	reasoner Reasoner,
	store StructuredStore,
	search SimilaritySearch,
	cfg RetrieverConfig,
	logger zerolog.Logger,
) *Retriever {
	return &Retriever{
		reasoner: reasoner,
		store:    store,
		search:   search,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve picks a strategy for the query and returns the evidence backing
// the eventual answer.
func (r *Retriever) Retrieve(ctx context.Context, history []Message, normalizedQuery string) (*Evidence, error) {
	decision, err := r.reasoner.Route(ctx, history)
	if err != nil {
		return nil, err
	}

	if decision == RouteStructured {
		evidence, err := r.tryStructured(ctx, history)
		if err != nil {
			return nil, err
		}
		if evidence != nil {
			return evidence, nil
		}
		r.logger.Debug().Str("query", normalizedQuery).Msg("structured retrieval empty, falling back to semantic")
	}

	return r.semantic(ctx, normalizedQuery)
}

// tryStructured returns (nil, nil) when there is no plan or the plan matched
// nothing, which sends the caller down the semantic path.
func (r *Retriever) tryStructured(ctx context.Context, history []Message) (*Evidence, error) {
	plan, err := r.reasoner.Plan(ctx, history)
	if err != nil {
		return nil, err
	}
	if plan.IsEmpty() {
		return nil, nil
	}

	stages := r.prepareStages(plan)

	rows, err := r.store.Aggregate(ctx, plan.Collection, stages)
	if err != nil {
		return nil, err
	}

	rows = filterCitableRows(rows)
	if len(rows) == 0 {
		return nil, nil
	}

	return &Evidence{
		Strategy: StrategyStructured,
		Rows:     rows,
		Ref: EvidenceRef{
			Strategy:   StrategyStructured,
			Collection: plan.Collection,
			Plan:       stages,
		},
	}, nil
}

func (r *Retriever) semantic(ctx context.Context, query string) (*Evidence, error) {
	matches, err := r.search.Search(ctx, query, r.cfg.TopK)
	if err != nil {
		return nil, err
	}

	matches = CitableMatches(matches)

	refs := make([]MatchRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, MatchRef{ItemID: m.ItemID, Score: *m.Score})
	}

	return &Evidence{
		Strategy: StrategySemantic,
		Matches:  matches,
		Ref: EvidenceRef{
			Strategy: StrategySemantic,
			Matches:  refs,
		},
	}, nil
}

// ===============================================
// Plan Hygiene
// ===============================================

// prepareStages rewrites a proposed pipeline so it can never leave the
// configured community, return embedding vectors, or exceed the record cap.
func (r *Retriever) prepareStages(plan *QueryPlan) []map[string]any {
	stages := make([]map[string]any, 0, len(plan.Stages)+3)

	stages = append(stages, map[string]any{
		"$match": map[string]any{"community": r.cfg.Community},
	})
	stages = append(stages, plan.Stages...)

	if plan.Collection == r.cfg.ThreadCollection {
		stages = append(stages, map[string]any{"$unset": "embedding"})
	}

	capped := false
	for _, stage := range stages {
		if raw, ok := stage["$limit"]; ok {
			if limit, ok := asInt(raw); ok && limit > r.cfg.RecordCap {
				stage["$limit"] = r.cfg.RecordCap
			}
			capped = true
		}
	}
	if !capped {
		stages = append(stages, map[string]any{"$limit": r.cfg.RecordCap})
	}

	return stages
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// ===============================================
// Usability Filters
// ===============================================

// CitableMatches drops matches that cannot be cited (null score or
// permalink), recovers missing titles from the permalink slug, deduplicates
// by item identity keeping the best score, and orders by score descending.
func CitableMatches(matches []Match) []Match {
	best := make(map[string]Match, len(matches))
	for _, m := range matches {
		if m.Score == nil || m.Permalink == nil || *m.Permalink == "" {
			continue
		}
		if m.Title == "" {
			m.Title = stringutils.TitleFromPermalink(*m.Permalink)
		}
		if prev, ok := best[m.ItemID]; ok && *prev.Score >= *m.Score {
			continue
		}
		best[m.ItemID] = m
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].Score > *out[j].Score
	})
	return out
}

// filterCitableRows drops aggregation rows that carry explicitly null score
// or permalink fields. Rows without those fields at all (counts, grouped
// stats) pass through untouched.
func filterCitableRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if hasNullField(row, "score") || hasNullField(row, "permalink") {
			continue
		}
		out = append(out, row)
	}
	return out
}

func hasNullField(row map[string]any, field string) bool {
	v, ok := row[field]
	return ok && v == nil
}
