package turn

import "context"

// ===============================================
// Conversation Messages
// ===============================================

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation context handed to the reasoner.
type Message struct {
	Role    Role
	Content string
}

// ===============================================
// Reasoner
// ===============================================

// RouteDecision is the reasoner's choice of retrieval strategy.
type RouteDecision string

const (
	RouteStructured RouteDecision = "structured"
	RouteSemantic   RouteDecision = "semantic"
)

// QueryPlan is an aggregation pipeline proposed by the reasoner. A nil plan
// or a plan without stages means no structured plan could be produced.
type QueryPlan struct {
	Collection string
	Stages     []map[string]any
	Rationale  string
}

func (p *QueryPlan) IsEmpty() bool {
	return p == nil || len(p.Stages) == 0
}

// Reasoner is the LLM gateway. Implementations own prompt construction and
// output parsing; the domain only sees typed decisions, plans and answers.
type Reasoner interface {
	Route(ctx context.Context, history []Message) (RouteDecision, error)
	Plan(ctx context.Context, history []Message) (*QueryPlan, error)
	Synthesize(ctx context.Context, history []Message, evidence *Evidence) (string, error)
}

// ===============================================
// Retrieval Backends
// ===============================================

// StructuredStore executes aggregation pipelines against the archived forum
// corpus. Errors from it are the retrieval_failure class.
type StructuredStore interface {
	Aggregate(ctx context.Context, collection string, stages []map[string]any) ([]map[string]any, error)
}

// Match is one semantic search result. Score and Permalink are pointers
// because upstream data is allowed to miss them; such matches are unusable
// as evidence and get dropped.
type Match struct {
	ItemID    string
	Score     *float64
	Title     string
	Permalink *string
	Snippet   string
	Upvotes   *int
}

// SimilaritySearch runs embedding-based search over the corpus.
type SimilaritySearch interface {
	Search(ctx context.Context, query string, topK int) ([]Match, error)
}

// ===============================================
// Evidence
// ===============================================

// Evidence is what retrieval hands to synthesis: structured rows or semantic
// matches, plus the replayable reference persisted with the turn.
type Evidence struct {
	Strategy Strategy
	Rows     []map[string]any
	Matches  []Match
	Ref      EvidenceRef
}
