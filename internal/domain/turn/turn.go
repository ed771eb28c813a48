package turn

import (
	"context"
	"strings"
	"time"

	"threadwise/query-api/internal/domain/query"
)

// ===============================================
// Turn Types
// ===============================================

// Strategy identifies which retrieval path produced the evidence for a turn.
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategyStructured Strategy = "structured"
	StrategySemantic   Strategy = "semantic"
)

// ErrorKind classifies a failed turn. Document-store failures are tagged
// apart from everything else so operators can tell data problems from
// reasoner problems.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = "none"
	ErrorKindRetrieval ErrorKind = "retrieval_failure"
	ErrorKindOther     ErrorKind = "other"
)

const (
	// IDPrefix is the public ID prefix for turns; a chat is identified by
	// the public ID of its first turn.
	IDPrefix = "turn"

	// ChatPageSize is the fixed page size for chat listings.
	ChatPageSize = 25
)

// ===============================================
// Turn Structure
// ===============================================

// Turn is one question/answer exchange. Successful and exhausted-retry turns
// are both persisted; only the final state of a submission ever hits the
// database.
type Turn struct {
	ID              uint
	PublicID        string // e.g. "turn_a3f8d2k9p1m4n7q2"
	ChatPublicID    string // public ID of the chat's first turn; immutable
	Owner           string
	Query           string
	NormalizedQuery string
	Response        *string
	StrategyUsed    Strategy
	Evidence        *EvidenceRef
	IsError         bool
	ErrorKind       ErrorKind
	ErrorDetail     *string
	RetryCount      int
	ReuseCount      int64
	Votes           map[string]int // voter -> -1|0|1; absent reads as 0
	IsDeleted       bool
	CacheBucket     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EvidenceRef records what backed an answer in replayable form: the executed
// plan for structured retrieval, the scored match list for semantic.
type EvidenceRef struct {
	Strategy   Strategy         `json:"strategy"`
	Collection string           `json:"collection,omitempty"`
	Plan       []map[string]any `json:"plan,omitempty"`
	Matches    []MatchRef       `json:"matches,omitempty"`
}

// MatchRef is the persisted shape of a semantic match: identity plus score.
type MatchRef struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// VoteOf returns the recorded vote of user, defaulting to 0.
func (t *Turn) VoteOf(user string) int {
	if t.Votes == nil {
		return 0
	}
	return t.Votes[user]
}

// ChatPreview is one row of a chat listing: the earliest turn of a chat.
type ChatPreview struct {
	ChatPublicID string
	Query        string
	CreatedAt    time.Time
}

// ===============================================
// Turn Factory Functions
// ===============================================

// NormalizeQuery collapses runs of whitespace to single spaces, trims, and
// lowercases. The normalized form is the cache key.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// CacheBucketFor maps a creation time onto the freshness window grid. Two
// submissions of the same normalized query in the same bucket converge on a
// single row.
func CacheBucketFor(createdAt time.Time, window time.Duration) int64 {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return createdAt.Unix() / seconds
}

// NewTurn creates a pending turn. chatPublicID may equal publicID when this
// turn opens a new chat.
func NewTurn(publicID, chatPublicID, owner, rawQuery string, window time.Duration) *Turn {
	now := time.Now().UTC()
	return &Turn{
		PublicID:        publicID,
		ChatPublicID:    chatPublicID,
		Owner:           owner,
		Query:           rawQuery,
		NormalizedQuery: NormalizeQuery(rawQuery),
		StrategyUsed:    StrategyNone,
		ErrorKind:       ErrorKindNone,
		Votes:           make(map[string]int),
		CacheBucket:     CacheBucketFor(now, window),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ===============================================
// Turn Repository
// ===============================================

type Repository interface {
	// FindFreshByQuery returns the newest non-deleted turn with this
	// normalized query created at or after since, or nil when none exists.
	FindFreshByQuery(ctx context.Context, normalizedQuery string, since time.Time) (*Turn, error)

	// TouchReuse bumps updated_at and increments the reuse counter.
	TouchReuse(ctx context.Context, id uint) error

	// UpsertInWindow persists a finished turn with a single conditional
	// insert-or-update keyed on (normalized_query, cache_bucket). The
	// returned turn is the surviving row, which on conflict keeps its
	// original chat, owner and creation time.
	UpsertInWindow(ctx context.Context, t *Turn) (*Turn, error)

	FindByPublicID(ctx context.Context, publicID string) (*Turn, error)
	ListByChat(ctx context.Context, chatPublicID string) ([]*Turn, error)
	ListChatPreviews(ctx context.Context, owner string, pagination *query.Pagination) ([]*ChatPreview, error)

	// SetVote records voter's vote on a turn in one statement and reports
	// whether a live row matched.
	SetVote(ctx context.Context, publicID, voter string, value int) (bool, error)

	// SoftDeleteChat flags every live turn of the chat owned by owner and
	// returns how many rows changed.
	SoftDeleteChat(ctx context.Context, chatPublicID, owner string) (int64, error)

	// PurgeDeletedBefore hard-deletes soft-deleted rows last touched before
	// cutoff and returns how many were removed.
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
