package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threadwise/query-api/internal/domain/query"
	"threadwise/query-api/internal/infrastructure/metrics"
	"threadwise/query-api/internal/utils/idgen"
	"threadwise/query-api/internal/utils/platformerrors"
)

// ===============================================
// Service Types
// ===============================================

// ServiceConfig carries the orchestration bounds.
type ServiceConfig struct {
	// CacheWindow is how long a persisted answer satisfies repeat queries.
	CacheWindow time.Duration
	// MaxAttempts bounds the retrieve+synthesize loop per submission.
	MaxAttempts int
}

type SubmitInput struct {
	Query string
	Owner string
	// ChatID continues an existing chat; empty starts a new one.
	ChatID string
}

type SubmitResult struct {
	TurnID   string
	ChatID   string
	Answer   string
	Strategy Strategy
	UserVote int
	CacheHit bool
}

type TurnView struct {
	TurnID    string
	ChatID    string
	Query     string
	Response  *string
	Strategy  Strategy
	IsError   bool
	UserVote  int
	CreatedAt time.Time
}

type ChatView struct {
	ChatID  string
	IsOwner bool
	Turns   []TurnView
}

// Service orchestrates turns: cache probe, bounded retrieval/synthesis
// attempts, a single final persist, and the vote/chat read paths.
type Service struct {
	repo      Repository
	retriever *Retriever
	reasoner  Reasoner
	cfg       ServiceConfig
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	retriever *Retriever,
	reasoner Reasoner,
	cfg ServiceConfig,
	logger zerolog.Logger,
) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Service{
		repo:      repo,
		retriever: retriever,
		reasoner:  reasoner,
		cfg:       cfg,
		logger:    logger,
	}
}

// ===============================================
// Submit
// ===============================================

// SubmitTurn answers a question, serving from the cache when a fresh answer
// for the same normalized query exists. Exactly one row is written per
// submission, whether the attempts succeed or exhaust. On exhaustion the
// returned result still carries the persisted turn/chat IDs next to the
// typed error.
func (s *Service) SubmitTurn(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	normalized := NormalizeQuery(input.Query)
	if normalized == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "query must not be empty", nil,
			"c2f7a9d1-4e83-4b60-9f2a-7d15c8e03b46")
	}
	if input.Owner == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "owner must not be empty", nil,
			"5d0b3e87-91af-4c52-b8d4-f6a2c90e1753")
	}
	if input.ChatID != "" && !idgen.ValidateIDFormat(input.ChatID, IDPrefix) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "malformed chat id", nil,
			"e9c41b5f-2078-4a3d-86e1-3b9f57d2ca08")
	}

	now := time.Now().UTC()
	cached, err := s.repo.FindFreshByQuery(ctx, normalized, now.Add(-s.cfg.CacheWindow))
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "cache probe failed")
	}
	if cached != nil {
		if !cached.IsError && cached.Response != nil {
			metrics.RecordCacheLookup(true)
			if err := s.repo.TouchReuse(ctx, cached.ID); err != nil {
				s.logger.Warn().Err(err).Str("turn_id", cached.PublicID).Msg("failed to bump reuse metadata")
			}
			return &SubmitResult{
				TurnID:   cached.PublicID,
				ChatID:   cached.ChatPublicID,
				Answer:   *cached.Response,
				Strategy: cached.StrategyUsed,
				UserVote: cached.VoteOf(input.Owner),
				CacheHit: true,
			}, nil
		}
		// A cached failure never short-circuits: the same question gets a
		// live attempt, and the fresh outcome lands on the same row.
		s.logger.Info().Str("turn_id", cached.PublicID).Msg("fresh error record found, retrying live")
	}
	metrics.RecordCacheLookup(false)

	publicID, err := idgen.GenerateSecureID(IDPrefix, 16)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "generate turn id")
	}
	chatID := input.ChatID
	if chatID == "" {
		chatID = publicID
	}

	history, err := s.conversationHistory(ctx, input.ChatID, input.Query)
	if err != nil {
		return nil, err
	}

	pending := NewTurn(publicID, chatID, input.Owner, input.Query, s.cfg.CacheWindow)

	answer, strategy, evidenceRef, attemptErr, failedStage, attempts := s.attemptLoop(ctx, history, normalized)
	pending.RetryCount = attempts
	if attemptErr == nil {
		pending.Response = &answer
		pending.StrategyUsed = strategy
		pending.Evidence = evidenceRef
	} else {
		detail := attemptErr.Error()
		pending.IsError = true
		pending.ErrorKind = classifyErrorKind(attemptErr)
		pending.ErrorDetail = &detail
	}

	persisted, err := s.repo.UpsertInWindow(ctx, pending)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist turn")
	}

	result := &SubmitResult{
		TurnID:   persisted.PublicID,
		ChatID:   persisted.ChatPublicID,
		Strategy: persisted.StrategyUsed,
		UserVote: persisted.VoteOf(input.Owner),
	}

	if attemptErr != nil {
		metrics.RecordTurnPersisted("failed")
		errType := platformerrors.ErrorTypeRetrieval
		if failedStage == stageSynthesis {
			errType = platformerrors.ErrorTypeSynthesis
		}
		return result, platformerrors.NewError(ctx, platformerrors.LayerDomain, errType,
			fmt.Sprintf("turn failed after %d attempts", attempts), attemptErr,
			"1a6e84d3-9c50-4b27-a8f1-d05e72c3b916")
	}

	metrics.RecordTurnPersisted("answered")
	result.Answer = *persisted.Response
	return result, nil
}

type attemptStage string

const (
	stageRetrieval attemptStage = "retrieval"
	stageSynthesis attemptStage = "synthesis"
)

// attemptLoop runs up to MaxAttempts retrieve+synthesize rounds. It never
// persists; the caller writes the final state exactly once.
func (s *Service) attemptLoop(ctx context.Context, history []Message, normalized string) (answer string, strategy Strategy, ref *EvidenceRef, lastErr error, failedStage attemptStage, attempts int) {
	for attempts = 1; attempts <= s.cfg.MaxAttempts; attempts++ {
		evidence, err := s.retriever.Retrieve(ctx, history, normalized)
		if err != nil {
			lastErr = err
			failedStage = stageRetrieval
			metrics.RecordAttempt(string(stageRetrieval), false)
			s.logger.Warn().Err(err).Int("attempt", attempts).Msg("retrieval attempt failed")
			continue
		}
		metrics.RecordAttempt(string(stageRetrieval), true)

		answer, err = s.reasoner.Synthesize(ctx, history, evidence)
		if err != nil {
			lastErr = err
			failedStage = stageSynthesis
			metrics.RecordAttempt(string(stageSynthesis), false)
			s.logger.Warn().Err(err).Int("attempt", attempts).Msg("synthesis attempt failed")
			continue
		}
		metrics.RecordAttempt(string(stageSynthesis), true)

		refCopy := evidence.Ref
		return answer, evidence.Strategy, &refCopy, nil, "", attempts
	}
	return "", StrategyNone, nil, lastErr, failedStage, s.cfg.MaxAttempts
}

// conversationHistory loads prior turns of the chat, oldest first, and
// appends the current question.
func (s *Service) conversationHistory(ctx context.Context, chatID, rawQuery string) ([]Message, error) {
	var history []Message
	if chatID != "" {
		prior, err := s.repo.ListByChat(ctx, chatID)
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "load chat history")
		}
		for _, t := range prior {
			history = append(history, Message{Role: RoleUser, Content: t.Query})
			if t.Response != nil {
				history = append(history, Message{Role: RoleAssistant, Content: *t.Response})
			}
		}
	}
	history = append(history, Message{Role: RoleUser, Content: rawQuery})
	return history, nil
}

func classifyErrorKind(err error) ErrorKind {
	if platformerrors.IsErrorType(err, platformerrors.ErrorTypeRetrieval) {
		return ErrorKindRetrieval
	}
	return ErrorKindOther
}

// ===============================================
// Votes
// ===============================================

// Vote records voter's vote on a turn. Votes are idempotent: re-sending the
// same value is a no-op, 0 clears, and only the latest value per voter is
// kept.
func (s *Service) Vote(ctx context.Context, turnID, voter string, value int) error {
	if value < -1 || value > 1 {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "vote must be -1, 0 or 1", nil,
			"7b92f0c4-d1a8-4e65-93b7-28c5a6f41d30")
	}
	if voter == "" {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "voter must not be empty", nil,
			"4fd8217a-63b9-40ce-a1f5-90e3d7b8c254")
	}
	if !idgen.ValidateIDFormat(turnID, IDPrefix) {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "turn not found", nil,
			"8e35ac90-17f4-4d2b-b6c8-5a09e14d73f2")
	}

	matched, err := s.repo.SetVote(ctx, turnID, voter, value)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "record vote")
	}
	if !matched {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "turn not found", nil,
			"d30c68f1-b5e2-49a7-8d41-f76209e3ab58")
	}

	metrics.RecordVote(value)
	return nil
}

// ===============================================
// Reads
// ===============================================

// GetTurn returns a single live turn with the requester's vote projected.
func (s *Service) GetTurn(ctx context.Context, turnID, requester string) (*TurnView, error) {
	if !idgen.ValidateIDFormat(turnID, IDPrefix) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "turn not found", nil,
			"f41d7a26-80c3-4e9b-95d2-6b38e105c7a9")
	}

	t, err := s.repo.FindByPublicID(ctx, turnID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "load turn")
	}

	view := turnView(t, requester)
	return &view, nil
}

// GetChat returns every live turn of a chat in order. Requesters other than
// the owner still read the chat but are marked as non-owners.
func (s *Service) GetChat(ctx context.Context, chatID, requester string) (*ChatView, error) {
	if !idgen.ValidateIDFormat(chatID, IDPrefix) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "chat not found", nil,
			"2c85b1f9-6da4-4703-9e58-c1b07f4a62d3")
	}

	turns, err := s.repo.ListByChat(ctx, chatID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "load chat")
	}
	if len(turns) == 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "chat not found", nil,
			"96e32d07-4cb8-45f1-a6d9-830b5c7e21fa")
	}

	view := &ChatView{
		ChatID:  chatID,
		IsOwner: turns[0].Owner == requester,
		Turns:   make([]TurnView, 0, len(turns)),
	}
	for _, t := range turns {
		view.Turns = append(view.Turns, turnView(t, requester))
	}
	return view, nil
}

// ListChats returns one page (25 rows) of the owner's chats, previewed by
// each chat's earliest turn, newest chats first. A page past the end is an
// empty list, not an error.
func (s *Service) ListChats(ctx context.Context, owner string, page int) ([]*ChatPreview, error) {
	if owner == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, "owner must not be empty", nil,
			"0da95c72-e816-4f30-b24a-79c3f58d10e6")
	}
	if page < 0 {
		page = 0
	}

	previews, err := s.repo.ListChatPreviews(ctx, owner, query.NewPagination(ChatPageSize, page*ChatPageSize))
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list chats")
	}
	return previews, nil
}

// DeleteChat soft-deletes every turn of the chat. Malformed IDs, unknown
// chats and chats owned by someone else all answer not-found so deletion
// never leaks existence.
func (s *Service) DeleteChat(ctx context.Context, chatID, requester string) error {
	if !idgen.ValidateIDFormat(chatID, IDPrefix) {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "chat not found", nil,
			"61f0b8d5-3a29-4c74-8e16-d97c20a5f483")
	}

	affected, err := s.repo.SoftDeleteChat(ctx, chatID, requester)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "delete chat")
	}
	if affected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, "chat not found", nil,
			"ba47e913-05d6-4f82-a3c0-618b92f7d5ce")
	}
	return nil
}

func turnView(t *Turn, requester string) TurnView {
	return TurnView{
		TurnID:    t.PublicID,
		ChatID:    t.ChatPublicID,
		Query:     t.Query,
		Response:  t.Response,
		Strategy:  t.StrategyUsed,
		IsError:   t.IsError,
		UserVote:  t.VoteOf(requester),
		CreatedAt: t.CreatedAt,
	}
}
