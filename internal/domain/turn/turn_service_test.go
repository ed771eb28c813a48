package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"threadwise/query-api/internal/domain/query"
	"threadwise/query-api/internal/utils/platformerrors"
)

// ===============================================
// Repository Fake
// ===============================================

type voteCall struct {
	publicID string
	voter    string
	value    int
}

type fakeRepo struct {
	fresh    *Turn
	freshErr error

	touched []uint

	upserted     []*Turn
	upsertResult *Turn // nil echoes the input

	byID   *Turn
	byChat []*Turn

	previews    []*ChatPreview
	gotPage     int
	gotOwner    string
	votes       []voteCall
	voteMatched bool

	softDeleted     int64
	gotDeleteChat   string
	gotDeleteOwner  string
	purged          int64
	gotPurgeCutoffs []time.Time
}

func (f *fakeRepo) FindFreshByQuery(ctx context.Context, normalizedQuery string, since time.Time) (*Turn, error) {
	return f.fresh, f.freshErr
}

func (f *fakeRepo) TouchReuse(ctx context.Context, id uint) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeRepo) UpsertInWindow(ctx context.Context, t *Turn) (*Turn, error) {
	f.upserted = append(f.upserted, t)
	if f.upsertResult != nil {
		return f.upsertResult, nil
	}
	return t, nil
}

func (f *fakeRepo) FindByPublicID(ctx context.Context, publicID string) (*Turn, error) {
	if f.byID == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeNotFound, "turn not found", nil,
			"00000000-0000-0000-0000-000000000000")
	}
	return f.byID, nil
}

func (f *fakeRepo) ListByChat(ctx context.Context, chatPublicID string) ([]*Turn, error) {
	return f.byChat, nil
}

func (f *fakeRepo) ListChatPreviews(ctx context.Context, owner string, pagination *query.Pagination) ([]*ChatPreview, error) {
	f.gotOwner = owner
	if pagination != nil && pagination.Offset != nil {
		f.gotPage = *pagination.Offset / ChatPageSize
	}
	return f.previews, nil
}

func (f *fakeRepo) SetVote(ctx context.Context, publicID, voter string, value int) (bool, error) {
	f.votes = append(f.votes, voteCall{publicID: publicID, voter: voter, value: value})
	return f.voteMatched, nil
}

func (f *fakeRepo) SoftDeleteChat(ctx context.Context, chatPublicID, owner string) (int64, error) {
	f.gotDeleteChat = chatPublicID
	f.gotDeleteOwner = owner
	return f.softDeleted, nil
}

func (f *fakeRepo) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.gotPurgeCutoffs = append(f.gotPurgeCutoffs, cutoff)
	return f.purged, nil
}

func newTestService(repo *fakeRepo, reasoner *fakeReasoner, store *fakeStore, search *fakeSearch) *Service {
	retriever := NewRetriever(reasoner, store, search, testRetrieverConfig(), zerolog.Nop())
	return NewService(repo, retriever, reasoner, ServiceConfig{
		CacheWindow: 24 * time.Hour,
		MaxAttempts: 3,
	}, zerolog.Nop())
}

func semanticFixtures() (*fakeReasoner, *fakeStore, *fakeSearch) {
	reasoner := &fakeReasoner{route: RouteSemantic, answer: "the answer"}
	search := &fakeSearch{matches: []Match{
		{ItemID: "t1", Score: floatPtr(0.9), Title: "hit", Permalink: strPtr("/r/sgexams/comments/a1/some_thread/")},
	}}
	return reasoner, &fakeStore{}, search
}

// ===============================================
// Submit
// ===============================================

func TestSubmitTurn_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input SubmitInput
	}{
		{name: "empty query", input: SubmitInput{Query: "   ", Owner: "alice"}},
		{name: "empty owner", input: SubmitInput{Query: "hello", Owner: ""}},
		{name: "malformed chat id", input: SubmitInput{Query: "hello", Owner: "alice", ChatID: "chat-123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{}
			svc := newTestService(repo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})

			_, err := svc.SubmitTurn(context.Background(), tt.input)
			if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation) {
				t.Errorf("SubmitTurn() error = %v, want validation error", err)
			}
			if len(repo.upserted) != 0 {
				t.Error("nothing should be persisted on validation failure")
			}
		})
	}
}

func TestSubmitTurn_CacheHit(t *testing.T) {
	answer := "cached answer"
	repo := &fakeRepo{fresh: &Turn{
		ID:           7,
		PublicID:     "turn_cachedcachedcac1",
		ChatPublicID: "turn_chatchatchatcha1",
		Owner:        "bob",
		Response:     &answer,
		StrategyUsed: StrategySemantic,
		Votes:        map[string]int{"alice": 1},
	}}
	reasoner, store, search := semanticFixtures()
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "Same Question", Owner: "alice"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if !result.CacheHit {
		t.Error("CacheHit = false, want true")
	}
	if result.Answer != answer {
		t.Errorf("Answer = %q, want %q", result.Answer, answer)
	}
	if result.TurnID != "turn_cachedcachedcac1" {
		t.Errorf("TurnID = %q", result.TurnID)
	}
	if result.UserVote != 1 {
		t.Errorf("UserVote = %d, want the requester's projected vote", result.UserVote)
	}
	if len(repo.touched) != 1 || repo.touched[0] != 7 {
		t.Errorf("reuse metadata not bumped: %v", repo.touched)
	}
	if len(repo.upserted) != 0 {
		t.Error("cache hit must not write a new row")
	}
	if reasoner.synthCalls != 0 || search.calls != 0 {
		t.Error("cache hit must not call any backend")
	}
}

func TestSubmitTurn_CachedErrorRetriesLive(t *testing.T) {
	detail := "aggregation timed out"
	repo := &fakeRepo{fresh: &Turn{
		ID:          3,
		PublicID:    "turn_failedfailedfa1",
		IsError:     true,
		ErrorKind:   ErrorKindRetrieval,
		ErrorDetail: &detail,
	}}
	reasoner, store, search := semanticFixtures()
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "retry me", Owner: "alice"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if result.CacheHit {
		t.Error("an error record must not satisfy a cache probe")
	}
	if result.Answer != "the answer" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if len(repo.touched) != 0 {
		t.Error("error records do not count as reuse")
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserts = %d, want exactly 1", len(repo.upserted))
	}
	if repo.upserted[0].IsError {
		t.Error("fresh success should replace the error state")
	}
}

func TestSubmitTurn_NewChat(t *testing.T) {
	repo := &fakeRepo{}
	reasoner, store, search := semanticFixtures()
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "first question", Owner: "alice"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if result.ChatID != result.TurnID {
		t.Errorf("a new chat is identified by its first turn: chat %q, turn %q", result.ChatID, result.TurnID)
	}
	if result.Strategy != StrategySemantic {
		t.Errorf("Strategy = %q, want %q", result.Strategy, StrategySemantic)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserts = %d, want exactly 1", len(repo.upserted))
	}
	persisted := repo.upserted[0]
	if persisted.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", persisted.RetryCount)
	}
	if persisted.Evidence == nil || persisted.Evidence.Strategy != StrategySemantic {
		t.Errorf("Evidence = %+v", persisted.Evidence)
	}
}

func TestSubmitTurn_ContinuedChatCarriesHistory(t *testing.T) {
	prior := "earlier answer"
	repo := &fakeRepo{byChat: []*Turn{
		{PublicID: "turn_firstfirstfirs1", Query: "earlier question", Response: &prior},
	}}
	reasoner, store, search := semanticFixtures()
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{
		Query:  "follow up",
		Owner:  "alice",
		ChatID: "turn_firstfirstfirs1",
	})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if result.ChatID != "turn_firstfirstfirs1" {
		t.Errorf("ChatID = %q, want the continued chat", result.ChatID)
	}
	if len(reasoner.lastHistory) != 3 {
		t.Fatalf("history length = %d, want prior exchange plus current question", len(reasoner.lastHistory))
	}
	if reasoner.lastHistory[1].Role != RoleAssistant || reasoner.lastHistory[1].Content != prior {
		t.Errorf("history[1] = %+v", reasoner.lastHistory[1])
	}
	if reasoner.lastHistory[2].Content != "follow up" {
		t.Errorf("history[2] = %+v", reasoner.lastHistory[2])
	}
}

func TestSubmitTurn_RetriesThenSucceeds(t *testing.T) {
	repo := &fakeRepo{}
	reasoner, store, search := semanticFixtures()
	flaky := errors.New("model overloaded")
	reasoner.synthErrs = []error{flaky, flaky, nil}
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "eventually works", Owner: "alice"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if result.Answer != "the answer" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserts = %d, want exactly 1", len(repo.upserted))
	}
	if repo.upserted[0].RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", repo.upserted[0].RetryCount)
	}
}

func TestSubmitTurn_ExhaustionPersistsSingleErrorRow(t *testing.T) {
	repo := &fakeRepo{}
	reasoner, store, search := semanticFixtures()
	broken := errors.New("model overloaded")
	reasoner.synthErrs = []error{broken, broken, broken}
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "never works", Owner: "alice"})
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeSynthesis) {
		t.Fatalf("SubmitTurn() error = %v, want synthesis failure", err)
	}
	if result == nil {
		t.Fatal("result must carry the persisted IDs alongside the error")
	}
	if result.TurnID == "" || result.ChatID == "" {
		t.Errorf("result IDs missing: %+v", result)
	}

	if len(repo.upserted) != 1 {
		t.Fatalf("upserts = %d, want exactly 1", len(repo.upserted))
	}
	persisted := repo.upserted[0]
	if !persisted.IsError {
		t.Error("exhausted turn must persist as an error record")
	}
	if persisted.ErrorKind != ErrorKindOther {
		t.Errorf("ErrorKind = %q, want %q", persisted.ErrorKind, ErrorKindOther)
	}
	if persisted.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", persisted.RetryCount)
	}
	if persisted.Response != nil {
		t.Error("error records carry no response")
	}
}

func TestSubmitTurn_RetrievalFailureClassification(t *testing.T) {
	repo := &fakeRepo{}
	reasoner := &fakeReasoner{
		route: RouteStructured,
		plan:  &QueryPlan{Collection: "threads", Stages: []map[string]any{{"$count": "n"}}},
	}
	store := &fakeStore{err: platformerrors.NewError(context.Background(),
		platformerrors.LayerInfrastructure, platformerrors.ErrorTypeRetrieval,
		"document store request failed", nil, "11111111-1111-1111-1111-111111111111")}
	svc := newTestService(repo, reasoner, store, &fakeSearch{})

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "how many threads", Owner: "alice"})
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeRetrieval) {
		t.Fatalf("SubmitTurn() error = %v, want retrieval failure", err)
	}
	if result == nil {
		t.Fatal("result must carry the persisted IDs alongside the error")
	}

	if len(repo.upserted) != 1 {
		t.Fatalf("upserts = %d, want exactly 1", len(repo.upserted))
	}
	if repo.upserted[0].ErrorKind != ErrorKindRetrieval {
		t.Errorf("ErrorKind = %q, want %q", repo.upserted[0].ErrorKind, ErrorKindRetrieval)
	}
}

func TestSubmitTurn_ConcurrentWinnerSurvives(t *testing.T) {
	winner := "someone else's answer"
	repo := &fakeRepo{upsertResult: &Turn{
		PublicID:     "turn_winnerwinnerwi1",
		ChatPublicID: "turn_winnerwinnerwi1",
		Response:     &winner,
		StrategyUsed: StrategyStructured,
	}}
	reasoner, store, search := semanticFixtures()
	svc := newTestService(repo, reasoner, store, search)

	result, err := svc.SubmitTurn(context.Background(), SubmitInput{Query: "raced question", Owner: "alice"})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if result.TurnID != "turn_winnerwinnerwi1" {
		t.Errorf("TurnID = %q, want the surviving row's ID", result.TurnID)
	}
	if result.Answer != winner {
		t.Errorf("Answer = %q, want the surviving row's answer", result.Answer)
	}
}

// ===============================================
// Votes
// ===============================================

func TestVote(t *testing.T) {
	tests := []struct {
		name        string
		turnID      string
		voter       string
		value       int
		voteMatched bool
		wantType    platformerrors.ErrorType
		wantCalls   int
	}{
		{name: "upvote", turnID: "turn_a3f8d2k9p1m4n7q2", voter: "alice", value: 1, voteMatched: true, wantCalls: 1},
		{name: "clear vote", turnID: "turn_a3f8d2k9p1m4n7q2", voter: "alice", value: 0, voteMatched: true, wantCalls: 1},
		{name: "value out of range", turnID: "turn_a3f8d2k9p1m4n7q2", voter: "alice", value: 2, wantType: platformerrors.ErrorTypeValidation},
		{name: "empty voter", turnID: "turn_a3f8d2k9p1m4n7q2", voter: "", value: 1, wantType: platformerrors.ErrorTypeValidation},
		{name: "malformed turn id", turnID: "not-a-turn", voter: "alice", value: 1, wantType: platformerrors.ErrorTypeNotFound},
		{name: "unknown turn", turnID: "turn_a3f8d2k9p1m4n7q2", voter: "alice", value: 1, voteMatched: false, wantType: platformerrors.ErrorTypeNotFound, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{voteMatched: tt.voteMatched}
			svc := newTestService(repo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})

			err := svc.Vote(context.Background(), tt.turnID, tt.voter, tt.value)
			if tt.wantType != "" {
				if !platformerrors.IsErrorType(err, tt.wantType) {
					t.Errorf("Vote() error = %v, want %s", err, tt.wantType)
				}
			} else if err != nil {
				t.Errorf("Vote() error = %v", err)
			}
			if len(repo.votes) != tt.wantCalls {
				t.Errorf("SetVote calls = %d, want %d", len(repo.votes), tt.wantCalls)
			}
		})
	}
}

// ===============================================
// Reads
// ===============================================

func TestGetChat(t *testing.T) {
	repo := &fakeRepo{byChat: []*Turn{
		{PublicID: "turn_firstfirstfirs1", ChatPublicID: "turn_firstfirstfirs1", Owner: "alice", Query: "q1", Votes: map[string]int{"bob": -1}},
		{PublicID: "turn_secondsecondse1", ChatPublicID: "turn_firstfirstfirs1", Owner: "alice", Query: "q2"},
	}}
	svc := newTestService(repo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})

	t.Run("owner", func(t *testing.T) {
		view, err := svc.GetChat(context.Background(), "turn_firstfirstfirs1", "alice")
		if err != nil {
			t.Fatalf("GetChat() error = %v", err)
		}
		if !view.IsOwner {
			t.Error("IsOwner = false, want true")
		}
		if len(view.Turns) != 2 {
			t.Errorf("Turns = %d, want 2", len(view.Turns))
		}
	})

	t.Run("other reader sees own vote", func(t *testing.T) {
		view, err := svc.GetChat(context.Background(), "turn_firstfirstfirs1", "bob")
		if err != nil {
			t.Fatalf("GetChat() error = %v", err)
		}
		if view.IsOwner {
			t.Error("IsOwner = true, want false")
		}
		if view.Turns[0].UserVote != -1 {
			t.Errorf("UserVote = %d, want -1", view.Turns[0].UserVote)
		}
	})

	t.Run("empty chat is not found", func(t *testing.T) {
		emptyRepo := &fakeRepo{}
		emptySvc := newTestService(emptyRepo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})
		_, err := emptySvc.GetChat(context.Background(), "turn_firstfirstfirs1", "alice")
		if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
			t.Errorf("GetChat() error = %v, want not found", err)
		}
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		_, err := svc.GetChat(context.Background(), "nope", "alice")
		if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
			t.Errorf("GetChat() error = %v, want not found", err)
		}
	})
}

func TestListChats(t *testing.T) {
	repo := &fakeRepo{previews: []*ChatPreview{
		{ChatPublicID: "turn_newestnewestne1", Query: "newest"},
		{ChatPublicID: "turn_oldestoldestol1", Query: "oldest"},
	}}
	svc := newTestService(repo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})

	t.Run("returns a page", func(t *testing.T) {
		previews, err := svc.ListChats(context.Background(), "alice", 2)
		if err != nil {
			t.Fatalf("ListChats() error = %v", err)
		}
		if len(previews) != 2 {
			t.Errorf("previews = %d, want 2", len(previews))
		}
		if repo.gotPage != 2 || repo.gotOwner != "alice" {
			t.Errorf("repo called with owner=%q page=%d", repo.gotOwner, repo.gotPage)
		}
	})

	t.Run("negative page clamps to zero", func(t *testing.T) {
		if _, err := svc.ListChats(context.Background(), "alice", -4); err != nil {
			t.Fatalf("ListChats() error = %v", err)
		}
		if repo.gotPage != 0 {
			t.Errorf("page = %d, want 0", repo.gotPage)
		}
	})

	t.Run("empty owner is invalid", func(t *testing.T) {
		_, err := svc.ListChats(context.Background(), "", 0)
		if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation) {
			t.Errorf("ListChats() error = %v, want validation error", err)
		}
	})
}

// ===============================================
// Delete
// ===============================================

func TestDeleteChat(t *testing.T) {
	tests := []struct {
		name     string
		chatID   string
		affected int64
		wantErr  bool
	}{
		{name: "owner deletes own chat", chatID: "turn_firstfirstfirs1", affected: 2},
		{name: "unknown chat", chatID: "turn_firstfirstfirs1", affected: 0, wantErr: true},
		{name: "malformed id", chatID: "whatever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{softDeleted: tt.affected}
			svc := newTestService(repo, &fakeReasoner{}, &fakeStore{}, &fakeSearch{})

			err := svc.DeleteChat(context.Background(), tt.chatID, "alice")
			if tt.wantErr {
				if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
					t.Errorf("DeleteChat() error = %v, want not found", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeleteChat() error = %v", err)
			}
			if repo.gotDeleteChat != tt.chatID || repo.gotDeleteOwner != "alice" {
				t.Errorf("repo called with chat=%q owner=%q", repo.gotDeleteChat, repo.gotDeleteOwner)
			}
		})
	}
}
