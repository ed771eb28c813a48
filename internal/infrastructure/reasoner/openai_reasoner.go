package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"threadwise/query-api/internal/config"
	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/metrics"
	"threadwise/query-api/internal/infrastructure/observability"
	"threadwise/query-api/internal/utils/jsonfix"
	"threadwise/query-api/internal/utils/platformerrors"
	"threadwise/query-api/internal/utils/stringutils"
)

// snippetWordCap bounds how much of a thread body is rendered into the
// synthesis prompt.
const snippetWordCap = 500

// OpenAIReasoner implements turn.Reasoner on an OpenAI-compatible chat
// completion API. Plan and route responses go through the forgiving JSON
// repair before a strict decode; output that stays unparseable is an error,
// never a guessed plan.
type OpenAIReasoner struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	serviceName string
}

var _ turn.Reasoner = (*OpenAIReasoner)(nil)

func NewOpenAIReasoner(cfg *config.Config) *OpenAIReasoner {
	clientConfig := openai.DefaultConfig(cfg.ReasonerAPIKey)
	if cfg.ReasonerBaseURL != "" {
		clientConfig.BaseURL = cfg.ReasonerBaseURL
	}
	return &OpenAIReasoner{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.ReasonerModel,
		temperature: cfg.ReasonerTemperature,
		timeout:     cfg.ReasonerTimeout,
		serviceName: cfg.ServiceName,
	}
}

// Route implements turn.Reasoner.
func (r *OpenAIReasoner) Route(ctx context.Context, history []turn.Message) (turn.RouteDecision, error) {
	ctx, span := observability.StartSpan(ctx, r.serviceName, "reasoner.Route")
	defer span.End()

	content, err := r.complete(ctx, "route", routeSystemPrompt, history, true)
	if err != nil {
		return "", err
	}

	var payload struct {
		Strategy string `json:"strategy"`
	}
	if err := jsonfix.Decode(content, &payload); err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal, "route response unparseable", err,
			"48d1c7f2-90ab-4e35-b682-f59e03a2d714")
	}

	if payload.Strategy == string(turn.RouteStructured) {
		return turn.RouteStructured, nil
	}
	return turn.RouteSemantic, nil
}

// Plan implements turn.Reasoner. A null pipeline in the response is the
// model declining to plan, reported as a nil plan rather than an error.
func (r *OpenAIReasoner) Plan(ctx context.Context, history []turn.Message) (*turn.QueryPlan, error) {
	ctx, span := observability.StartSpan(ctx, r.serviceName, "reasoner.Plan")
	defer span.End()

	content, err := r.complete(ctx, "plan", planSystemPrompt, history, true)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Pipeline   []map[string]any `json:"pipeline"`
		Collection string           `json:"collection_name"`
		Reason     string           `json:"reason"`
	}
	if err := jsonfix.Decode(content, &payload); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal, "plan response unparseable", err,
			"b06f52e8-3d17-4a94-8c20-671de4c9f3a5")
	}

	if len(payload.Pipeline) == 0 {
		return nil, nil
	}

	collection := payload.Collection
	if collection == "" {
		collection = "threads"
	}

	return &turn.QueryPlan{
		Collection: collection,
		Stages:     payload.Pipeline,
		Rationale:  payload.Reason,
	}, nil
}

// Synthesize implements turn.Reasoner.
func (r *OpenAIReasoner) Synthesize(ctx context.Context, history []turn.Message, evidence *turn.Evidence) (string, error) {
	ctx, span := observability.StartSpan(ctx, r.serviceName, "reasoner.Synthesize")
	defer span.End()

	rendered, err := renderEvidence(evidence)
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeInternal, "failed to render evidence", err,
			"72c4a9e0-586d-4fb1-b3d8-09e17f28c643")
	}

	withEvidence := make([]turn.Message, 0, len(history)+1)
	withEvidence = append(withEvidence, history...)
	withEvidence = append(withEvidence, turn.Message{Role: turn.RoleUser, Content: rendered})

	return r.complete(ctx, "synthesize", answerSystemPrompt, withEvidence, false)
}

func (r *OpenAIReasoner) complete(ctx context.Context, operation, system string, history []turn.Message, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == turn.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
		req.TopP = 0.2
	}

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, req)
	metrics.RecordBackendCall("reasoner", operation, err == nil, time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(ctx, err)
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal, fmt.Sprintf("reasoner %s call failed", operation), err,
			"3e80b5d7-c942-4f16-a3d0-85f21c697b04")
	}
	if len(resp.Choices) == 0 {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeExternal, fmt.Sprintf("reasoner %s returned no choices", operation), nil,
			"9fa2d631-07c8-4b5e-9d46-e30c82f715a9")
	}

	return resp.Choices[0].Message.Content, nil
}

// renderEvidence turns retrieval output into the evidence block appended to
// the conversation before synthesis.
func renderEvidence(evidence *turn.Evidence) (string, error) {
	var sb strings.Builder

	switch {
	case evidence == nil:
		sb.WriteString("No evidence was retrieved for this question.")
	case evidence.Strategy == turn.StrategyStructured:
		sb.WriteString("Evidence from a database aggregation over the forum archive:\n")
		data, err := json.MarshalIndent(evidence.Rows, "", "  ")
		if err != nil {
			return "", err
		}
		sb.Write(data)
	default:
		if len(evidence.Matches) == 0 {
			sb.WriteString("No similar past discussions were found for this question.")
			break
		}
		sb.WriteString("Evidence from similar past discussions:\n")
		for _, m := range evidence.Matches {
			sb.WriteString(fmt.Sprintf("\n- title: %s\n", m.Title))
			if m.Score != nil {
				sb.WriteString(fmt.Sprintf("  relevance: %.3f\n", *m.Score))
			}
			if m.Upvotes != nil {
				sb.WriteString(fmt.Sprintf("  upvotes: %d\n", *m.Upvotes))
			}
			if m.Permalink != nil {
				sb.WriteString(fmt.Sprintf("  permalink: %s\n", *m.Permalink))
			}
			if m.Snippet != "" {
				sb.WriteString(fmt.Sprintf("  body: %s\n", stringutils.TruncateWords(m.Snippet, snippetWordCap)))
			}
		}
	}

	sb.WriteString("\n\nAnswer the user's latest question using this evidence.")
	return sb.String(), nil
}
