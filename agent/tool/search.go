package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	llmx "github.com/tanpawarit/voice-agent-orchestrator/agent/llm"
)

const NameSearch = "search"

const searchInstructions = "You answer questions asked during a phone call. Reply in at most three short sentences that read well aloud. Say so when you are unsure."

type SearchArgs struct {
	Query string `json:"query" jsonschema:"the question to answer"`
}

type SearchResult struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
}

type Search struct {
	spec      argSpec
	activity  *activity
	chatModel model.BaseChatModel
	model     llmx.Model
	limiter   *rate.Limiter
}

var _ contractx.Agent = (*Search)(nil)

// NewSearch answers queries with a chat model, allowing at most perMinute
// requests per minute. A non-positive perMinute disables the limit.
func NewSearch(chatModel model.BaseChatModel, m llmx.Model, perMinute int) *Search {
	limit, burst := rate.Inf, 0
	if perMinute > 0 {
		limit, burst = rate.Limit(float64(perMinute)/60.0), perMinute
	}
	return &Search{
		spec:      mustArgSpec[SearchArgs](nil),
		activity:  newActivity(),
		chatModel: chatModel,
		model:     m,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

func (s *Search) Name() string { return NameSearch }

func (s *Search) Description() string {
	return "Answers general knowledge questions with a language model."
}

func (s *Search) ParametersSchema() json.RawMessage { return s.spec.raw }

func (s *Search) ContextInfo() string { return s.activity.get() }

func (s *Search) HandleTask(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decodeArgs[SearchArgs](s.spec, args)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", contractx.ErrValidation)
	}
	if s.chatModel == nil {
		return nil, errors.New("search model is not configured")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.activity.set("Search rate limited.")
		return nil, fmt.Errorf("search rate limit: %w", err)
	}

	opts := []model.Option{model.WithTemperature(float32(s.model.Temperature))}
	if s.model.Name != "" {
		opts = append(opts, model.WithModel(s.model.Name))
	}
	if s.model.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(int(s.model.MaxTokens)))
	}

	msg, err := s.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(searchInstructions),
		schema.UserMessage(query),
	}, opts...)
	if err != nil {
		s.activity.set("Search failed for %q.", query)
		return nil, fmt.Errorf("search completion: %w", err)
	}
	if msg == nil {
		return nil, errors.New("search completion returned no message")
	}

	answer := strings.TrimSpace(msg.Content)
	s.activity.set("Answered %q.", query)
	return SearchResult{Answer: answer, Model: s.model.Name}, nil
}
